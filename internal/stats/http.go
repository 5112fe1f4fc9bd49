package stats

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPReporter posts results to the profile service's /users/games endpoint.
type HTTPReporter struct {
	base   string
	client *http.Client
}

func NewHTTPReporter(baseURL string, timeout time.Duration) *HTTPReporter {
	return &HTTPReporter{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPReporter) AddGame(ctx context.Context, username string, won bool) error {
	q := url.Values{"username": {username}, "win": {strconv.FormatBool(won)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/users/games?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("add game for %s: %w", username, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("add game for %s: %w", username, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("add game for %s: %s: %s", username, resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}
