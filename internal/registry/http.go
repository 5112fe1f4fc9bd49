package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient talks to the profile service's room endpoints.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateRoom(ctx context.Context, d Descriptor) error {
	d.Type = TypeRoom
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode room %q: %w", d.Name, err)
	}
	return c.do(ctx, http.MethodPost, "/users/rooms", nil, body, nil)
}

func (c *HTTPClient) RemoveRoom(ctx context.Context, name string) error {
	q := url.Values{"room_name": {name}}
	return c.do(ctx, http.MethodPost, "/users/rooms/delete", q, nil, nil)
}

func (c *HTTPClient) UpdatePlayerNum(ctx context.Context, addr string, count int) error {
	q := url.Values{"ip": {addr}, "player_num": {strconv.Itoa(count)}}
	return c.do(ctx, http.MethodPost, "/users/rooms/player-num", q, nil, nil)
}

func (c *HTTPClient) GetRooms(ctx context.Context) ([]Descriptor, error) {
	var rooms []Descriptor
	if err := c.do(ctx, http.MethodGet, "/users/rooms", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("registry %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("registry %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("registry %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("registry %s %s: decode: %w", method, path, err)
	}
	return nil
}
