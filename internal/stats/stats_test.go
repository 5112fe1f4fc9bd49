package stats_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hersh/gotris-rooms/internal/stats"
)

type call struct {
	Username string
	Won      bool
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) AddGame(_ context.Context, username string, won bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{username, won})
	return r.err
}

func TestHTTPReporterPostsGame(t *testing.T) {
	var (
		method string
		query  map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		assert.Equal(t, "/users/games", r.URL.Path)
		query = map[string]string{
			"username": r.URL.Query().Get("username"),
			"win":      r.URL.Query().Get("win"),
		}
	}))
	defer srv.Close()

	rep := stats.NewHTTPReporter(srv.URL, time.Second)
	require.NoError(t, rep.AddGame(context.Background(), "alice", true))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, map[string]string{"username": "alice", "win": "true"}, query)
}

func TestHTTPReporterFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	}))
	defer srv.Close()

	err := stats.NewHTTPReporter(srv.URL, time.Second).AddGame(context.Background(), "ghost", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such user")
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	errDown := errors.New("down")
	ok := &recorder{}
	bad := &recorder{err: errDown}

	m := stats.Multi{ok, bad}
	err := m.AddGame(context.Background(), "bob", false)

	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, []call{{"bob", false}}, ok.calls)
	assert.Equal(t, []call{{"bob", false}}, bad.calls)

	assert.NoError(t, stats.Multi{ok}.AddGame(context.Background(), "bob", true))
	assert.NoError(t, stats.Multi{}.AddGame(context.Background(), "bob", true))
}
