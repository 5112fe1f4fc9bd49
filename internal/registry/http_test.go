package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hersh/gotris-rooms/internal/registry"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]any
}

func profileService(t *testing.T, rooms []registry.Descriptor) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: map[string]string{}}
		for k := range r.URL.Query() {
			rec.Query[k] = r.URL.Query().Get(k)
		}
		if r.Body != nil && r.Header.Get("Content-Type") == "application/json" {
			json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		if r.Method == http.MethodGet && r.URL.Path == "/users/rooms" {
			json.NewEncoder(w).Encode(rooms)
			return
		}
		if r.URL.Path == "/users/rooms/fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("null"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestHTTPClientRoomEndpoints(t *testing.T) {
	srv, requests := profileService(t, nil)
	c := registry.NewHTTPClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	require.NoError(t, c.CreateRoom(ctx, registry.Descriptor{
		Name: "lobby", Address: "10.0.0.1:44444", MinAPM: 10, MaxAPM: 90, Private: true,
	}))
	require.NoError(t, c.UpdatePlayerNum(ctx, "10.0.0.1:44444", 3))
	require.NoError(t, c.RemoveRoom(ctx, "lobby"))

	got := requests()
	require.Len(t, got, 3)

	assert.Equal(t, http.MethodPost, got[0].Method)
	assert.Equal(t, "/users/rooms", got[0].Path)
	assert.Equal(t, "room", got[0].Body["type"])
	assert.Equal(t, "lobby", got[0].Body["name"])
	assert.Equal(t, "10.0.0.1:44444", got[0].Body["ip"])
	assert.Equal(t, true, got[0].Body["private"])
	assert.EqualValues(t, 90, got[0].Body["max_apm"])

	assert.Equal(t, "/users/rooms/player-num", got[1].Path)
	assert.Equal(t, map[string]string{"ip": "10.0.0.1:44444", "player_num": "3"}, got[1].Query)

	assert.Equal(t, "/users/rooms/delete", got[2].Path)
	assert.Equal(t, map[string]string{"room_name": "lobby"}, got[2].Query)
}

func TestHTTPClientGetRooms(t *testing.T) {
	want := []registry.Descriptor{
		{Type: "room", Name: "a", Address: "1.2.3.4:44444", PlayerNum: 2, MaxAPM: 999},
		{Type: "room", Name: "b", Address: "1.2.3.5:44444", Private: true},
	}
	srv, _ := profileService(t, want)

	got, err := registry.NewHTTPClient(srv.URL, time.Second).GetRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPClientReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := registry.NewHTTPClient(srv.URL, time.Second).RemoveRoom(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "db down")
}

func TestNopAcceptsEverything(t *testing.T) {
	var r registry.Registry = registry.Nop{}
	ctx := context.Background()
	assert.NoError(t, r.CreateRoom(ctx, registry.Descriptor{Name: "x"}))
	assert.NoError(t, r.UpdatePlayerNum(ctx, "x", 1))
	assert.NoError(t, r.RemoveRoom(ctx, "x"))
	rooms, err := r.GetRooms(ctx)
	assert.NoError(t, err)
	assert.Empty(t, rooms)
}
