package room_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/hersh/gotris-rooms/internal/netclient"
	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/room"
	"github.com/hersh/gotris-rooms/internal/transport"
)

func TestServeRecoversFromPanic(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)

	// The first ready toggle blows up inside the event loop.
	var panicked atomic.Bool
	explode := zap.Hooks(func(e zapcore.Entry) error {
		if e.Message == "ready toggled" && panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
		return nil
	})
	log := zaptest.NewLogger(t, zaptest.WrapOptions(explode)).Sugar()

	reg := &fakeRegistry{}
	c := room.New(room.Config{Name: "panicky", Admin: "host", ReadTimeout: 50 * time.Millisecond}, ln, reg, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	alice, err := netclient.Dial(ctx, transport.NetworkTCP, ln.Addr().String())
	require.NoError(t, err)
	defer alice.Close()
	_, err = alice.Join(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, alice.Ready())

	// The loop comes back with the same roster and is published again.
	assert.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.created) == 2
	}, wait, 10*time.Millisecond)
	assert.True(t, panicked.Load())

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "alice", snap.Players[0].Name)

	require.NoError(t, alice.Ready())
	waitText(t, alice, protocol.Ready("alice"))
}

func TestMatchBasePort(t *testing.T) {
	assert.Equal(t, 44446, room.MatchBasePort("0.0.0.0:44444"))
	assert.Equal(t, 0, room.MatchBasePort("127.0.0.1:0"))
	assert.Equal(t, 0, room.MatchBasePort("nonsense"))
}
