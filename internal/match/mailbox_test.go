package match_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hersh/gotris-rooms/internal/match"
)

func TestMailboxKeepsOnlyLatest(t *testing.T) {
	box := match.NewMailbox()

	assert.False(t, box.Put([]byte("1")))
	for _, b := range []string{"2", "3", "4", "5"} {
		assert.True(t, box.Put([]byte(b)))
	}

	blob, ok := box.Take()
	require.True(t, ok)
	assert.Equal(t, "5", string(blob))

	_, ok = box.Take()
	assert.False(t, ok, "one write opportunity yields at most one blob")
	assert.Equal(t, 4, box.Dropped())
}

func TestMailboxWait(t *testing.T) {
	box := match.NewMailbox()

	go func() {
		time.Sleep(20 * time.Millisecond)
		box.Put([]byte("x"))
	}()
	blob, err := box.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", string(blob))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = box.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
