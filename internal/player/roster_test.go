package player_test

import (
	"testing"

	"github.com/hersh/gotris-rooms/internal/player"
	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readySubsetOfRoster fails the test if any ready name is not a member.
func readySubsetOfRoster(t *testing.T, r *player.Roster) {
	t.Helper()
	for _, name := range r.ReadyNames() {
		p, ok := r.Get(name)
		require.True(t, ok, "ready player %q is not in the roster", name)
		assert.True(t, p.Ready)
		assert.False(t, p.InMatch)
	}
}

func TestAddRejectsDuplicateAndEmpty(t *testing.T) {
	r := player.NewRoster()

	_, err := r.Add("alice", "c1")
	require.NoError(t, err)

	_, err = r.Add("alice", "c2")
	assert.ErrorIs(t, err, player.ErrNameTaken)

	_, err = r.Add("", "c3")
	assert.ErrorIs(t, err, player.ErrEmptyName)
	assert.Equal(t, 1, r.Count())
}

func TestRemoveClearsReadyAndTally(t *testing.T) {
	r := player.NewRoster()
	for _, n := range []string{"alice", "bob", "carol"} {
		_, err := r.Add(n, n)
		require.NoError(t, err)
	}
	_, err := r.ToggleReady("alice")
	require.NoError(t, err)
	_, err = r.AddWin("alice")
	require.NoError(t, err)

	removed, ok := r.Remove("alice")
	require.True(t, ok)
	assert.Equal(t, 1, removed.Wins)

	assert.Equal(t, 0, r.ReadyCount())
	assert.NotContains(t, r.Tally(), "alice")
	readySubsetOfRoster(t, r)

	_, ok = r.Remove("alice")
	assert.False(t, ok)
}

func TestReadySetStaysSubsetOfRoster(t *testing.T) {
	steps := []struct {
		op   string
		name string
	}{
		{"add", "alice"}, {"add", "bob"}, {"add", "carol"},
		{"ready", "alice"}, {"ready", "carol"}, {"remove", "carol"},
		{"ready", "bob"}, {"ready", "bob"}, {"add", "dave"},
		{"ready", "dave"}, {"remove", "alice"}, {"ready", "bob"},
		{"pair", ""}, {"remove", "dave"},
	}

	r := player.NewRoster()
	for _, s := range steps {
		switch s.op {
		case "add":
			_, err := r.Add(s.name, s.name)
			require.NoError(t, err)
		case "ready":
			r.ToggleReady(s.name)
		case "remove":
			r.Remove(s.name)
		case "pair":
			r.TakeReadyPair()
		}
		readySubsetOfRoster(t, r)
	}
}

func TestToggleReady(t *testing.T) {
	r := player.NewRoster()
	_, err := r.Add("alice", "c1")
	require.NoError(t, err)

	ready, err := r.ToggleReady("alice")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, protocol.ReadyList{"alice"}, r.ReadyNames())

	ready, err = r.ToggleReady("alice")
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Empty(t, r.ReadyNames())
	assert.NotNil(t, r.ReadyNames())

	_, err = r.ToggleReady("ghost")
	assert.ErrorIs(t, err, player.ErrUnknown)
}

func TestTakeReadyPairKeepsOthersReady(t *testing.T) {
	r := player.NewRoster()
	for _, n := range []string{"alice", "bob", "carol"} {
		_, err := r.Add(n, n)
		require.NoError(t, err)
	}

	_, ok := r.TakeReadyPair()
	assert.False(t, ok)

	for _, n := range []string{"carol", "alice", "bob"} {
		_, err := r.ToggleReady(n)
		require.NoError(t, err)
	}

	pair, ok := r.TakeReadyPair()
	require.True(t, ok)
	assert.Equal(t, [2]string{"carol", "alice"}, pair)
	assert.Equal(t, protocol.ReadyList{"bob"}, r.ReadyNames())

	for _, n := range pair {
		p, _ := r.Get(n)
		assert.True(t, p.InMatch)
		assert.False(t, p.Ready)
	}

	_, err := r.ToggleReady("alice")
	assert.ErrorIs(t, err, player.ErrInMatch)
}

func TestReleaseAndWins(t *testing.T) {
	r := player.NewRoster()
	for _, n := range []string{"alice", "bob"} {
		_, err := r.Add(n, n)
		require.NoError(t, err)
		_, err = r.ToggleReady(n)
		require.NoError(t, err)
	}
	pair, ok := r.TakeReadyPair()
	require.True(t, ok)

	wins, err := r.AddWin("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, wins)

	for _, n := range pair {
		require.NoError(t, r.Release(n))
	}
	assert.ErrorIs(t, r.Release("alice"), player.ErrNotInMatch)
	assert.ErrorIs(t, r.Release("ghost"), player.ErrUnknown)

	assert.Equal(t, protocol.WinTally{"alice": 1, "bob": 0}, r.Tally())
	for _, p := range r.Players() {
		assert.False(t, p.InMatch)
		assert.False(t, p.Ready)
	}
}
