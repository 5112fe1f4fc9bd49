package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hersh/gotris-rooms/internal/netclient"
	"github.com/hersh/gotris-rooms/internal/player"
	"github.com/hersh/gotris-rooms/internal/protocol"
)

func signal(text string) netclient.ServerMsg {
	return netclient.ServerMsg{Signal: protocol.ParseSignal(text)}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func byName(ps []player.Player) map[string]player.Player {
	out := make(map[string]player.Player, len(ps))
	for _, p := range ps {
		out[p.Name] = p
	}
	return out
}

func TestRoomViewFromWelcome(t *testing.T) {
	v := newRoomView(netclient.Welcome{
		Tally: protocol.WinTally{"alice": 2, "bob": 0},
		Ready: protocol.ReadyList{"bob"},
	})

	ps := byName(v.players())
	assert.Equal(t, 2, ps["alice"].Wins)
	assert.True(t, ps["bob"].Ready)
	assert.False(t, ps["alice"].Ready)
}

func TestRoomViewTracksMatches(t *testing.T) {
	v := newRoomView(netclient.Welcome{Tally: protocol.WinTally{"alice": 0, "bob": 0, "carol": 0}})

	v.apply(protocol.ParseSignal(protocol.Ready("alice")))
	v.apply(protocol.ParseSignal(protocol.Ready("bob")))
	ps := byName(v.players())
	assert.True(t, ps["alice"].InMatch)
	assert.True(t, ps["bob"].InMatch)
	assert.False(t, ps["carol"].InMatch)

	v.apply(protocol.ParseSignal(protocol.Win("bob")))
	ps = byName(v.players())
	assert.Equal(t, 1, ps["bob"].Wins)
	assert.False(t, ps["alice"].InMatch)
	assert.False(t, ps["bob"].InMatch)

	// An aborted match releases the survivor when the other departs.
	v.apply(protocol.ParseSignal(protocol.Ready("carol")))
	v.apply(protocol.ParseSignal(protocol.Ready("alice")))
	v.apply(protocol.ParseSignal(protocol.Departed("carol")))
	ps = byName(v.players())
	assert.NotContains(t, ps, "carol")
	assert.False(t, ps["alice"].InMatch)
}

func TestModelLobbySignals(t *testing.T) {
	m := NewModel("friday", "alice", nil, netclient.Welcome{Tally: protocol.WinTally{"bob": 0}})

	m = update(t, m, signal(protocol.Entered("carol")))
	m = update(t, m, signal("bob: hi"))
	m = update(t, m, signal(protocol.Departed("carol")))

	ps := byName(m.view.players())
	assert.Contains(t, ps, "alice")
	assert.Contains(t, ps, "bob")
	assert.NotContains(t, ps, "carol")
	assert.Contains(t, m.log, "bob: hi")
	assert.Contains(t, m.log, "carol left")

	m = update(t, m, signal(protocol.SigClosed))
	assert.Equal(t, ScreenClosed, m.screen)
	assert.Contains(t, m.View(), "closed")
}

func TestModelStartedJoinsMatch(t *testing.T) {
	m := NewModel("friday", "alice", nil, netclient.Welcome{})

	next, cmd := m.Update(signal(protocol.Started(42, 5000)))
	m = next.(Model)
	assert.Equal(t, ScreenJoining, m.screen)
	assert.Equal(t, int64(42), m.seed)
	assert.Equal(t, 5000, m.port)
	assert.NotNil(t, cmd)

	m = update(t, m, netclient.MatchOverMsg{Winner: "alice"})
	assert.Equal(t, ScreenLobby, m.screen)
}

func TestModelTyping(t *testing.T) {
	m := NewModel("friday", "alice", nil, netclient.Welcome{})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("gg")})
	m = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("wp")})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "gg w", m.input)
}
