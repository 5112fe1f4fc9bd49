package tui

import (
	"github.com/hersh/gotris-rooms/internal/netclient"
	"github.com/hersh/gotris-rooms/internal/player"
	"github.com/hersh/gotris-rooms/internal/protocol"
)

// roomView mirrors the room's roster from the signals a player sees. Pairing
// follows the server: the first two ready players go into a match.
type roomView struct {
	roster   *player.Roster
	partners map[string]string
}

func newRoomView(w netclient.Welcome) *roomView {
	v := &roomView{roster: player.NewRoster(), partners: make(map[string]string)}
	for name, wins := range w.Tally {
		v.roster.Add(name, "")
		for range wins {
			v.roster.AddWin(name)
		}
	}
	for _, name := range w.Ready {
		v.roster.ToggleReady(name)
	}
	return v
}

func (v *roomView) apply(sig protocol.Signal) {
	switch sig.Type {
	case protocol.SignalEntered:
		v.roster.Add(sig.Name, "")
	case protocol.SignalDeparted:
		v.endMatch(sig.Name)
		v.roster.Remove(sig.Name)
	case protocol.SignalReady:
		if _, err := v.roster.ToggleReady(sig.Name); err != nil {
			return
		}
		for v.roster.ReadyCount() >= 2 {
			pair, _ := v.roster.TakeReadyPair()
			v.partners[pair[0]] = pair[1]
			v.partners[pair[1]] = pair[0]
		}
	case protocol.SignalWin:
		v.roster.AddWin(sig.Name)
		v.endMatch(sig.Name)
	}
}

func (v *roomView) endMatch(name string) {
	partner, ok := v.partners[name]
	if !ok {
		return
	}
	delete(v.partners, name)
	delete(v.partners, partner)
	v.roster.Release(name)
	v.roster.Release(partner)
}

func (v *roomView) players() []player.Player { return v.roster.Players() }
