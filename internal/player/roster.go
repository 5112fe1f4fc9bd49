// Package player keeps a room's roster: who is connected, who is ready and
// how many matches each player has won in the room.
package player

import (
	"errors"
	"slices"
	"sort"

	"github.com/hersh/gotris-rooms/internal/protocol"
)

var (
	ErrNameTaken  = errors.New("player: name already in the room")
	ErrEmptyName  = errors.New("player: empty name")
	ErrUnknown    = errors.New("player: not in the room")
	ErrInMatch    = errors.New("player: in a match")
	ErrNotInMatch = errors.New("player: not in a match")
)

type Player struct {
	Name    string
	ConnID  string
	Ready   bool
	Wins    int
	InMatch bool
}

// Roster is owned by a single goroutine and is not safe for concurrent use.
// The ready set is kept in the order players became ready.
type Roster struct {
	players map[string]*Player
	ready   []string
}

func NewRoster() *Roster {
	return &Roster{
		players: make(map[string]*Player),
	}
}

func (r *Roster) Add(name, connID string) (Player, error) {
	if name == "" {
		return Player{}, ErrEmptyName
	}
	if _, ok := r.players[name]; ok {
		return Player{}, ErrNameTaken
	}
	p := &Player{Name: name, ConnID: connID}
	r.players[name] = p
	return *p, nil
}

// Remove drops the player from the roster, the ready set and the tally in
// one step.
func (r *Roster) Remove(name string) (Player, bool) {
	p, ok := r.players[name]
	if !ok {
		return Player{}, false
	}
	delete(r.players, name)
	r.unready(name)
	return *p, true
}

func (r *Roster) Get(name string) (Player, bool) {
	p, ok := r.players[name]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

func (r *Roster) Has(name string) bool {
	_, ok := r.players[name]
	return ok
}

func (r *Roster) Count() int {
	return len(r.players)
}

// ToggleReady flips the player's ready flag and returns the new value.
func (r *Roster) ToggleReady(name string) (bool, error) {
	p, ok := r.players[name]
	if !ok {
		return false, ErrUnknown
	}
	if p.InMatch {
		return false, ErrInMatch
	}
	if p.Ready {
		r.unready(name)
		return false, nil
	}
	p.Ready = true
	r.ready = append(r.ready, name)
	return true, nil
}

func (r *Roster) unready(name string) {
	if p, ok := r.players[name]; ok {
		p.Ready = false
	}
	r.ready = slices.DeleteFunc(r.ready, func(n string) bool { return n == name })
}

// ReadyCount returns the size of the ready set.
func (r *Roster) ReadyCount() int {
	return len(r.ready)
}

// ReadyNames returns the ready set in the order players became ready.
func (r *Roster) ReadyNames() protocol.ReadyList {
	return append(protocol.ReadyList{}, r.ready...)
}

// TakeReadyPair removes the two longest-waiting ready players from the ready
// set and marks them in-match. Anyone else who is ready stays ready.
func (r *Roster) TakeReadyPair() ([2]string, bool) {
	if len(r.ready) < 2 {
		return [2]string{}, false
	}
	pair := [2]string{r.ready[0], r.ready[1]}
	for _, name := range pair {
		r.unready(name)
		r.players[name].InMatch = true
	}
	return pair, true
}

// Release returns an in-match player to the idle roster, not ready.
func (r *Roster) Release(name string) error {
	p, ok := r.players[name]
	if !ok {
		return ErrUnknown
	}
	if !p.InMatch {
		return ErrNotInMatch
	}
	p.InMatch = false
	p.Ready = false
	return nil
}

// AddWin increments the player's room tally and returns the new count.
func (r *Roster) AddWin(name string) (int, error) {
	p, ok := r.players[name]
	if !ok {
		return 0, ErrUnknown
	}
	p.Wins++
	return p.Wins, nil
}

// Tally returns every member's wins, in-match players included.
func (r *Roster) Tally() protocol.WinTally {
	t := make(protocol.WinTally, len(r.players))
	for name, p := range r.players {
		t[name] = p.Wins
	}
	return t
}

// Names returns all roster members, sorted.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.players))
	for name := range r.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Players returns a copy of every member, sorted by name.
func (r *Roster) Players() []Player {
	out := make([]Player, 0, len(r.players))
	for _, name := range r.Names() {
		out = append(out, *r.players[name])
	}
	return out
}
