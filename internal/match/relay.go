// Package match runs one two-player match: it collects both participants on
// a dedicated port, forwards each side's latest board state to the other and
// decides the outcome.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/transport"
)

const (
	DefaultJoinTimeout  = 30 * time.Second
	DefaultReadTimeout  = time.Second
	DefaultSettleWindow = 250 * time.Millisecond
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is what the room learns when a relay ends. Winner is only set for
// StateFinished; Vanished is only set for StateAborted.
type Outcome struct {
	MatchID  string
	Port     int
	Players  [2]string
	State    State
	Winner   string
	Vanished []string
}

// Loser returns the participant who did not win a finished match.
func (o Outcome) Loser() string {
	switch o.Winner {
	case o.Players[0]:
		return o.Players[1]
	case o.Players[1]:
		return o.Players[0]
	}
	return ""
}

type Config struct {
	JoinTimeout  time.Duration
	ReadTimeout  time.Duration
	SettleWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = DefaultSettleWindow
	}
	return c
}

// Relay owns a match listener and, once they join, both match connections.
type Relay struct {
	id      string
	players [2]string
	seed    int64
	ln      transport.Listener
	port    int
	cfg     Config
	log     *zap.SugaredLogger
	drops   chan string

	mu    sync.Mutex
	state State
}

func New(id string, players [2]string, seed int64, ln transport.Listener, cfg Config, log *zap.SugaredLogger) *Relay {
	port := ListenerPort(ln)
	return &Relay{
		id:      id,
		players: players,
		seed:    seed,
		ln:      ln,
		port:    port,
		cfg:     cfg.withDefaults(),
		log:     log.With("match_id", id, "port", port),
		drops:   make(chan string, 2),
		state:   StateStarting,
	}
}

func (r *Relay) ID() string         { return r.id }
func (r *Relay) Port() int          { return r.port }
func (r *Relay) Seed() int64        { return r.seed }
func (r *Relay) Players() [2]string { return r.players }

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Drop reports that a participant left the room. The match aborts with
// them vanished whether or not they had joined it yet.
func (r *Relay) Drop(name string) {
	if r.index(name) < 0 {
		return
	}
	select {
	case r.drops <- name:
	default:
	}
}

func (r *Relay) other(i int) int { return 1 - i }

func (r *Relay) index(name string) int {
	for i, p := range r.players {
		if p == name {
			return i
		}
	}
	return -1
}

// Run drives the match to completion. It always closes the listener and
// every match connection before returning.
func (r *Relay) Run(ctx context.Context) Outcome {
	out := Outcome{MatchID: r.id, Port: r.port, Players: r.players}

	conns, missing := r.collect(ctx)
	r.ln.Close()
	defer func() {
		for _, c := range conns {
			if c != nil {
				c.Close()
			}
		}
	}()

	if ctx.Err() != nil {
		return r.finish(out, StateAborted)
	}
	if len(missing) > 0 {
		r.log.Infow("match abandoned before it started", "vanished", missing)
		out.Vanished = missing
		return r.finish(out, StateAborted)
	}

	// Starting: tell each side who it is playing. Nothing is acknowledged.
	var failed []string
	for i, c := range conns {
		if err := transport.SendText(c, protocol.Opponent(r.players[r.other(i)])); err != nil {
			failed = append(failed, r.players[i])
		}
	}
	if len(failed) > 0 {
		out.Vanished = failed
		return r.finish(out, StateAborted)
	}

	r.setState(StateRunning)
	r.log.Infow("match running", "players", r.players)
	return r.relay(ctx, conns, out)
}

func (r *Relay) finish(out Outcome, s State) Outcome {
	out.State = s
	r.setState(s)
	r.log.Infow("match over", "state", s, "winner", out.Winner, "vanished", out.Vanished)
	return out
}

// --- Starting ---

type joined struct {
	idx  int
	conn transport.Conn
}

// collect accepts match connections until both participants have named
// themselves, the join timeout passes or a participant is dropped. It
// returns the connections by participant index and the names to blame:
// the dropped participant, or those that never arrived.
func (r *Relay) collect(ctx context.Context) ([2]transport.Conn, []string) {
	var conns [2]transport.Conn

	joinCtx, cancel := context.WithTimeout(ctx, r.cfg.JoinTimeout)
	defer cancel()

	var dropped string
	arrivals := make(chan joined)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			c, err := r.ln.Accept(joinCtx)
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.identify(joinCtx, c, arrivals)
			}()
		}
	}()

wait:
	for conns[0] == nil || conns[1] == nil {
		select {
		case j := <-arrivals:
			if conns[j.idx] != nil {
				r.log.Warnw("duplicate match connection", "player", r.players[j.idx])
				j.conn.Close()
				continue
			}
			conns[j.idx] = j.conn
		case name := <-r.drops:
			dropped = name
			break wait
		case <-joinCtx.Done():
			break wait
		}
	}
	cancel()
	wg.Wait()

	if dropped != "" {
		r.log.Infow("participant left before the match started", "player", dropped)
		return conns, []string{dropped}
	}

	var missing []string
	for i, c := range conns {
		if c == nil {
			missing = append(missing, r.players[i])
		}
	}
	return conns, missing
}

// identify reads the username a match connection opens with.
func (r *Relay) identify(ctx context.Context, c transport.Conn, arrivals chan<- joined) {
	for {
		name, err := transport.ReceiveText(c, r.cfg.ReadTimeout)
		if errors.Is(err, transport.ErrTimeout) && ctx.Err() == nil {
			continue
		}
		if err != nil {
			c.Close()
			return
		}
		idx := r.index(name)
		if idx < 0 {
			r.log.Warnw("unexpected match participant", "name", name, "remote", c.RemoteAddr())
			c.Close()
			return
		}
		select {
		case arrivals <- joined{idx: idx, conn: c}:
		case <-ctx.Done():
			c.Close()
		}
		return
	}
}

// --- Running ---

type eventKind int

const (
	eventLoss eventKind = iota
	eventFailure
)

type event struct {
	idx  int
	kind eventKind
	err  error
}

func (r *Relay) relay(ctx context.Context, conns [2]transport.Conn, out Outcome) Outcome {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	boxes := [2]*Mailbox{NewMailbox(), NewMailbox()}
	events := make(chan event, 4)

	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.readLoop(runCtx, i, conns[i], boxes[r.other(i)], events)
		}()
		go func() {
			defer wg.Done()
			r.writeLoop(runCtx, i, conns[i], boxes[i], events)
		}()
	}
	defer func() {
		cancel()
		for _, c := range conns {
			c.Close()
		}
		wg.Wait()
		r.log.Debugw("relay stopped", "dropped", [2]int{boxes[0].Dropped(), boxes[1].Dropped()})
	}()

	select {
	case <-ctx.Done():
		return r.finish(out, StateAborted)
	case name := <-r.drops:
		r.log.Infow("participant left the room", "player", name)
		out.Vanished = []string{name}
		return r.finish(out, StateAborted)
	case ev := <-events:
		if ev.kind == eventLoss {
			out.Winner = r.players[r.other(ev.idx)]
			cancel()
			for _, c := range conns {
				transport.SendText(c, protocol.Win(out.Winner))
			}
			return r.finish(out, StateFinished)
		}

		r.log.Infow("participant vanished", "player", r.players[ev.idx], "err", ev.err)
		out.Vanished = []string{r.players[ev.idx]}
		if r.otherFailed(ev.idx, events) {
			out.Vanished = append(out.Vanished, r.players[r.other(ev.idx)])
		}
		return r.finish(out, StateAborted)
	}
}

// otherFailed waits out the settle window to see whether the other
// participant dropped too.
func (r *Relay) otherFailed(idx int, events <-chan event) bool {
	timer := time.NewTimer(r.cfg.SettleWindow)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.idx != idx && ev.kind == eventFailure {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

func (r *Relay) readLoop(ctx context.Context, idx int, c transport.Conn, peer *Mailbox, events chan<- event) {
	for {
		f, err := c.Receive(r.cfg.ReadTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				events <- event{idx: idx, kind: eventFailure, err: err}
			}
			return
		}

		switch f.Kind {
		case protocol.KindState:
			peer.Put(f.Payload)
		case protocol.KindLoss:
			events <- event{idx: idx, kind: eventLoss}
			return
		default:
			r.log.Debugw("ignoring frame", "player", r.players[idx], "kind", f.Kind)
		}
	}
}

func (r *Relay) writeLoop(ctx context.Context, idx int, c transport.Conn, box *Mailbox, events chan<- event) {
	for {
		blob, err := box.Wait(ctx)
		if err != nil {
			return
		}
		if err := c.Send(transport.StateFrame(blob)); err != nil {
			if ctx.Err() == nil {
				events <- event{idx: idx, kind: eventFailure, err: err}
			}
			return
		}
	}
}
