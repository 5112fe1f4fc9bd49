// Package room runs a room: it admits players, tracks who is ready, pairs
// ready players into matches and keeps the room's win tallies.
package room

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hersh/gotris-rooms/internal/match"
	"github.com/hersh/gotris-rooms/internal/player"
	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/registry"
	"github.com/hersh/gotris-rooms/internal/stats"
	"github.com/hersh/gotris-rooms/internal/transport"
)

// ErrRoomClosed is returned once the admin has left and the room is gone.
var ErrRoomClosed = errors.New("room: closed by admin")

const (
	DefaultReadTimeout      = time.Second
	DefaultHandshakeTimeout = time.Minute
	DefaultCallTimeout      = 5 * time.Second
)

// Config describes one room. Address is the advertised host:port players
// dial and the key the registry tracks the player count under.
type Config struct {
	Name         string
	Admin        string
	Address      string
	InnerAddress string
	Default      bool
	MinAPM       int
	MaxAPM       int
	Private      bool

	Network       string
	MatchHost     string
	MatchBasePort int
	Transport     transport.Options

	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	Match            match.Config
}

func (c Config) withDefaults() Config {
	if c.Network == "" {
		c.Network = transport.NetworkTCP
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Match.ReadTimeout <= 0 {
		c.Match.ReadTimeout = c.ReadTimeout
	}
	return c
}

// Snapshot is a copy of the room's state at one point in the event loop.
type Snapshot struct {
	Players []player.Player
	Ready   protocol.ReadyList
	Tally   protocol.WinTally
	Matches int
}

type inbound struct {
	name   string
	connID string
	frame  transport.Frame
}

type departure struct {
	name   string
	connID string
	err    error
}

type joinRequest struct {
	name  string
	conn  transport.Conn
	reply chan error
}

// Coordinator is the room's single owner. Every roster change happens on the
// goroutine running Run; everything else talks to it over channels.
type Coordinator struct {
	cfg   Config
	ln    transport.Listener
	ports *match.PortAllocator
	reg   registry.Registry
	rep   stats.Reporter
	log   *zap.SugaredLogger

	// Owned by the Run goroutine.
	roster   *player.Roster
	sessions map[string]*session
	matches  map[string]*match.Relay

	joins     chan joinRequest
	declines  chan string
	frames    chan inbound
	gone      chan departure
	outcomes  chan match.Outcome
	snapshots chan chan Snapshot
	stopped   chan struct{}

	removeOnce sync.Once
	pumps      sync.WaitGroup // write pumps
	conns      sync.WaitGroup // accept loop, handshakes and read pumps
	relays     sync.WaitGroup
	calls      sync.WaitGroup // registry and stats calls

	matchCtx context.Context
}

func New(cfg Config, ln transport.Listener, reg registry.Registry, rep stats.Reporter, log *zap.SugaredLogger) *Coordinator {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		cfg.Address = ln.Addr().String()
	}
	if cfg.MatchHost == "" {
		cfg.MatchHost, _, _ = net.SplitHostPort(ln.Addr().String())
	}
	if reg == nil {
		reg = registry.Nop{Log: log}
	}
	if rep == nil {
		rep = stats.Nop{}
	}

	return &Coordinator{
		cfg:       cfg,
		ln:        ln,
		ports:     match.NewPortAllocator(cfg.Network, cfg.MatchHost, cfg.MatchBasePort, cfg.Transport),
		reg:       reg,
		rep:       rep,
		log:       log.With("room", cfg.Name),
		roster:    player.NewRoster(),
		sessions:  make(map[string]*session),
		matches:   make(map[string]*match.Relay),
		joins:     make(chan joinRequest),
		declines:  make(chan string),
		frames:    make(chan inbound),
		gone:      make(chan departure),
		outcomes:  make(chan match.Outcome),
		snapshots: make(chan chan Snapshot),
		stopped:   make(chan struct{}),
		matchCtx:  context.Background(),
	}
}

// MatchBasePort is the first match port for a room listening on addr: two
// above the room port, or zero when the room port was picked by the OS.
func MatchBasePort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(p)
	if err != nil || port == 0 {
		return 0
	}
	return port + 2
}

func (c *Coordinator) Addr() net.Addr { return c.ln.Addr() }

// Snapshot asks the event loop for a copy of the room's state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.snapshots <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-c.stopped:
		return Snapshot{}, ErrRoomClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run processes room events one at a time until ctx is done or the admin
// leaves.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reply := <-c.snapshots:
			reply <- c.snapshot()

		case req := <-c.joins:
			req.reply <- c.register(req.name, req.conn)

		case name := <-c.declines:
			c.broadcast(protocol.Declined(name), "")

		case in := <-c.frames:
			if err := c.handleFrame(in); err != nil {
				return err
			}

		case d := <-c.gone:
			if p, ok := c.roster.Get(d.name); ok && p.ConnID == d.connID {
				c.log.Infow("connection lost", "player", d.name, "err", d.err)
				if err := c.HandleDisconnect(d.name); err != nil {
					return err
				}
			}

		case out := <-c.outcomes:
			if err := c.handleOutcome(out); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Players: c.roster.Players(),
		Ready:   c.roster.ReadyNames(),
		Tally:   c.roster.Tally(),
		Matches: len(c.matches),
	}
}

// --- Roster events ---

func (c *Coordinator) register(name string, conn transport.Conn) error {
	if _, err := c.roster.Add(name, conn.ID()); err != nil {
		return err
	}
	s := newSession(name, conn, c.log)
	c.sessions[name] = s
	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		s.writePump()
	}()

	c.log.Infow("player joined", "player", name, "remote", conn.RemoteAddr(), "players", c.roster.Count())
	c.broadcast(protocol.Entered(name), "")
	c.publishCount()
	return nil
}

func (c *Coordinator) handleFrame(in inbound) error {
	p, ok := c.roster.Get(in.name)
	if !ok || p.ConnID != in.connID {
		return nil
	}
	if in.frame.Kind != protocol.KindText {
		c.log.Debugw("ignoring non-text room frame", "player", in.name, "kind", in.frame.Kind)
		return nil
	}

	sig := protocol.ParseSignal(in.frame.Text())
	if sig.Type == protocol.SignalDisconnect {
		return c.HandleDisconnect(in.name)
	}
	if p.InMatch {
		return nil
	}

	switch sig.Type {
	case protocol.SignalReady:
		// The registered name wins over whatever the client put after the %.
		ready, err := c.roster.ToggleReady(in.name)
		if err != nil {
			return nil
		}
		c.log.Debugw("ready toggled", "player", in.name, "ready", ready)
		c.broadcast(protocol.Ready(in.name), "")
		for c.roster.ReadyCount() >= 2 {
			c.startMatch()
		}
	case protocol.SignalChat:
		c.broadcast(sig.Text, in.name)
	default:
		// Server signals are never relayed from players.
		c.log.Debugw("dropping signal from player", "player", in.name, "text", sig.Text)
	}
	return nil
}

// HandleDisconnect removes a player from the roster, the ready set and the
// tally, closes their connection and tells the room. It returns
// ErrRoomClosed when the player was the admin.
func (c *Coordinator) HandleDisconnect(name string) error {
	p, ok := c.roster.Remove(name)
	if !ok {
		return nil
	}
	if p.InMatch {
		c.dropFromMatch(name)
	}
	if s, ok := c.sessions[name]; ok {
		delete(c.sessions, name)
		s.close()
	}
	c.log.Infow("player left", "player", name, "players", c.roster.Count())

	if name == c.cfg.Admin {
		c.teardown()
		return ErrRoomClosed
	}
	c.broadcast(protocol.Departed(name), "")
	c.publishCount()
	return nil
}

// teardown tells everyone the room is closed, drops them and deregisters.
func (c *Coordinator) teardown() {
	c.log.Infow("closing room", "players", c.roster.Count())
	for name, s := range c.sessions {
		s.sendText(protocol.SigClosed)
		s.close()
		c.roster.Remove(name)
		delete(c.sessions, name)
	}
	c.removeRoom()
}

// broadcast queues text for every roster member except skip, in-match
// players included.
func (c *Coordinator) broadcast(text, skip string) {
	for name, s := range c.sessions {
		if name == skip {
			continue
		}
		s.sendText(text)
	}
}

// --- Matches ---

func (c *Coordinator) startMatch() {
	pair, ok := c.roster.TakeReadyPair()
	if !ok {
		return
	}

	ln, port, err := c.ports.Listen()
	if err != nil {
		c.log.Errorw("cannot open match port", "players", pair, "err", err)
		for _, name := range pair {
			c.roster.Release(name)
			c.broadcast(protocol.Ready(name), "")
		}
		return
	}

	seed := rand.Int63()
	relay := match.New(uuid.NewString(), pair, seed, ln, c.cfg.Match, c.log)
	c.matches[relay.ID()] = relay
	for _, name := range pair {
		c.sessions[name].sendText(protocol.Started(seed, port))
	}
	c.log.Infow("match started", "match_id", relay.ID(), "players", pair, "port", port)

	c.relays.Add(1)
	go func() {
		defer c.relays.Done()
		out := relay.Run(c.matchCtx)
		select {
		case c.outcomes <- out:
		case <-c.stopped:
		}
	}()
}

// dropFromMatch aborts the relay name is playing in, joined or not.
func (c *Coordinator) dropFromMatch(name string) {
	for _, relay := range c.matches {
		if p := relay.Players(); p[0] == name || p[1] == name {
			relay.Drop(name)
			return
		}
	}
}

func (c *Coordinator) handleOutcome(out match.Outcome) error {
	delete(c.matches, out.MatchID)

	switch out.State {
	case match.StateFinished:
		if wins, err := c.roster.AddWin(out.Winner); err == nil {
			c.log.Infow("match won", "match_id", out.MatchID, "winner", out.Winner, "wins", wins)
		}
		c.broadcast(protocol.Win(out.Winner), "")
		for _, name := range out.Players {
			c.recordGame(name, name == out.Winner)
			c.roster.Release(name)
		}

	case match.StateAborted:
		c.log.Infow("match aborted", "match_id", out.MatchID, "vanished", out.Vanished)
		for _, name := range out.Vanished {
			if err := c.HandleDisconnect(name); err != nil {
				return err
			}
		}
		for _, name := range out.Players {
			c.roster.Release(name)
		}
	}
	return nil
}

// --- Registry and stats, off the event loop ---

func (c *Coordinator) background(op string, fn func(ctx context.Context) error) {
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.log.Warnw(op+" failed", "err", err)
		}
	}()
}

func (c *Coordinator) descriptor() registry.Descriptor {
	return registry.Descriptor{
		Type:         registry.TypeRoom,
		Name:         c.cfg.Name,
		Address:      c.cfg.Address,
		InnerAddress: c.cfg.InnerAddress,
		Admin:        c.cfg.Admin,
		Default:      c.cfg.Default,
		MinAPM:       c.cfg.MinAPM,
		MaxAPM:       c.cfg.MaxAPM,
		Private:      c.cfg.Private,
		PlayerNum:    c.roster.Count(),
	}
}

func (c *Coordinator) publish() {
	d := c.descriptor()
	c.background("create room", func(ctx context.Context) error {
		return c.reg.CreateRoom(ctx, d)
	})
}

func (c *Coordinator) publishCount() {
	count := c.roster.Count()
	c.background("update player num", func(ctx context.Context) error {
		return c.reg.UpdatePlayerNum(ctx, c.cfg.Address, count)
	})
}

func (c *Coordinator) recordGame(name string, won bool) {
	c.background("add game", func(ctx context.Context) error {
		return c.rep.AddGame(ctx, name, won)
	})
}

// removeRoom deregisters the room at most once per coordinator.
func (c *Coordinator) removeRoom() {
	c.removeOnce.Do(func() {
		c.background("remove room", func(ctx context.Context) error {
			return c.reg.RemoveRoom(ctx, c.cfg.Name)
		})
	})
}
