package netclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/transport"
)

const readTimeout = time.Second

var (
	ErrNameTaken = errors.New("netclient: name already in the room")
	ErrNoWelcome = errors.New("netclient: room did not confirm the join")
)

// ServerMsg is a tea.Msg that wraps a text signal from the room.
type ServerMsg struct {
	Signal protocol.Signal
}

// StateMsg carries the opponent's latest board during a match.
type StateMsg struct {
	Blob []byte
}

// OpponentMsg is sent when the match relay names the opponent.
type OpponentMsg struct {
	Name string
}

// MatchOverMsg is sent when the match connection ends.
type MatchOverMsg struct {
	Winner string
	Err    error
}

// DisconnectedMsg is sent when the room connection is lost.
type DisconnectedMsg struct {
	Err error
}

// Welcome is what a room tells a player before they pick a name.
type Welcome struct {
	Tally protocol.WinTally
	Ready protocol.ReadyList
}

// Client is one player's room connection.
type Client struct {
	mu      sync.Mutex
	conn    transport.Conn
	network string
	host    string
	name    string
	program *tea.Program
	done    chan struct{}
	closed  bool
}

// Dial connects to a room at addr over network ("tcp" or "websocket").
func Dial(ctx context.Context, network, addr string) (*Client, error) {
	conn, err := transport.Dial(ctx, network, addr, transport.Options{})
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		network: network,
		host:    dialHost(addr),
		done:    make(chan struct{}),
	}, nil
}

// dialHost is the host match ports are dialed on: addr's host, whether addr
// is host:port or a ws:// URL.
func dialHost(addr string) string {
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (c *Client) Name() string { return c.name }

// Join runs the room handshake under name.
func (c *Client) Join(ctx context.Context, name string) (Welcome, error) {
	var w Welcome
	if err := c.receiveJSON(ctx, &w.Tally); err != nil {
		return w, fmt.Errorf("read wins: %w", err)
	}
	if err := transport.SendText(c.conn, protocol.SigAck); err != nil {
		return w, err
	}
	if err := c.receiveJSON(ctx, &w.Ready); err != nil {
		return w, fmt.Errorf("read ready list: %w", err)
	}
	if err := transport.SendText(c.conn, name); err != nil {
		return w, err
	}

	for {
		sig, err := c.next(ctx)
		if err != nil {
			return w, fmt.Errorf("%w: %v", ErrNoWelcome, err)
		}
		switch {
		case sig.Type == protocol.SignalTaken && sig.Name == name:
			c.Close()
			return w, ErrNameTaken
		case sig.Type == protocol.SignalEntered && sig.Name == name:
			c.name = name
			return w, nil
		}
	}
}

// Decline turns down an invitation to the room and hangs up.
func (c *Client) Decline(ctx context.Context, name string) error {
	defer c.Close()
	var tally protocol.WinTally
	if err := c.receiveJSON(ctx, &tally); err != nil {
		return err
	}
	return transport.SendText(c.conn, protocol.Decline(name))
}

func (c *Client) Ready() error           { return transport.SendText(c.conn, protocol.Ready(c.name)) }
func (c *Client) Say(text string) error  { return transport.SendText(c.conn, text) }
func (c *Client) Chat(text string) error { return c.Say(c.name + ": " + text) }

// Leave tells the room we are going and closes the connection.
func (c *Client) Leave() error {
	err := transport.SendText(c.conn, protocol.SigDisconnect)
	c.Close()
	return err
}

// Next returns the next text signal, skipping other frames. It must not be
// used once Start has been called.
func (c *Client) Next(timeout time.Duration) (protocol.Signal, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.next(ctx)
}

func (c *Client) next(ctx context.Context) (protocol.Signal, error) {
	for {
		f, err := c.receive(ctx)
		if err != nil {
			return protocol.Signal{}, err
		}
		if f.Kind == protocol.KindText {
			return protocol.ParseSignal(f.Text()), nil
		}
	}
}

func (c *Client) receiveJSON(ctx context.Context, v any) error {
	for {
		wait, err := readWait(ctx)
		if err != nil {
			return err
		}
		err = transport.ReceiveJSON(c.conn, wait, v)
		if !errors.Is(err, transport.ErrTimeout) {
			return err
		}
	}
}

func (c *Client) receive(ctx context.Context) (transport.Frame, error) {
	return receive(ctx, c.conn)
}

func receive(ctx context.Context, conn transport.Conn) (transport.Frame, error) {
	for {
		wait, err := readWait(ctx)
		if err != nil {
			return transport.Frame{}, err
		}
		f, err := conn.Receive(wait)
		if !errors.Is(err, transport.ErrTimeout) {
			return f, err
		}
	}
}

// readWait is how long the next read may block: readTimeout, cut short by
// ctx's deadline.
func readWait(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wait := readTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		return 0, context.DeadlineExceeded
	}
	return wait, nil
}

// SetProgram sets the bubbletea program so the client can send messages to it.
func (c *Client) SetProgram(p *tea.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.program = p
}

func (c *Client) send(msg tea.Msg) {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Start launches the read pump that feeds room signals to the program.
func (c *Client) Start() {
	go c.readPump()
}

func (c *Client) readPump() {
	var err error
	defer func() { c.send(DisconnectedMsg{Err: err}) }()

	for {
		var f transport.Frame
		f, err = c.conn.Receive(readTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			select {
			case <-c.done:
				err = nil
				return
			default:
				continue
			}
		}
		if err != nil {
			return
		}
		if f.Kind == protocol.KindText {
			c.send(ServerMsg{Signal: protocol.ParseSignal(f.Text())})
		}
	}
}

// Close shuts down the room connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}

// --- Match ---

// Match is a player's connection to a match relay.
type Match struct {
	conn     transport.Conn
	opponent string
	client   *Client
}

// JoinMatch dials the relay announced by Started% and waits to be told who
// the opponent is.
func (c *Client) JoinMatch(ctx context.Context, port int) (*Match, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(port))
	conn, err := transport.Dial(ctx, c.network, addr, transport.Options{})
	if err != nil {
		return nil, err
	}
	if err := transport.SendText(conn, c.name); err != nil {
		conn.Close()
		return nil, err
	}

	for {
		f, err := receive(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("await opponent: %w", err)
		}
		if f.Kind != protocol.KindText {
			continue
		}
		if sig := protocol.ParseSignal(f.Text()); sig.Type == protocol.SignalOpponent {
			return &Match{conn: conn, opponent: sig.Name, client: c}, nil
		}
	}
}

func (m *Match) Opponent() string { return m.opponent }

func (m *Match) SendState(blob []byte) error  { return m.conn.Send(transport.StateFrame(blob)) }
func (m *Match) ReportLoss(blob []byte) error { return m.conn.Send(transport.LossFrame(blob)) }

// Next returns the next frame from the relay.
func (m *Match) Next(timeout time.Duration) (transport.Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return receive(ctx, m.conn)
}

// Start feeds opponent states and the result to the client's program.
func (m *Match) Start() {
	go m.readPump()
}

func (m *Match) readPump() {
	m.client.send(OpponentMsg{Name: m.opponent})
	for {
		f, err := m.conn.Receive(0)
		if err != nil {
			m.client.send(MatchOverMsg{Err: err})
			return
		}
		switch f.Kind {
		case protocol.KindState:
			m.client.send(StateMsg{Blob: f.Payload})
		case protocol.KindText:
			if sig := protocol.ParseSignal(f.Text()); sig.Type == protocol.SignalWin {
				m.client.send(MatchOverMsg{Winner: sig.Name})
				m.conn.Close()
				return
			}
		}
	}
}

func (m *Match) Close() { m.conn.Close() }
