package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hersh/gotris-rooms/internal/protocol"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsResult struct {
	frame Frame
	err   error
}

// wsConn runs its own read pump. A timed-out read leaves a gorilla
// connection unusable, so Receive waits on the pump's channel instead of
// setting short read deadlines.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	opts Options

	wmu     sync.Mutex
	inbox   chan wsResult
	done    chan struct{}
	once    sync.Once
	termMu  sync.Mutex
	termErr error
}

func newWSConn(ws *websocket.Conn, opts Options) *wsConn {
	c := &wsConn{
		id:    uuid.NewString(),
		ws:    ws,
		opts:  opts,
		inbox: make(chan wsResult, 16),
		done:  make(chan struct{}),
	}
	go c.readPump()
	go c.pingLoop()
	return c
}

// DialWebSocket connects to a WebSocket frame listener. addr may be a bare
// host:port or a full ws:// URL.
func DialWebSocket(ctx context.Context, addr string, opts Options) (Conn, error) {
	opts = opts.withDefaults()
	url := addr
	if !strings.Contains(addr, "://") {
		url = "ws://" + addr + opts.Path
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &IOError{Op: "dial", Err: err}
	}
	return newWSConn(ws, opts), nil
}

func (c *wsConn) ID() string         { return c.id }
func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// readPump reads messages from the WebSocket and queues them for Receive.
func (c *wsConn) readPump() {
	defer close(c.inbox)

	c.ws.SetReadLimit(int64(c.opts.MaxFrameSize) + 1)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setTerm(c.wsErr("read", err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		r := wsResult{}
		switch {
		case mt != websocket.BinaryMessage || len(data) == 0:
			r.err = fmt.Errorf("%w: expected a binary message", ErrMalformed)
		case !protocol.Kind(data[0]).Valid():
			r.err = fmt.Errorf("%w: unknown kind %s", ErrMalformed, protocol.Kind(data[0]))
		case protocol.Kind(data[0]) == protocol.KindText && !utf8.Valid(data[1:]):
			r.err = fmt.Errorf("%w: text is not valid UTF-8", ErrMalformed)
		default:
			r.frame = Frame{Kind: protocol.Kind(data[0]), Payload: data[1:]}
		}

		select {
		case c.inbox <- r:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.wmu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) setTerm(err error) {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	if c.termErr == nil {
		c.termErr = err
	}
}

func (c *wsConn) term() error {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	if c.termErr == nil {
		return ErrClosed
	}
	return c.termErr
}

func (c *wsConn) wsErr(op string, err error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce), errors.Is(err, websocket.ErrCloseSent):
		return ErrClosed
	case errors.Is(err, websocket.ErrReadLimit):
		return fmt.Errorf("%w: message exceeds %d bytes", ErrMalformed, c.opts.MaxFrameSize)
	}
	return classify(op, err)
}

func (c *wsConn) Send(f Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %s", ErrMalformed, f.Kind)
	}
	if len(f.Payload) > c.opts.MaxFrameSize {
		return fmt.Errorf("%w: payload %d exceeds %d bytes", ErrMalformed, len(f.Payload), c.opts.MaxFrameSize)
	}

	msg := make([]byte, 1+len(f.Payload))
	msg[0] = byte(f.Kind)
	copy(msg[1:], f.Payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return c.wsErr("write", err)
	}
	return nil
}

func (c *wsConn) Receive(timeout time.Duration) (Frame, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case r, ok := <-c.inbox:
		if !ok {
			return Frame{}, c.term()
		}
		return r.frame, r.err
	case <-c.done:
		return Frame{}, ErrClosed
	case <-timer:
		return Frame{}, ErrTimeout
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// --- Listener ---

type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	opts   Options
	conns  chan *wsConn
	closed chan struct{}
	once   sync.Once
}

// ListenWebSocket serves WebSocket upgrades on opts.Path and a /health probe.
func ListenWebSocket(addr string, opts Options) (Listener, error) {
	opts = opts.withDefaults()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &IOError{Op: "listen", Err: err}
	}

	l := &wsListener{
		ln:     ln,
		opts:   opts,
		conns:  make(chan *wsConn),
		closed: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, l.handleUpgrade)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: opts.WriteWait}

	go l.srv.Serve(ln)
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(ws, l.opts)
	select {
	case l.conns <- c:
	case <-l.closed:
		c.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.srv.Close()
	})
	return err
}
