package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hersh/gotris-rooms/internal/protocol"
)

// frameWait bounds how long the rest of a frame may take once its first
// byte has arrived.
const frameWait = 10 * time.Second

// --- Conn ---

type tcpConn struct {
	id   string
	conn net.Conn
	r    *bufio.Reader
	opts Options

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn wraps an established stream connection with length-prefixed framing.
func NewConn(c net.Conn, opts Options) Conn {
	return &tcpConn{
		id:   uuid.NewString(),
		conn: c,
		r:    bufio.NewReader(c),
		opts: opts.withDefaults(),
	}
}

// DialTCP connects to a TCP frame listener.
func DialTCP(ctx context.Context, addr string, opts Options) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &IOError{Op: "dial", Err: err}
	}
	return NewConn(c, opts), nil
}

func (c *tcpConn) ID() string         { return c.id }
func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Send(f Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %s", ErrMalformed, f.Kind)
	}
	if len(f.Payload) > c.opts.MaxFrameSize {
		return fmt.Errorf("%w: payload %d exceeds %d bytes", ErrMalformed, len(f.Payload), c.opts.MaxFrameSize)
	}

	buf := make([]byte, headerSize+len(f.Payload))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:headerSize], uint32(len(f.Payload)))
	copy(buf[headerSize:], f.Payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if _, err := c.conn.Write(buf); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return classify("write", err)
	}
	return nil
}

func (c *tcpConn) Receive(timeout time.Duration) (Frame, error) {
	if c.closed.Load() {
		return Frame{}, ErrClosed
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.conn.SetReadDeadline(deadline)

	// Only the first byte is subject to the caller's timeout. Once a frame
	// has started it is read to completion so the stream stays in sync.
	kind, err := c.r.ReadByte()
	if err != nil {
		if isTimeout(err) && !c.closed.Load() {
			return Frame{}, ErrTimeout
		}
		return Frame{}, c.readErr(err)
	}
	c.conn.SetReadDeadline(time.Now().Add(frameWait))

	var lenBuf [headerSize - 1]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return Frame{}, c.readErr(err)
	}
	k := protocol.Kind(kind)
	if !k.Valid() {
		return Frame{}, fmt.Errorf("%w: unknown kind %s", ErrMalformed, k)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int64(n) > int64(c.opts.MaxFrameSize) {
		return Frame{}, fmt.Errorf("%w: length %d exceeds %d bytes", ErrMalformed, n, c.opts.MaxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return Frame{}, c.readErr(err)
	}
	if k == protocol.KindText && !utf8.Valid(payload) {
		return Frame{}, fmt.Errorf("%w: text is not valid UTF-8", ErrMalformed)
	}
	return Frame{Kind: k, Payload: payload}, nil
}

func (c *tcpConn) readErr(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return classify("read", err)
}

func (c *tcpConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// --- Listener ---

type tcpListener struct {
	ln   *net.TCPListener
	opts Options
}

// ListenTCP opens a TCP frame listener on addr. Port 0 picks a free port.
func ListenTCP(addr string, opts Options) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &IOError{Op: "listen", Err: err}
	}
	return &tcpListener{ln: ln.(*net.TCPListener), opts: opts.withDefaults()}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	l.ln.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		l.ln.SetDeadline(time.Now())
	})
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, &IOError{Op: "accept", Err: err}
	}
	return NewConn(c, l.opts), nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tcpListener) Close() error   { return l.ln.Close() }
