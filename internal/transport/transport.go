// Package transport moves discrete, kind-tagged frames over a single stream
// connection. Over TCP a frame is a one-byte kind, a big-endian uint32 length
// and the payload; over WebSocket a frame is one binary message whose first
// byte is the kind.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/hersh/gotris-rooms/internal/protocol"
)

const (
	NetworkTCP       = "tcp"
	NetworkWebSocket = "websocket"

	DefaultMaxFrameSize = 64 << 10
	DefaultWriteWait    = 10 * time.Second
	DefaultPath         = "/ws"

	headerSize = 5
)

var (
	ErrClosed    = errors.New("transport: connection closed")
	ErrMalformed = errors.New("transport: malformed frame")
	ErrTimeout   = errors.New("transport: receive timeout")
)

// IOError is a transport failure that is neither an orderly close nor a
// decoding problem.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// IsDisconnect reports whether err means the peer can no longer be used.
// A receive timeout is the only error a caller may retry.
func IsDisconnect(err error) bool {
	return err != nil && !errors.Is(err, ErrTimeout)
}

// Frame is one application message.
type Frame struct {
	Kind    protocol.Kind
	Payload []byte
}

func TextFrame(text string) Frame  { return Frame{Kind: protocol.KindText, Payload: []byte(text)} }
func StateFrame(blob []byte) Frame { return Frame{Kind: protocol.KindState, Payload: blob} }
func LossFrame(blob []byte) Frame  { return Frame{Kind: protocol.KindLoss, Payload: blob} }

// Text returns the payload of a text frame.
func (f Frame) Text() string { return string(f.Payload) }

// JSONFrame encodes v as a handshake document.
func JSONFrame(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %T: %w", v, err)
	}
	return Frame{Kind: protocol.KindJSON, Payload: data}, nil
}

// Conn is a framed, bidirectional connection. Send is safe for concurrent use;
// Receive must only be called from one goroutine at a time.
type Conn interface {
	ID() string
	Send(f Frame) error
	// Receive waits up to timeout for a full frame; timeout <= 0 waits forever.
	Receive(timeout time.Duration) (Frame, error)
	RemoteAddr() string
	Close() error
}

// Listener accepts framed connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Options tunes framing limits and write deadlines.
type Options struct {
	MaxFrameSize int
	WriteWait    time.Duration
	Path         string // WebSocket upgrade path
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.Path == "" {
		o.Path = DefaultPath
	}
	return o
}

// Listen opens a listener for the given network ("tcp" or "websocket").
func Listen(network, addr string, opts Options) (Listener, error) {
	switch network {
	case NetworkTCP, "":
		return ListenTCP(addr, opts)
	case NetworkWebSocket:
		return ListenWebSocket(addr, opts)
	}
	return nil, fmt.Errorf("transport: unknown network %q", network)
}

// Dial connects to a listener opened with the same network.
func Dial(ctx context.Context, network, addr string, opts Options) (Conn, error) {
	switch network {
	case NetworkTCP, "":
		return DialTCP(ctx, addr, opts)
	case NetworkWebSocket:
		return DialWebSocket(ctx, addr, opts)
	}
	return nil, fmt.Errorf("transport: unknown network %q", network)
}

// ReceiveText waits for a text frame; any other kind is malformed.
func ReceiveText(c Conn, timeout time.Duration) (string, error) {
	f, err := c.Receive(timeout)
	if err != nil {
		return "", err
	}
	if f.Kind != protocol.KindText {
		return "", fmt.Errorf("%w: expected text, got %s", ErrMalformed, f.Kind)
	}
	return f.Text(), nil
}

// ReceiveJSON waits for a handshake document and decodes it into v.
func ReceiveJSON(c Conn, timeout time.Duration, v any) error {
	f, err := c.Receive(timeout)
	if err != nil {
		return err
	}
	if f.Kind != protocol.KindJSON {
		return fmt.Errorf("%w: expected json, got %s", ErrMalformed, f.Kind)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// SendText is shorthand for c.Send(TextFrame(text)).
func SendText(c Conn, text string) error {
	return c.Send(TextFrame(text))
}

// SendJSON encodes v and sends it as a handshake document.
func SendJSON(c Conn, v any) error {
	f, err := JSONFrame(v)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// classify maps a socket error onto the package's error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return ErrClosed
	}
	return &IOError{Op: op, Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
