package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hersh/gotris-rooms/internal/player"
	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/transport"
)

var errDeclined = errors.New("room: invitation declined")

const acceptBackoff = 100 * time.Millisecond

// AcceptLoop admits connections until ctx is done or the listener closes.
// Each connection is handshaken and then read on its own goroutine.
func (c *Coordinator) AcceptLoop(ctx context.Context) {
	for {
		conn, err := c.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			c.log.Warnw("accept failed", "err", err)
			select {
			case <-time.After(acceptBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		c.conns.Add(1)
		go func() {
			defer c.conns.Done()
			c.serveConn(ctx, conn)
		}()
	}
}

func (c *Coordinator) serveConn(ctx context.Context, conn transport.Conn) {
	name, err := c.handshake(ctx, conn)
	if err != nil {
		if !errors.Is(err, errDeclined) && !errors.Is(err, context.Canceled) {
			c.log.Debugw("handshake failed", "remote", conn.RemoteAddr(), "err", err)
		}
		conn.Close()
		return
	}
	c.readPump(ctx, name, conn)
}

// handshake runs the join exchange: wins map out, ack in, ready list out,
// username in. On success the player is on the roster.
func (c *Coordinator) handshake(ctx context.Context, conn transport.Conn) (string, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := transport.SendJSON(conn, snap.Tally); err != nil {
		return "", fmt.Errorf("send wins: %w", err)
	}

	ack, err := c.awaitText(ctx, conn)
	if err != nil {
		return "", fmt.Errorf("await ack: %w", err)
	}
	switch sig := protocol.ParseSignal(ack); sig.Type {
	case protocol.SignalAck:
	case protocol.SignalDecline:
		select {
		case c.declines <- sig.Name:
		case <-ctx.Done():
		case <-c.stopped:
		}
		return "", errDeclined
	default:
		return "", fmt.Errorf("%w: expected ack, got %q", transport.ErrMalformed, ack)
	}

	if snap, err = c.Snapshot(ctx); err != nil {
		return "", err
	}
	if err := transport.SendJSON(conn, snap.Ready); err != nil {
		return "", fmt.Errorf("send ready list: %w", err)
	}

	name, err := c.awaitText(ctx, conn)
	if err != nil {
		return "", fmt.Errorf("await name: %w", err)
	}

	reply := make(chan error, 1)
	select {
	case c.joins <- joinRequest{name: name, conn: conn, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.stopped:
		return "", ErrRoomClosed
	}
	select {
	case err = <-reply:
	case <-c.stopped:
		return "", ErrRoomClosed
	}
	if errors.Is(err, player.ErrNameTaken) {
		transport.SendText(conn, protocol.Taken(name))
	}
	if err != nil {
		return "", fmt.Errorf("register %q: %w", name, err)
	}
	return name, nil
}

// awaitText waits for a text frame, rechecking ctx after every read timeout
// and giving up after the handshake timeout.
func (c *Coordinator) awaitText(ctx context.Context, conn transport.Conn) (string, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	for {
		text, err := transport.ReceiveText(conn, c.cfg.ReadTimeout)
		if !errors.Is(err, transport.ErrTimeout) {
			return text, err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if time.Now().After(deadline) {
			return "", err
		}
	}
}

// readPump forwards a registered player's frames to the event loop and
// reports the connection gone when reading stops.
func (c *Coordinator) readPump(ctx context.Context, name string, conn transport.Conn) {
	connID := conn.ID()
	for {
		f, err := conn.Receive(c.cfg.ReadTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err != nil {
			select {
			case c.gone <- departure{name: name, connID: connID, err: err}:
			case <-c.stopped:
			case <-ctx.Done():
			}
			return
		}

		select {
		case c.frames <- inbound{name: name, connID: connID, frame: f}:
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}
