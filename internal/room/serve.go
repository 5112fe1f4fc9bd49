package room

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var errPanicked = errors.New("room: event loop panicked")

// Serve publishes the room, admits players and runs the event loop until the
// admin leaves (ErrRoomClosed) or ctx is done (nil). A panic in the event
// loop is logged, the room is re-published and the loop resumes with the
// roster it had.
func (c *Coordinator) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.matchCtx = ctx

	c.publish()
	c.conns.Add(1)
	go func() {
		defer c.conns.Done()
		c.AcceptLoop(ctx)
	}()

	var err error
	for {
		err = c.runRecovered(ctx)
		if !errors.Is(err, errPanicked) {
			break
		}
		c.publish()
	}

	if !errors.Is(err, ErrRoomClosed) {
		c.log.Infow("shutting down room", "reason", err)
		c.teardown()
		err = nil
	}

	close(c.stopped)
	cancel()
	c.ln.Close()
	c.relays.Wait()
	c.conns.Wait()
	c.pumps.Wait()
	c.calls.Wait()
	return err
}

func (c *Coordinator) runRecovered(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("room event loop panicked, restarting",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()
	return c.Run(ctx)
}
