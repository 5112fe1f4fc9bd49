package room

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hersh/gotris-rooms/internal/transport"
)

const sendQueueSize = 256

// session is one room connection after the handshake. Only the coordinator
// goroutine queues frames or closes the queue; the write pump owns the
// connection's write side.
type session struct {
	id     string
	name   string
	conn   transport.Conn
	sendCh chan transport.Frame
	log    *zap.SugaredLogger

	closeOnce sync.Once
}

func newSession(name string, conn transport.Conn, log *zap.SugaredLogger) *session {
	return &session{
		id:     conn.ID(),
		name:   name,
		conn:   conn,
		sendCh: make(chan transport.Frame, sendQueueSize),
		log:    log.With("player", name),
	}
}

// send queues a frame, dropping it when the queue is full.
func (s *session) send(f transport.Frame) {
	select {
	case s.sendCh <- f:
	default:
		s.log.Warnw("send queue full, dropping message", "kind", f.Kind)
	}
}

func (s *session) sendText(text string) {
	s.send(transport.TextFrame(text))
}

// close stops the write pump once everything already queued is written.
func (s *session) close() {
	s.closeOnce.Do(func() { close(s.sendCh) })
}

// writePump sends queued frames and closes the connection when the queue
// is closed or a write fails.
func (s *session) writePump() {
	defer s.conn.Close()
	for f := range s.sendCh {
		if err := s.conn.Send(f); err != nil {
			s.log.Debugw("write failed", "err", err)
			return
		}
	}
}
