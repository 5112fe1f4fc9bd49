package match

import (
	"context"
	"sync"
)

// Mailbox holds at most one unsent state blob for a participant. Put
// overwrites whatever is pending; the writer only ever sees the latest.
type Mailbox struct {
	mu      sync.Mutex
	pending []byte
	has     bool
	dropped int
	notify  chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Put stores blob as the pending payload and reports whether an older,
// unsent blob was discarded.
func (m *Mailbox) Put(blob []byte) bool {
	m.mu.Lock()
	overwrote := m.has
	if overwrote {
		m.dropped++
	}
	m.pending = blob
	m.has = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// Take removes and returns the pending blob, if any.
func (m *Mailbox) Take() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return nil, false
	}
	blob := m.pending
	m.pending = nil
	m.has = false
	return blob, true
}

// Wait blocks until a blob is pending or ctx is done.
func (m *Mailbox) Wait(ctx context.Context) ([]byte, error) {
	for {
		if blob, ok := m.Take(); ok {
			return blob, nil
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dropped returns how many blobs were overwritten before being sent.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
