package match

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hersh/gotris-rooms/internal/transport"
)

var ErrNoPort = errors.New("match: no free port")

const maxPortAttempts = 64

// PortAllocator hands out match listeners on base, base+1, ... skipping
// ports that fail to bind. A zero base lets the OS pick every port.
type PortAllocator struct {
	mu      sync.Mutex
	network string
	host    string
	next    int
	opts    transport.Options
}

func NewPortAllocator(network, host string, base int, opts transport.Options) *PortAllocator {
	return &PortAllocator{
		network: network,
		host:    host,
		next:    base,
		opts:    opts,
	}
}

// Listen binds the next free match port.
func (a *PortAllocator) Listen() (transport.Listener, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for i := 0; i < maxPortAttempts; i++ {
		port := a.next
		if a.next != 0 {
			a.next++
		}
		ln, err := transport.Listen(a.network, net.JoinHostPort(a.host, strconv.Itoa(port)), a.opts)
		if err != nil {
			lastErr = err
			if port == 0 {
				break
			}
			continue
		}
		return ln, ListenerPort(ln), nil
	}
	return nil, 0, fmt.Errorf("%w: %v", ErrNoPort, lastErr)
}

// ListenerPort returns the TCP port a listener is bound to.
func ListenerPort(ln transport.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	_, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}
