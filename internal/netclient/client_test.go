package netclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialHost(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"localhost:44444", "localhost"},
		{"10.0.0.7:44444", "10.0.0.7"},
		{"[::1]:44444", "::1"},
		{"ws://rooms.example.com:44444/ws", "rooms.example.com"},
		{"wss://[::1]:8443/ws", "::1"},
		{"rooms.example.com", "rooms.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, dialHost(tt.addr))
		})
	}
}
