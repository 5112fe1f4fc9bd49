package transport_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/hersh/gotris-rooms/internal/protocol"
	"github.com/hersh/gotris-rooms/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, opts transport.Options) (transport.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	c := transport.NewConn(a, opts)
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})
	return c, b
}

func writeRaw(t *testing.T, c net.Conn, kind byte, length uint32, payload []byte) {
	t.Helper()
	go func() {
		hdr := make([]byte, 5)
		hdr[0] = kind
		binary.BigEndian.PutUint32(hdr[1:], length)
		c.Write(append(hdr, payload...))
	}()
}

func TestTCPRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := transport.ListenTCP("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client, err := transport.Dial(ctx, transport.NetworkTCP, ln.Addr().String(), transport.Options{})
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	frames := []transport.Frame{
		transport.TextFrame("Ready%alice"),
		transport.StateFrame([]byte{0, 1, 2, 255}),
		transport.LossFrame(nil),
	}
	for _, f := range frames {
		require.NoError(t, client.Send(f))
	}
	for _, want := range frames {
		got, err := server.Receive(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, len(want.Payload), len(got.Payload))
		if len(want.Payload) > 0 {
			assert.Equal(t, want.Payload, got.Payload)
		}
	}
}

func TestReceiveTimeoutKeepsStream(t *testing.T) {
	c, peer := pipe(t, transport.Options{})

	_, err := c.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.False(t, transport.IsDisconnect(err))

	writeRaw(t, peer, 'T', 2, []byte("hi"))
	f, err := c.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", f.Text())
}

func TestReceiveMalformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    byte
		length  uint32
		payload []byte
	}{
		{"unknown kind", 'x', 1, []byte("a")},
		{"oversize", 'S', 1 << 20, nil},
		{"invalid utf8 text", 'T', 2, []byte{0xff, 0xfe}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, peer := pipe(t, transport.Options{MaxFrameSize: 1024})
			writeRaw(t, peer, tt.kind, tt.length, tt.payload)

			_, err := c.Receive(time.Second)
			assert.ErrorIs(t, err, transport.ErrMalformed)
			assert.True(t, transport.IsDisconnect(err))
		})
	}
}

func TestReceiveAfterPeerClose(t *testing.T) {
	c, peer := pipe(t, transport.Options{})
	peer.Close()

	_, err := c.Receive(time.Second)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestSendAfterClose(t *testing.T) {
	c, _ := pipe(t, transport.Options{})
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(transport.TextFrame("x")), transport.ErrClosed)
	_, err := c.Receive(time.Second)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestSendRejectsOversize(t *testing.T) {
	c, _ := pipe(t, transport.Options{MaxFrameSize: 4})
	err := c.Send(transport.StateFrame([]byte("12345")))
	assert.ErrorIs(t, err, transport.ErrMalformed)
}

func TestReceiveJSONRejectsText(t *testing.T) {
	c, peer := pipe(t, transport.Options{})
	writeRaw(t, peer, 'T', 2, []byte("{}"))

	var tally protocol.WinTally
	err := transport.ReceiveJSON(c, time.Second, &tally)
	assert.ErrorIs(t, err, transport.ErrMalformed)
}

func TestAcceptHonoursContext(t *testing.T) {
	ln, err := transport.ListenTCP("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebSocketRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := transport.Listen(transport.NetworkWebSocket, "127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan transport.Conn, 1)
	go func() {
		c, err := ln.Accept(ctx)
		if err == nil {
			accepted <- c
		}
	}()

	client, err := transport.Dial(ctx, transport.NetworkWebSocket, ln.Addr().String(), transport.Options{})
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()

	tally := protocol.WinTally{"alice": 2}
	require.NoError(t, transport.SendJSON(client, tally))
	require.NoError(t, transport.SendText(client, "hello"))

	var got protocol.WinTally
	require.NoError(t, transport.ReceiveJSON(server, time.Second, &got))
	assert.Equal(t, tally, got)

	text, err := transport.ReceiveText(server, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = server.Receive(20 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	client.Close()
	_, err = server.Receive(time.Second)
	assert.ErrorIs(t, err, transport.ErrClosed)
}
