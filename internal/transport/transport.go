package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Receive once a Conn has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn is the adapter-agnostic contract a session talks to. Both the
// WebSocket and the WebTransport adapter implement it; the session and room
// server code above this package never see gorilla/websocket or
// quic-go/webtransport-go types directly (§4.3).
type Conn interface {
	// Receive blocks for the next inbound logical packet (already
	// reconstructed from however many wire frames/streams it took).
	Receive(ctx context.Context) ([]byte, error)

	// Send enqueues an outbound logical packet. It never blocks on network
	// I/O; delivery happens on the adapter's own write loop and is subject
	// to the OutboundQueue's backpressure policy.
	Send(f Frame) error

	// RemoteAddr identifies the peer for logging/diagnostics.
	RemoteAddr() string

	// Close tears down the underlying transport with reason, best-effort.
	Close(reason string) error
}
