package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader mirrors the teacher's server.go construction: origin checking is
// left to the HTTP layer in front (reverse proxy / CORS middleware), so the
// websocket upgrade itself accepts any origin.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WSConn adapts a *websocket.Conn to the Conn contract. Every inbound binary
// frame is one logical packet; there is no stream reconstruction to do, in
// contrast with the WebTransport variant.
type WSConn struct {
	conn    *websocket.Conn
	queue   *OutboundQueue
	timeout time.Duration

	writeDone chan struct{}
	closeOnce sync.Once
}

// NewWSConn wraps conn and starts its background write loop draining queue
// (control-first, media droppable) onto the socket. clientTimeout bounds how
// long Receive waits for the next inbound frame before declaring the peer
// dead, mirroring the adapter contract's liveness clause.
func NewWSConn(conn *websocket.Conn, limits Limits, clientTimeout time.Duration) *WSConn {
	w := &WSConn{
		conn:      conn,
		queue:     NewOutboundQueue(limits),
		timeout:   clientTimeout,
		writeDone: make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

func (w *WSConn) writeLoop() {
	defer close(w.writeDone)
	for {
		data, ok := w.queue.Pop()
		if !ok {
			return
		}
		if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

// Receive reads the next binary frame, applying the client timeout as a read
// deadline so a silent peer is detected rather than hanging forever.
func (w *WSConn) Receive(ctx context.Context) ([]byte, error) {
	if w.timeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.timeout))
	}
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, errUnexpectedMessageType
	}
	return data, nil
}

// Send hands f to the bounded outbound queue; delivery happens on writeLoop.
func (w *WSConn) Send(f Frame) error {
	w.queue.Push(f)
	return nil
}

func (w *WSConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// Close closes the outbound queue (stopping writeLoop) and the underlying
// socket. Safe to call more than once.
func (w *WSConn) Close(reason string) error {
	var err error
	w.closeOnce.Do(func() {
		w.queue.Close()
		deadline := time.Now().Add(time.Second)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		err = w.conn.Close()
	})
	return err
}

// Backlogged reports whether the outbound queue has exceeded its backlog
// timeout. No session or room code calls it, so a backlog does not trigger
// a force-disconnect.
func (w *WSConn) Backlogged() bool { return w.queue.Backlogged() }

var errUnexpectedMessageType = errors.New("transport: expected binary websocket frame")
