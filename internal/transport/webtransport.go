package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/webtransport-go"
)

// WTConn adapts a *webtransport.Session to the Conn contract. Unlike the
// WebSocket variant, each inbound logical packet arrives on its own fresh
// unidirectional stream and must be read to EOF to reconstruct it. Outbound
// frames are chosen by size only: the write loop does not see a frame's
// Class, so any frame (control or media) of at most maxDatagramSize bytes is
// sent as a best-effort datagram, and larger frames, or frames whose
// datagram send fails, go out on a reliable stream.
type WTConn struct {
	sess    *webtransport.Session
	queue   *OutboundQueue
	timeout time.Duration

	maxDatagramSize int
}

// NewWTConn wraps sess and starts the outbound write loop.
func NewWTConn(sess *webtransport.Session, limits Limits, clientTimeout time.Duration) *WTConn {
	w := &WTConn{
		sess:            sess,
		queue:           NewOutboundQueue(limits),
		timeout:         clientTimeout,
		maxDatagramSize: 1200, // fixed limit, conservative under typical MTU; not renegotiated
	}
	go w.writeLoop()
	return w
}

func (w *WTConn) writeLoop() {
	for {
		data, ok := w.queue.Pop()
		if !ok {
			return
		}
		// Frames within the datagram limit go out as datagrams whatever
		// class they were pushed with; anything that overruns the limit goes
		// out on a reliable stream instead.
		if len(data) <= w.maxDatagramSize {
			if err := w.sess.SendDatagram(data); err == nil {
				continue
			}
			// datagram send failed (e.g. peer closed); fall through to stream attempt,
			// which will itself fail and end the loop if the session is gone.
		}
		if err := w.sendStream(data); err != nil {
			return
		}
	}
}

func (w *WTConn) sendStream(data []byte) error {
	stream, err := w.sess.OpenStream()
	if err != nil {
		return err
	}
	defer stream.Close()
	_, err = stream.Write(data)
	return err
}

// Receive accepts the next unidirectional stream, or the next datagram,
// whichever arrives first, and reconstructs a full logical packet.
func (w *WTConn) Receive(ctx context.Context) ([]byte, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	type result struct {
		data []byte
		err  error
	}
	streamCh := make(chan result, 1)
	dgramCh := make(chan result, 1)

	go func() {
		stream, err := w.sess.AcceptUniStream(ctx)
		if err != nil {
			streamCh <- result{err: err}
			return
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, stream); err != nil {
			streamCh <- result{err: err}
			return
		}
		streamCh <- result{data: buf.Bytes()}
	}()
	go func() {
		data, err := w.sess.ReceiveDatagram(ctx)
		dgramCh <- result{data: data, err: err}
	}()

	select {
	case r := <-streamCh:
		return r.data, r.err
	case r := <-dgramCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send hands f to the bounded outbound queue.
func (w *WTConn) Send(f Frame) error {
	w.queue.Push(f)
	return nil
}

func (w *WTConn) RemoteAddr() string {
	return fmt.Sprintf("%v", w.sess.RemoteAddr())
}

// Close closes the outbound queue and the QUIC session.
func (w *WTConn) Close(reason string) error {
	w.queue.Close()
	return w.sess.CloseWithError(0, reason)
}

// Backlogged reports whether the outbound queue has been over capacity
// longer than its configured backlog timeout.
func (w *WTConn) Backlogged() bool { return w.queue.Backlogged() }
