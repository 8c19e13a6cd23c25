// Package connhandler drives one connection end to end: join handshake,
// per-packet classification and routing, heartbeat, and teardown. It
// generalizes the teacher's handleClient/handleWebSocketClient goroutine
// (client.go, server.go) — one goroutine per connection, no shared mutable
// state beyond the session it owns — from a single chat/voice room onto
// this spec's room-scoped session lifecycle (C1/C2/C3).
package connhandler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/vcsfu/core/internal/auth"
	"github.com/vcsfu/core/internal/mediahealth"
	"github.com/vcsfu/core/internal/roomsrv"
	"github.com/vcsfu/core/internal/session"
	"github.com/vcsfu/core/internal/transport"
	"github.com/vcsfu/core/internal/wire"
)

// controlMessageRateLimit mirrors the teacher's -rate-limit default (50
// control messages/sec/client), generalized from its hand-rolled
// CheckControlRate counter into a golang.org/x/time/rate token bucket —
// already a transitive pack dependency (quic-go pulls it in) promoted here
// to a direct one since this package is the first to import it by name.
const (
	controlMessageRateLimit = 50
	controlMessageBurst     = 50
	joinHandshakeTimeout    = 10 * time.Second
)

var errJoinHandshakeTimedOut = errors.New("connhandler: join handshake timed out")

// Handle owns conn until the session ends, either because the peer closed
// it, the transport errored, or the room server force-disconnected it.
func Handle(ctx context.Context, conn transport.Conn, rooms *roomsrv.Server, health *mediahealth.Router, secret []byte, clientTimeout, heartbeatInterval time.Duration) {
	sess := session.New(conn)
	limiter := rate.NewLimiter(rate.Limit(controlMessageRateLimit), controlMessageBurst)

	defer func() {
		rooms.Leave(sess.ID)
		if health != nil {
			health.Forget(sess.ID)
		}
		sess.Terminate()
		_ = conn.Close("session ended")
	}()

	if err := authenticate(ctx, sess, conn, secret); err != nil {
		log.Printf("[connhandler %s] auth failed: %v", sess.ID, err)
		_ = conn.Send(transport.Frame{Class: transport.ClassControl, Data: session.ErrorFrame(session.ReasonTokenInvalid, err.Error())})
		return
	}

	rooms.Connect(sess)
	if result := rooms.JoinRoom(sess, sess.Identity.Room); result != roomsrv.JoinOK {
		log.Printf("[connhandler %s] join %q rejected: %s", sess.ID, sess.Identity.Room, result)
		_ = conn.Send(transport.Frame{Class: transport.ClassControl, Data: session.ErrorFrame(session.ReasonJoinRejected, result.String())})
		return
	}
	log.Printf("[connhandler %s] %s joined room %q", sess.ID, sess.Identity.Email, sess.Identity.Room)

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.HeartbeatLoop(hbCtx, heartbeatInterval)

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			sess.Close(session.ReasonTransportErr)
			return
		}

		now := time.Now()
		sess.MarkInbound(now)
		if sess.TimedOut(now, clientTimeout) {
			sess.Close(session.ReasonTimeout)
			return
		}
		wrapper, err := wire.DecodePacketWrapper(raw)
		if err != nil {
			log.Printf("[connhandler %s] decode wrapper: %v", sess.ID, err)
			continue
		}
		if wrapper.PacketType != wire.PacketMedia && !limiter.Allow() {
			continue // control packet over the per-session rate: drop silently, same as the teacher's CheckControlRate
		}

		if sess.ShouldSuppress(wrapper.ConnectionPhase) {
			continue
		}
		if !sess.Activated() {
			rooms.Activate(sess)
		}

		route(sess, rooms, health, raw)
	}
}

// route classifies one decoded packet per §4.1's data-flow contract: RTT
// echoes straight back to the sender, HEALTH is consumed rather than
// forwarded, MEETING/DATA broadcast to the room, and KEY_EXCHANGE delivers
// only to the member named by the wrapper's email field.
func route(sess *session.Session, rooms *roomsrv.Server, health *mediahealth.Router, raw []byte) {
	c := wire.Classify(raw)
	switch c.Kind {
	case wire.KindMalformed:
		log.Printf("[connhandler %s] dropping malformed packet", sess.ID)
	case wire.KindRTT:
		if err := sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: raw}); err != nil {
			log.Printf("[connhandler %s] rtt echo: %v", sess.ID, err)
		}
	case wire.KindHealth:
		// Consumed, not forwarded: a HEALTH packet reports the sender's own
		// connection quality and has no other recipient.
	case wire.KindKeyExchange:
		rooms.Targeted(sess.ID, c.Wrapper.Email, raw)
	case wire.KindMeeting, wire.KindData:
		if c.Media != nil && health != nil {
			health.Observe(sess, c.Media)
		}
		rooms.Broadcast(sess.ID, raw)
	}
}

// authenticate waits for the first inbound packet, which must be a
// CONNECTION packet whose Data is the JWT join token, validates it, and
// advances sess to Authenticated; the InRoom transition is left to
// roomsrv.Server.JoinRoom. It mirrors the
// teacher's "the client is expected to open the control stream first, and
// the very first message must be a join" contract (client.go).
func authenticate(ctx context.Context, sess *session.Session, conn transport.Conn, secret []byte) error {
	authCtx, cancel := context.WithTimeout(ctx, joinHandshakeTimeout)
	defer cancel()

	raw, err := conn.Receive(authCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errJoinHandshakeTimedOut
		}
		return fmt.Errorf("receive join packet: %w", err)
	}

	wrapper, err := wire.DecodePacketWrapper(raw)
	if err != nil {
		return fmt.Errorf("decode join packet: %w", err)
	}
	if wrapper.PacketType != wire.PacketConnection {
		return fmt.Errorf("expected CONNECTION packet, got %s", wrapper.PacketType)
	}

	identity, err := auth.Validate(string(wrapper.Data), secret, time.Now())
	if err != nil {
		return err
	}

	if !sess.Authenticate(identity) {
		return fmt.Errorf("unexpected session state during authenticate")
	}
	sess.MarkInbound(time.Now())
	return nil
}
