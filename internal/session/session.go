// Package session implements the per-connection state machine (C1): the
// Unauthenticated -> Authenticated -> InRoom -> Activated -> Closing ->
// Terminated lifecycle, PROBING-phase suppression, the heartbeat contract,
// and the failure taxonomy a transport adapter's Close reason maps onto.
//
// Structurally this generalizes the teacher's handleClient goroutine
// (client.go): one goroutine per connection owns a single Client/Session
// value and drives it from join through to teardown, with no other
// goroutine mutating its state directly.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vcsfu/core/internal/auth"
	"github.com/vcsfu/core/internal/transport"
	"github.com/vcsfu/core/internal/wire"
)

// State is one node of the session lifecycle graph.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInRoom
	StateActivated
	StateClosing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateActivated:
		return "activated"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Id identifies a session for the lifetime of one connection.
type Id string

// NewId mints a fresh SessionId, grounded in the teacher's use of
// google/uuid elsewhere in the pack for identifier generation.
func NewId() Id {
	return Id(uuid.NewString())
}

// CloseReason classifies why a session reached Closing, mirroring §7's
// failure taxonomy. The value is carried into the MEETING error frame (or
// omitted entirely for a clean client-initiated disconnect).
type CloseReason string

const (
	ReasonClientClosed  CloseReason = "CLIENT_CLOSED"
	ReasonTokenInvalid  CloseReason = "TOKEN_INVALID"
	ReasonJoinRejected  CloseReason = "JOIN_REJECTED"
	ReasonTransportErr  CloseReason = "TRANSPORT_ERROR"
	ReasonTimeout       CloseReason = "TIMEOUT"
	ReasonForced        CloseReason = "FORCED"
	ReasonCongested     CloseReason = "CONGESTED"
)

// DefaultHeartbeatInterval is how often a session that has joined its room
// emits a HEARTBEAT media packet (§4.4) absent an operator override; see
// internal/config's HEARTBEAT_INTERVAL_MS.
const DefaultHeartbeatInterval = time.Second

// Session owns one connection end to end. ID, Identity, RoomID and Conn sit
// outside mu: they are set while the connection authenticates and joins,
// and other goroutines (broadcast fan-out) only read them afterwards.
type Session struct {
	ID       Id
	Identity auth.Identity
	RoomID   string
	Conn     transport.Conn

	mu           sync.Mutex
	state        State
	joinedAt     time.Time
	lastInbound  time.Time
	activated    bool
}

// New constructs a Session in StateUnauthenticated bound to conn. Identity
// and RoomID are populated once authentication succeeds.
func New(conn transport.Conn) *Session {
	return &Session{
		ID:    NewId(),
		Conn:  conn,
		state: StateUnauthenticated,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activated reports whether the session is broadcast-eligible.
func (s *Session) Activated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

// Authenticate transitions Unauthenticated -> Authenticated given a validated
// identity. Returns false if called from any other state.
func (s *Session) Authenticate(id auth.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return false
	}
	s.Identity = id
	s.state = StateAuthenticated
	return true
}

// JoinRoom transitions Authenticated -> InRoom.
func (s *Session) JoinRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return false
	}
	s.RoomID = roomID
	s.state = StateInRoom
	s.joinedAt = time.Now()
	return true
}

// Activate transitions InRoom -> Activated. Idempotent: calling it again on
// an already-activated session is a no-op returning true.
func (s *Session) Activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActivated {
		return true
	}
	if s.state != StateInRoom {
		return false
	}
	s.state = StateActivated
	s.activated = true
	return true
}

// MarkInbound records the arrival of any inbound packet, resetting the
// client-timeout clock.
func (s *Session) MarkInbound(now time.Time) {
	s.mu.Lock()
	s.lastInbound = now
	s.mu.Unlock()
}

// TimedOut reports whether no inbound packet has arrived for longer than
// timeout, measured against now.
func (s *Session) TimedOut(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastInbound.IsZero() {
		return false
	}
	return now.Sub(s.lastInbound) > timeout
}

// Close transitions to Closing (if not already terminal) and records why.
// It is idempotent: calling it twice has the same visible effect as once
// (§8 invariant).
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()
	log.Printf("[session %s] closing: %s", s.ID, reason)
}

// Terminate marks the final state, called once room cleanup has completed.
func (s *Session) Terminate() {
	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
}

// ShouldSuppress applies the PROBING-phase suppression rule (§4.4): it
// reports true for a PROBING packet received before activation, which is
// consumed without being handed to the room for broadcast. It does not
// change state; on the first non-PROBING packet the caller is expected to
// activate the session.
func (s *Session) ShouldSuppress(phase wire.ConnectionPhase) bool {
	return !s.Activated() && phase == wire.PhaseProbing
}

// HeartbeatLoop emits a HEARTBEAT media packet on Conn every interval until
// ctx is canceled. Run as its own goroutine alongside the session's read
// loop.
func (s *Session) HeartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := wire.MediaPacket{MediaType: wire.MediaHeartbeat, Email: s.Identity.Email, TimestampMs: time.Now().UnixMilli()}
			wrapper := wire.PacketWrapper{
				PacketType: wire.PacketMedia,
				Email:      s.Identity.Email,
				SessionID:  string(s.ID),
				Data:       hb.Encode(),
			}
			encoded := wrapper.Encode()
			if err := s.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: encoded}); err != nil {
				return
			}
		}
	}
}

// ErrorFrame builds a MEETING ERROR packet carrying reason, for use when
// failing a session during authentication or join (§4.4 failure semantics).
func ErrorFrame(reason CloseReason, detail string) []byte {
	mp := wire.MeetingPacket{
		EventType: wire.MeetingError,
		Message:   fmt.Sprintf("%s: %s", reason, detail),
	}
	wrapper := wire.PacketWrapper{PacketType: wire.PacketMeeting, Data: mp.Encode()}
	return wrapper.Encode()
}
