package session

import (
	"testing"
	"time"

	"github.com/vcsfu/core/internal/auth"
	"github.com/vcsfu/core/internal/wire"
)

func TestSessionLifecycleHappyPath(t *testing.T) {
	s := New(nil)
	if s.State() != StateUnauthenticated {
		t.Fatalf("expected initial state unauthenticated, got %v", s.State())
	}
	if !s.Authenticate(auth.Identity{Email: "a@b.com", Room: "r1"}) {
		t.Fatal("authenticate failed")
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("expected authenticated, got %v", s.State())
	}
	if !s.JoinRoom("r1") {
		t.Fatal("join failed")
	}
	if s.State() != StateInRoom {
		t.Fatalf("expected in_room, got %v", s.State())
	}
	if s.Activated() {
		t.Fatal("should not be activated yet")
	}
	if !s.Activate() {
		t.Fatal("activate failed")
	}
	if !s.Activated() {
		t.Fatal("expected activated")
	}
	// Idempotent re-activate.
	if !s.Activate() {
		t.Fatal("re-activate should be a no-op success")
	}
}

func TestSessionInvalidTransitionsRejected(t *testing.T) {
	s := New(nil)
	if s.JoinRoom("r1") {
		t.Fatal("join should fail before authenticate")
	}
	if s.Activate() {
		t.Fatal("activate should fail before join")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := New(nil)
	s.Close(ReasonClientClosed)
	if s.State() != StateClosing {
		t.Fatalf("expected closing, got %v", s.State())
	}
	s.Close(ReasonForced) // second close must not change state or panic
	if s.State() != StateClosing {
		t.Fatalf("expected still closing, got %v", s.State())
	}
}

func TestSessionTimeout(t *testing.T) {
	s := New(nil)
	now := time.Now()
	s.MarkInbound(now)
	if s.TimedOut(now.Add(time.Second), 5*time.Second) {
		t.Fatal("should not be timed out yet")
	}
	if !s.TimedOut(now.Add(10*time.Second), 5*time.Second) {
		t.Fatal("expected timed out")
	}
}

func TestShouldSuppressProbingBeforeActivation(t *testing.T) {
	s := New(nil)
	if !s.ShouldSuppress(wire.PhaseProbing) {
		t.Fatal("expected suppression of PROBING packets before activation")
	}
	if s.ShouldSuppress(wire.PhaseActive) {
		t.Fatal("ACTIVE packets should not be suppressed")
	}
	s.Authenticate(auth.Identity{Email: "a@b.com", Room: "r1"})
	s.JoinRoom("r1")
	s.Activate()
	if s.ShouldSuppress(wire.PhaseProbing) {
		t.Fatal("once activated, nothing should be suppressed")
	}
}

func TestErrorFrameEncodesMeetingError(t *testing.T) {
	data := ErrorFrame(ReasonTokenInvalid, "bad signature")
	wrapper, err := wire.DecodePacketWrapper(data)
	if err != nil {
		t.Fatalf("decode wrapper: %v", err)
	}
	if wrapper.PacketType != wire.PacketMeeting {
		t.Fatalf("expected MEETING packet, got %v", wrapper.PacketType)
	}
	mp, err := wire.DecodeMeetingPacket(wrapper.Data)
	if err != nil {
		t.Fatalf("decode meeting packet: %v", err)
	}
	if mp.EventType != wire.MeetingError {
		t.Fatalf("expected MeetingError, got %v", mp.EventType)
	}
}
