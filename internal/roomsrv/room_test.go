package roomsrv

import (
	"context"
	"testing"

	"github.com/vcsfu/core/internal/auth"
	"github.com/vcsfu/core/internal/session"
	"github.com/vcsfu/core/internal/transport"
	"github.com/vcsfu/core/internal/wire"
)

// fakeConn is a minimal transport.Conn double for exercising the room
// server without a real socket, mirroring the teacher's DatagramSender mock
// seam in client.go.
type fakeConn struct {
	sent   [][]byte
	closed bool
}

func (f *fakeConn) Receive(ctx context.Context) ([]byte, error) { <-ctx.Done(); return nil, ctx.Err() }
func (f *fakeConn) Send(fr transport.Frame) error                { f.sent = append(f.sent, fr.Data); return nil }
func (f *fakeConn) RemoteAddr() string                           { return "fake" }
func (f *fakeConn) Close(string) error                           { f.closed = true; return nil }

func newTestSession(t *testing.T, email, room string) (*session.Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess := session.New(conn)
	if !sess.Authenticate(auth.Identity{Email: email, Room: room, DisplayName: email}) {
		t.Fatal("authenticate failed")
	}
	return sess, conn
}

func TestJoinRoomFirstMemberGetsMeetingStarted(t *testing.T) {
	srv := New(nil)
	sess, conn := newTestSession(t, "alice@example.com", "r1")
	srv.Connect(sess)

	if result := srv.JoinRoom(sess, "r1"); result != JoinOK {
		t.Fatalf("expected JoinOK, got %v", result)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("expected one MEETING_STARTED frame, got %d", len(conn.sent))
	}
	wrapper, err := wire.DecodePacketWrapper(conn.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mp, err := wire.DecodeMeetingPacket(wrapper.Data)
	if err != nil {
		t.Fatalf("decode meeting: %v", err)
	}
	if mp.EventType != wire.MeetingStarted {
		t.Fatalf("expected MeetingStarted, got %v", mp.EventType)
	}
}

func TestJoinRoomDuplicateEmailRejected(t *testing.T) {
	srv := New(nil)
	sess1, _ := newTestSession(t, "alice@example.com", "r1")
	srv.Connect(sess1)
	srv.JoinRoom(sess1, "r1")

	sess2, _ := newTestSession(t, "alice@example.com", "r1")
	srv.Connect(sess2)
	if result := srv.JoinRoom(sess2, "r1"); result != JoinDuplicateEmail {
		t.Fatalf("expected JoinDuplicateEmail, got %v", result)
	}
}

func TestJoinRoomFull(t *testing.T) {
	srv := New(nil)
	srv.SetMaxRoomSize(1)
	sess1, _ := newTestSession(t, "alice@example.com", "r1")
	srv.Connect(sess1)
	srv.JoinRoom(sess1, "r1")

	sess2, _ := newTestSession(t, "bob@example.com", "r1")
	srv.Connect(sess2)
	if result := srv.JoinRoom(sess2, "r1"); result != JoinRoomFull {
		t.Fatalf("expected JoinRoomFull, got %v", result)
	}
}

func TestBroadcastOnlyReachesActivatedNonSenders(t *testing.T) {
	srv := New(nil)
	alice, aliceConn := newTestSession(t, "alice@example.com", "r1")
	bob, bobConn := newTestSession(t, "bob@example.com", "r1")
	carol, carolConn := newTestSession(t, "carol@example.com", "r1")

	srv.Connect(alice)
	srv.Connect(bob)
	srv.Connect(carol)
	srv.JoinRoom(alice, "r1")
	srv.JoinRoom(bob, "r1")
	srv.JoinRoom(carol, "r1")

	srv.Activate(alice)
	srv.Activate(bob)
	// carol never activates.

	aliceConn.sent = nil
	bobConn.sent = nil
	carolConn.sent = nil

	srv.Broadcast(alice.ID, []byte("media-frame"))

	if len(aliceConn.sent) != 0 {
		t.Fatal("sender should not receive its own broadcast")
	}
	if len(bobConn.sent) != 1 {
		t.Fatalf("expected bob to receive the broadcast, got %d frames", len(bobConn.sent))
	}
	if len(carolConn.sent) != 0 {
		t.Fatal("non-activated carol should not receive the broadcast")
	}
}

func TestLeaveAsHostEndsMeetingAndForceDisconnectsRest(t *testing.T) {
	srv := New(nil)
	alice, _ := newTestSession(t, "alice@example.com", "r1")
	bob, bobConn := newTestSession(t, "bob@example.com", "r1")

	srv.Connect(alice)
	srv.Connect(bob)
	srv.JoinRoom(alice, "r1") // alice is host (first joiner)
	srv.JoinRoom(bob, "r1")
	srv.Activate(bob)

	bobConn.sent = nil
	srv.Leave(alice.ID)

	if srv.RoomSize("r1") != 0 {
		t.Fatal("room should be torn down once the host leaves")
	}
	if !bobConn.closed {
		t.Fatal("expected bob's transport to be closed after host left")
	}
	foundEnded := false
	for _, frame := range bobConn.sent {
		wrapper, err := wire.DecodePacketWrapper(frame)
		if err != nil {
			continue
		}
		mp, err := wire.DecodeMeetingPacket(wrapper.Data)
		if err == nil && mp.EventType == wire.MeetingEnded {
			foundEnded = true
		}
	}
	if !foundEnded {
		t.Fatal("expected a MEETING_ENDED frame sent to bob before disconnect")
	}
}

func TestForceDisconnectIdempotent(t *testing.T) {
	srv := New(nil)
	sess, conn := newTestSession(t, "alice@example.com", "r1")
	srv.Connect(sess)
	srv.JoinRoom(sess, "r1")

	srv.ForceDisconnect(sess.ID, "test")
	firstCount := len(conn.sent)
	srv.ForceDisconnect(sess.ID, "test") // second call must be a no-op
	if len(conn.sent) != firstCount {
		t.Fatalf("expected no additional frames on repeated force-disconnect, got %d vs %d", len(conn.sent), firstCount)
	}
}

func TestRecipientHealthBlocksAfterSustainedFailures(t *testing.T) {
	h := &recipientHealth{}
	for i := uint32(0); i < recipientFailureThreshold; i++ {
		h.fail()
	}
	if !h.blocked() {
		t.Fatal("expected the probe to block after threshold failures")
	}
	if h.clear() != true {
		t.Fatal("expected clear to report the probe had been open")
	}
	if h.blocked() {
		t.Fatal("expected the probe closed after a success")
	}
}
