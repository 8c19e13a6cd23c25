// Package roomsrv implements the room server (C3): the registry of rooms
// and sessions, join/leave/broadcast serialization, and MEETING_STARTED /
// MEETING_ENDED emission (E1).
//
// Structurally this generalizes the teacher's Room type (room.go):
// map[id]*Client rosters guarded by one mutex, a per-recipient health probe
// (sendHealth/shouldSkip in client.go) driving non-blocking fan-out, and a
// snapshot of broadcast recipients taken into a freshly allocated slice
// under the read lock before releasing it.
package roomsrv

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/session"
	"github.com/vcsfu/core/internal/transport"
	"github.com/vcsfu/core/internal/wire"
)

// Per-recipient health-probe thresholds (§4.5, §5): a recipient is skipped
// from Broadcast fan-out once recipientFailureThreshold consecutive sends
// have failed, and probed again every recipientProbeInterval skips to
// notice recovery without paying the send cost on every packet.
const (
	recipientFailureThreshold uint32 = 50
	recipientProbeInterval    uint32 = 25
)

// recipientHealth tracks one room member's outbound send health as seen by
// Broadcast, so a member whose transport has gone unresponsive doesn't cost
// every subsequent fan-out a blocked or failed send.
type recipientHealth struct {
	consecutiveFailures atomic.Uint32
	skipsSinceOpen      atomic.Uint32
}

// blocked reports whether fan-out should skip this recipient: the probe is
// closed (healthy) below threshold, and once open it only lets one attempt
// through every recipientProbeInterval skips.
func (h *recipientHealth) blocked() bool {
	if h.consecutiveFailures.Load() < recipientFailureThreshold {
		return false
	}
	s := h.skipsSinceOpen.Add(1)
	return s%recipientProbeInterval != 0
}

// fail records a send failure and returns the new consecutive count.
func (h *recipientHealth) fail() uint32 {
	return h.consecutiveFailures.Add(1)
}

// clear records a send success, resetting the probe. It reports whether the
// probe had been open, i.e. this success was a recovery.
func (h *recipientHealth) clear() bool {
	wasOpen := h.consecutiveFailures.Swap(0) >= recipientFailureThreshold
	if wasOpen {
		h.skipsSinceOpen.Store(0)
	}
	return wasOpen
}

// JoinResult is the outcome of JoinRoom.
type JoinResult int

const (
	JoinOK JoinResult = iota
	JoinRoomFull
	JoinNotFound
	JoinDuplicateEmail
)

func (r JoinResult) String() string {
	switch r {
	case JoinOK:
		return "ok"
	case JoinRoomFull:
		return "room_full"
	case JoinNotFound:
		return "not_found"
	case JoinDuplicateEmail:
		return "duplicate_email"
	default:
		return "unknown"
	}
}

// DefaultMaxRoomSize bounds room membership when Server.SetMaxRoomSize is
// never called.
const DefaultMaxRoomSize = 64

// member is one session's membership record inside a room.
type member struct {
	sess      *session.Session
	activated bool
	health    recipientHealth
}

// room is one logical meeting: a roster of members plus its lifecycle
// timestamps, owned exclusively by Server's single mutation lock.
type room struct {
	id        string
	members   map[session.Id]*member
	hostID    session.Id
	startedAt time.Time
}

// Server is the room server: the single logical actor owning every room and
// session registry in the process. All exported methods take the internal
// lock for their full critical section except the hot broadcast path, which
// snapshots recipients under a read lock and releases it before any I/O.
type Server struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	sessions    map[session.Id]*session.Session
	maxRoomSize int

	diag *diag.Bus
}

// New constructs an empty room server. bus may be nil to disable diagnostics.
func New(bus *diag.Bus) *Server {
	return &Server{
		rooms:       make(map[string]*room),
		sessions:    make(map[session.Id]*session.Session),
		maxRoomSize: DefaultMaxRoomSize,
		diag:        bus,
	}
}

// SetMaxRoomSize overrides the default room capacity.
func (s *Server) SetMaxRoomSize(n int) {
	s.mu.Lock()
	s.maxRoomSize = n
	s.mu.Unlock()
}

// Connect registers sess. Idempotent per SessionId.
func (s *Server) Connect(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// JoinRoom adds sess to roomID, creating it lazily if absent. The first
// member to join becomes host and receives MEETING_STARTED.
func (s *Server) JoinRoom(sess *session.Session, roomID string) JoinResult {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{id: roomID, members: make(map[session.Id]*member), startedAt: time.Now()}
		s.rooms[roomID] = r
	}

	if len(r.members) >= s.maxRoomSize {
		s.mu.Unlock()
		return JoinRoomFull
	}
	for _, m := range r.members {
		if m.sess.Identity.Email == sess.Identity.Email {
			s.mu.Unlock()
			return JoinDuplicateEmail
		}
	}

	isFirst := len(r.members) == 0
	r.members[sess.ID] = &member{sess: sess}
	if isFirst {
		r.hostID = sess.ID
	}
	startedAt := r.startedAt
	s.mu.Unlock()

	if !sess.JoinRoom(roomID) {
		s.leaveLocked(sess.ID, roomID)
		return JoinNotFound
	}

	if isFirst {
		s.sendMeetingEvent(sess, wire.MeetingStarted, roomID, startedAt, time.Time{}, "")
	}
	return JoinOK
}

// Activate marks sess broadcast-eligible and announces it to the room via a
// ROSTER_UPDATE frame.
func (s *Server) Activate(sess *session.Session) {
	s.mu.Lock()
	r, ok := s.rooms[sess.RoomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m, ok := r.members[sess.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	m.activated = true
	s.mu.Unlock()

	sess.Activate()
	s.BroadcastMeetingEvent(sess.RoomID, wire.MeetingRosterUpdate, "")
}

// broadcastTarget is the snapshot record used by Broadcast and
// BroadcastMeetingEvent to fan out without holding any lock during I/O.
type broadcastTarget struct {
	id     session.Id
	conn   transport.Conn
	health *recipientHealth
}

// Broadcast fans data out to every activated member of senderID's room
// except the sender. Recipients whose health probe is open are skipped; a
// send failure counts toward that probe (§4.5, §5).
func (s *Server) Broadcast(senderID session.Id, data []byte) {
	s.mu.RLock()
	sess, ok := s.sessions[senderID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	r, ok := s.rooms[sess.RoomID]
	if !ok {
		s.mu.RUnlock()
		return
	}

	targets := make([]broadcastTarget, 0, len(r.members))
	for id, m := range r.members {
		if id == senderID || !m.activated {
			continue
		}
		targets = append(targets, broadcastTarget{id: id, conn: m.sess.Conn, health: &m.health})
	}
	s.mu.RUnlock()

	for _, t := range targets {
		if t.health.blocked() {
			continue
		}
		if err := t.conn.Send(transport.Frame{Class: transport.ClassMedia, Data: data}); err != nil {
			n := t.health.fail()
			if n == recipientFailureThreshold {
				log.Printf("[roomsrv] health probe opened for session %s", t.id)
			}
			continue
		}
		if t.health.clear() {
			log.Printf("[roomsrv] health probe closed for session %s", t.id)
		}
	}
}

// Targeted delivers data to every member of senderID's room whose identity
// email matches recipientEmail, activated or not (key-exchange packets,
// §4.5).
func (s *Server) Targeted(senderID session.Id, recipientEmail string, data []byte) {
	s.mu.RLock()
	sess, ok := s.sessions[senderID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	r, ok := s.rooms[sess.RoomID]
	if !ok {
		s.mu.RUnlock()
		return
	}

	targets := make([]broadcastTarget, 0)
	for id, m := range r.members {
		if m.sess.Identity.Email == recipientEmail {
			targets = append(targets, broadcastTarget{id: id, conn: m.sess.Conn, health: &m.health})
		}
	}
	s.mu.RUnlock()

	for _, t := range targets {
		_ = t.conn.Send(transport.Frame{Class: transport.ClassControl, Data: data})
	}
}

// Leave removes sessionID from its room. If it was the host, or the room is
// now empty, MEETING_ENDED is emitted and any remaining members are
// force-disconnected (§4.5 tear-down ordering: event before transport close).
func (s *Server) Leave(sessionID session.Id) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	roomID := sess.RoomID
	s.mu.Unlock()

	s.leaveLocked(sessionID, roomID)
}

func (s *Server) leaveLocked(sessionID session.Id, roomID string) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return
	}

	wasHost := r.hostID == sessionID
	delete(r.members, sessionID)
	delete(s.sessions, sessionID)
	empty := len(r.members) == 0

	var remaining []*member
	if wasHost || empty {
		remaining = make([]*member, 0, len(r.members))
		for _, m := range r.members {
			remaining = append(remaining, m)
		}
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()

	if wasHost || empty {
		s.sendMeetingEventToAll(remaining, roomID, wire.MeetingEnded, "host left or room emptied")
		for _, m := range remaining {
			s.ForceDisconnect(m.sess.ID, "MEETING_ENDED")
		}
	}
}

// ForceDisconnect asks sessionID's transport to close with a MEETING error
// frame. Idempotent: a session already closing is left alone.
func (s *Server) ForceDisconnect(sessionID session.Id, reason string) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if sess.State() == session.StateClosing || sess.State() == session.StateTerminated {
		return
	}
	errFrame := session.ErrorFrame(session.ReasonForced, reason)
	_ = sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: errFrame})
	sess.Close(session.ReasonForced)
	_ = sess.Conn.Close(reason)
}

// BroadcastMeetingEvent emits a MEETING packet of eventType to every member
// of roomID.
func (s *Server) BroadcastMeetingEvent(roomID string, eventType wire.MeetingEventType, message string) {
	s.mu.RLock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	members := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	s.mu.RUnlock()

	mp := wire.MeetingPacket{EventType: eventType, RoomID: roomID, Message: message}
	wrapper := wire.PacketWrapper{PacketType: wire.PacketMeeting, Data: mp.Encode()}
	data := wrapper.Encode()
	for _, m := range members {
		_ = m.sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: data})
	}
}

func (s *Server) sendMeetingEvent(sess *session.Session, eventType wire.MeetingEventType, roomID string, startedAt, endedAt time.Time, message string) {
	mp := wire.MeetingPacket{EventType: eventType, RoomID: roomID, Message: message}
	if !startedAt.IsZero() {
		mp.StartTimeMs = startedAt.UnixMilli()
	}
	if !endedAt.IsZero() {
		mp.EndTimeMs = endedAt.UnixMilli()
	}
	wrapper := wire.PacketWrapper{PacketType: wire.PacketMeeting, Data: mp.Encode()}
	_ = sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: wrapper.Encode()})

	if s.diag != nil {
		s.diag.Publish(diag.Event{Subsystem: "roomsrv", StreamID: roomID, TsMs: time.Now().UnixMilli()})
	}
}

func (s *Server) sendMeetingEventToAll(members []*member, roomID string, eventType wire.MeetingEventType, message string) {
	mp := wire.MeetingPacket{EventType: eventType, RoomID: roomID, Message: message, EndTimeMs: time.Now().UnixMilli()}
	wrapper := wire.PacketWrapper{PacketType: wire.PacketMeeting, Data: mp.Encode()}
	data := wrapper.Encode()
	for _, m := range members {
		_ = m.sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: data})
	}
}

// RoomSize returns the current membership count of roomID, for tests and
// diagnostics.
func (s *Server) RoomSize(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return len(r.members)
}
