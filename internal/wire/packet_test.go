package wire

import (
	"bytes"
	"testing"
)

func TestPacketWrapperRoundTrip(t *testing.T) {
	p := &PacketWrapper{
		PacketType:      PacketMedia,
		Email:           "alice@example.com",
		SessionID:       "sess-123",
		ConnectionPhase: PhaseActive,
		Data:            []byte("payload bytes"),
	}

	got, err := DecodePacketWrapper(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PacketType != p.PacketType || got.Email != p.Email || got.SessionID != p.SessionID ||
		got.ConnectionPhase != p.ConnectionPhase || !bytes.Equal(got.Data, p.Data) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestMediaPacketRoundTripAudio(t *testing.T) {
	m := &MediaPacket{
		MediaType:   MediaAudio,
		Email:       "bob@example.com",
		TimestampMs: 12345,
		DurationMs:  20,
		FrameType:   FrameDelta,
		Data:        []byte{1, 2, 3, 4},
		AudioMetadata: &AudioMetadata{
			Sequence:   7,
			SampleRate: 48000,
			Channels:   2,
			FrameCount: 960,
			Format:     "opus",
		},
	}

	got, err := DecodeMediaPacket(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MediaType != m.MediaType || got.TimestampMs != m.TimestampMs || got.AudioMetadata == nil {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if *got.AudioMetadata != *m.AudioMetadata {
		t.Fatalf("audio metadata mismatch: got %+v want %+v", got.AudioMetadata, m.AudioMetadata)
	}
}

func TestMediaPacketRoundTripVideo(t *testing.T) {
	m := &MediaPacket{
		MediaType:     MediaVideo,
		FrameType:     FrameKey,
		Data:          []byte{9, 9, 9},
		VideoMetadata: &VideoMetadata{Sequence: 42},
	}
	got, err := DecodeMediaPacket(m.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.VideoMetadata == nil || got.VideoMetadata.Sequence != 42 {
		t.Fatalf("video metadata mismatch: %+v", got.VideoMetadata)
	}
}

func TestMeetingPacketRoundTrip(t *testing.T) {
	e := &MeetingPacket{
		EventType:   MeetingEnded,
		RoomID:      "r1",
		StartTimeMs: 1000,
		EndTimeMs:   5000,
		Message:     "host_left",
	}
	got, err := DecodeMeetingPacket(e.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *e {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, e)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodePacketWrapper([]byte{0xFF}); err == nil {
		t.Fatal("expected error decoding truncated buffer")
	}
}

func TestClassify(t *testing.T) {
	rtt := &PacketWrapper{
		PacketType: PacketMedia,
		Data: (&MediaPacket{
			MediaType:   MediaRTT,
			TimestampMs: 12345,
		}).Encode(),
	}
	c := Classify(rtt.Encode())
	if c.Kind != KindRTT {
		t.Fatalf("expected KindRTT, got %v", c.Kind)
	}
	if c.Media == nil || c.Media.TimestampMs != 12345 {
		t.Fatalf("expected parsed RTT media, got %+v", c.Media)
	}

	health := &PacketWrapper{PacketType: PacketHealth}
	if c := Classify(health.Encode()); c.Kind != KindHealth {
		t.Fatalf("expected KindHealth, got %v", c.Kind)
	}

	meeting := &PacketWrapper{PacketType: PacketMeeting}
	if c := Classify(meeting.Encode()); c.Kind != KindMeeting {
		t.Fatalf("expected KindMeeting, got %v", c.Kind)
	}

	key := &PacketWrapper{PacketType: PacketAESKey, Email: "bob@example.com"}
	if c := Classify(key.Encode()); c.Kind != KindKeyExchange {
		t.Fatalf("expected KindKeyExchange, got %v", c.Kind)
	}

	if c := Classify(nil); c.Kind != KindData {
		t.Fatalf("empty payload should classify as Data, got %v", c.Kind)
	}

	if c := Classify([]byte{0xFF}); c.Kind != KindMalformed {
		t.Fatalf("truncated payload should classify as Malformed, got %v", c.Kind)
	}

	unknown := &PacketWrapper{PacketType: PacketType(99)}
	if c := Classify(unknown.Encode()); c.Kind != KindData {
		t.Fatalf("unknown packet_type should classify as Data, got %v", c.Kind)
	}
}
