// Package wire defines the outer PacketWrapper envelope and the inner
// MediaPacket/MeetingPacket records exchanged between clients and the room
// server, plus the classifier that decides how an inbound packet is routed.
//
// The wire layout is a hand-rolled, length-prefixed binary record rather than
// a generated protobuf/flatbuffers codec: the schema source for the deployed
// format did not survive retrieval, so this package reproduces the same
// externally-visible fields (packet_type, email, session_id,
// connection_phase, data) byte-for-byte stable, in the same spirit as
// hand-rolled [senderID:2][seq:2][payload]-style datagram headers.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the outer envelope discriminant.
type PacketType uint8

const (
	PacketUnknown PacketType = iota
	PacketMedia
	PacketMeeting
	PacketHealth
	PacketDiagnostics
	PacketConnection
	PacketAESKey
	PacketRSAPubKey
)

func (t PacketType) String() string {
	switch t {
	case PacketMedia:
		return "MEDIA"
	case PacketMeeting:
		return "MEETING"
	case PacketHealth:
		return "HEALTH"
	case PacketDiagnostics:
		return "DIAGNOSTICS"
	case PacketConnection:
		return "CONNECTION"
	case PacketAESKey:
		return "AES_KEY"
	case PacketRSAPubKey:
		return "RSA_PUB_KEY"
	default:
		return "UNKNOWN"
	}
}

// ConnectionPhase governs session activation (see session.Session.ShouldSuppress).
type ConnectionPhase uint8

const (
	PhaseUnspecified ConnectionPhase = iota
	PhaseProbing
	PhaseActive
)

// PacketWrapper is the outer envelope carried over every transport.
type PacketWrapper struct {
	PacketType      PacketType
	Email           string
	SessionID       string
	ConnectionPhase ConnectionPhase
	Data            []byte
}

// maxFieldLen bounds any length-prefixed string/blob field to guard against
// a corrupt or hostile length prefix triggering a huge allocation.
const maxFieldLen = 16 << 20 // 16 MiB

// Encode serializes p into its binary wire representation.
func (p *PacketWrapper) Encode() []byte {
	emailB := []byte(p.Email)
	sidB := []byte(p.SessionID)

	buf := make([]byte, 0, 1+2+len(emailB)+2+len(sidB)+1+4+len(p.Data))
	buf = append(buf, byte(p.PacketType))
	buf = appendLenPrefixed16(buf, emailB)
	buf = appendLenPrefixed16(buf, sidB)
	buf = append(buf, byte(p.ConnectionPhase))
	buf = appendLenPrefixed32(buf, p.Data)
	return buf
}

// DecodePacketWrapper parses the outer envelope. A malformed or truncated
// buffer returns an error; callers that want §4.1's "Malformed" classifier
// behavior should route that error through Classify.
func DecodePacketWrapper(b []byte) (*PacketWrapper, error) {
	r := &byteReader{buf: b}

	typeByte, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read packet_type: %w", err)
	}
	email, err := r.readLenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("wire: read email: %w", err)
	}
	sid, err := r.readLenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("wire: read session_id: %w", err)
	}
	phaseByte, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read connection_phase: %w", err)
	}
	data, err := r.readLenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("wire: read data: %w", err)
	}

	return &PacketWrapper{
		PacketType:      PacketType(typeByte),
		Email:           string(email),
		SessionID:       string(sid),
		ConnectionPhase: ConnectionPhase(phaseByte),
		Data:            data,
	}, nil
}

// MediaType is the MediaPacket sub-kind.
type MediaType uint8

const (
	MediaAudio MediaType = iota
	MediaVideo
	MediaScreen
	MediaHeartbeat
	MediaRTT
)

func (t MediaType) String() string {
	switch t {
	case MediaAudio:
		return "audio"
	case MediaVideo:
		return "video"
	case MediaScreen:
		return "screen"
	case MediaHeartbeat:
		return "heartbeat"
	case MediaRTT:
		return "rtt"
	default:
		return "unknown"
	}
}

// FrameType distinguishes key (full) frames from delta (predicted) frames in
// a video stream, and carries the KEY_REQUEST upstream signal (§4.6, §4.8).
type FrameType uint8

const (
	FrameDelta FrameType = iota
	FrameKey
	FrameKeyRequest
)

// AudioMetadata mirrors §3's audio_metadata record.
type AudioMetadata struct {
	Sequence   uint16
	SampleRate uint32
	Channels   uint8
	FrameCount uint32
	Format     string
}

// VideoMetadata mirrors §3's video_metadata record.
type VideoMetadata struct {
	Sequence uint16
}

// MediaPacket is the inner record carried in PacketWrapper.Data when
// PacketType == PacketMedia.
type MediaPacket struct {
	MediaType     MediaType
	Email         string
	TimestampMs   int64
	DurationMs    int64
	FrameType     FrameType
	Data          []byte
	AudioMetadata *AudioMetadata // set only when MediaType == MediaAudio
	VideoMetadata *VideoMetadata // set only when MediaType == MediaVideo or MediaScreen
}

// Encode serializes m into a binary record suitable for PacketWrapper.Data.
func (m *MediaPacket) Encode() []byte {
	emailB := []byte(m.Email)
	buf := make([]byte, 0, 32+len(emailB)+len(m.Data))
	buf = append(buf, byte(m.MediaType))
	buf = appendLenPrefixed16(buf, emailB)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.TimestampMs))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.DurationMs))
	buf = append(buf, byte(m.FrameType))

	switch {
	case m.AudioMetadata != nil:
		buf = append(buf, 1) // metadata tag: audio
		buf = binary.BigEndian.AppendUint16(buf, m.AudioMetadata.Sequence)
		buf = binary.BigEndian.AppendUint32(buf, m.AudioMetadata.SampleRate)
		buf = append(buf, m.AudioMetadata.Channels)
		buf = binary.BigEndian.AppendUint32(buf, m.AudioMetadata.FrameCount)
		buf = appendLenPrefixed16(buf, []byte(m.AudioMetadata.Format))
	case m.VideoMetadata != nil:
		buf = append(buf, 2) // metadata tag: video
		buf = binary.BigEndian.AppendUint16(buf, m.VideoMetadata.Sequence)
	default:
		buf = append(buf, 0) // metadata tag: none
	}

	buf = appendLenPrefixed32(buf, m.Data)
	return buf
}

// DecodeMediaPacket parses a MediaPacket record produced by Encode.
func DecodeMediaPacket(b []byte) (*MediaPacket, error) {
	r := &byteReader{buf: b}

	typeByte, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read media_type: %w", err)
	}
	email, err := r.readLenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("wire: read email: %w", err)
	}
	ts, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("wire: read timestamp: %w", err)
	}
	dur, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("wire: read duration: %w", err)
	}
	frameByte, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read frame_type: %w", err)
	}
	metaTag, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read metadata tag: %w", err)
	}

	m := &MediaPacket{
		MediaType:   MediaType(typeByte),
		Email:       string(email),
		TimestampMs: int64(ts),
		DurationMs:  int64(dur),
		FrameType:   FrameType(frameByte),
	}

	switch metaTag {
	case 1:
		seq, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("wire: read audio seq: %w", err)
		}
		rate, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("wire: read sample_rate: %w", err)
		}
		channels, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("wire: read channels: %w", err)
		}
		frameCount, err := r.readUint32()
		if err != nil {
			return nil, fmt.Errorf("wire: read frame_count: %w", err)
		}
		format, err := r.readLenPrefixed16()
		if err != nil {
			return nil, fmt.Errorf("wire: read format: %w", err)
		}
		m.AudioMetadata = &AudioMetadata{
			Sequence:   seq,
			SampleRate: rate,
			Channels:   channels,
			FrameCount: frameCount,
			Format:     string(format),
		}
	case 2:
		seq, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("wire: read video seq: %w", err)
		}
		m.VideoMetadata = &VideoMetadata{Sequence: seq}
	}

	data, err := r.readLenPrefixed32()
	if err != nil {
		return nil, fmt.Errorf("wire: read data: %w", err)
	}
	m.Data = data
	return m, nil
}

// MeetingEventType is the MeetingPacket sub-kind (§6 MeetingPacket).
type MeetingEventType uint8

const (
	MeetingStarted MeetingEventType = iota
	MeetingEnded
	MeetingRosterUpdate
	MeetingError
)

// MeetingPacket is the inner record carried when PacketType == PacketMeeting.
type MeetingPacket struct {
	EventType   MeetingEventType
	RoomID      string
	StartTimeMs int64
	EndTimeMs   int64
	Message     string
}

// Encode serializes e into a binary record suitable for PacketWrapper.Data.
func (e *MeetingPacket) Encode() []byte {
	roomB := []byte(e.RoomID)
	msgB := []byte(e.Message)
	buf := make([]byte, 0, 1+2+len(roomB)+8+8+2+len(msgB))
	buf = append(buf, byte(e.EventType))
	buf = appendLenPrefixed16(buf, roomB)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.StartTimeMs))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.EndTimeMs))
	buf = appendLenPrefixed16(buf, msgB)
	return buf
}

// DecodeMeetingPacket parses a MeetingPacket record produced by Encode.
func DecodeMeetingPacket(b []byte) (*MeetingPacket, error) {
	r := &byteReader{buf: b}

	typeByte, err := r.readByte()
	if err != nil {
		return nil, fmt.Errorf("wire: read event_type: %w", err)
	}
	room, err := r.readLenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("wire: read room_id: %w", err)
	}
	start, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("wire: read start_time_ms: %w", err)
	}
	end, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("wire: read end_time_ms: %w", err)
	}
	msg, err := r.readLenPrefixed16()
	if err != nil {
		return nil, fmt.Errorf("wire: read message: %w", err)
	}

	return &MeetingPacket{
		EventType:   MeetingEventType(typeByte),
		RoomID:      string(room),
		StartTimeMs: int64(start),
		EndTimeMs:   int64(end),
		Message:     string(msg),
	}, nil
}

// --- small binary cursor helpers -------------------------------------------

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readLenPrefixed16() ([]byte, error) {
	n, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if int(n) > maxFieldLen || r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("field length %d out of range", n)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *byteReader) readLenPrefixed32() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if int(n) > maxFieldLen || r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("field length %d out of range", n)
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func appendLenPrefixed16(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
	return append(buf, field...)
}

func appendLenPrefixed32(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}
