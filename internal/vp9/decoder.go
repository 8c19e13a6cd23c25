// Package vp9 implements the VP9 decoder pipeline (L5, §4.8): it consumes
// frames released by the video jitter buffer, tracks a ready-to-decode /
// awaiting-key state gated on frame dependency (DELTA frames dropped until
// a KEY frame has been seen; a decode error re-arms the wait and emits an
// upstream KEY_REQUEST), and emits decoded frames downstream.
//
// The ready/awaiting-key gate mirrors the frame-boundary classification
// idiom in the pack's H.264 NAL parser (IsFrameStart/IsFrameEnd/IsIDR in
// rtpfix/h264.go), generalized from "is this NAL an IDR" to "is this
// VP9 frame a KEY frame I can anchor decode on".
package vp9

import (
	"errors"
	"sync"

	"github.com/vcsfu/core/internal/wire"
)

// ErrNotReady is returned by Submit when a DELTA frame arrives while the
// pipeline is awaiting a KEY frame (before the first one, or after a decode
// error).
var ErrNotReady = errors.New("vp9: awaiting key frame")

// Frame is one decoded output frame handed downstream.
type Frame struct {
	Sequence uint16
	Payload  []byte // opaque decoded picture; this package does not interpret pixel data
}

// Decode is injected so Pipeline can be tested without a real VP9 decoder
// binding. It must return an error for any frame it cannot decode.
type Decode func(frameType wire.FrameType, data []byte) ([]byte, error)

// Pipeline is the per-peer decode state machine. Decode is single-threaded
// per peer: callers own serializing their own calls to Submit (the spec's
// "single-threaded per peer, parallel across peers" model is realized by
// giving each peer its own *Pipeline run from its own goroutine).
type Pipeline struct {
	mu          sync.Mutex
	awaitingKey bool
	decode      Decode
	onKeyReq    func()

	droppedDeltas uint64
	decodeErrors  uint64
}

// New constructs a Pipeline in the awaiting-key state. decode performs the
// actual VP9 decode (or a stub in tests); onKeyRequest is invoked whenever
// the pipeline needs a fresh KEY frame upstream.
func New(decode Decode, onKeyRequest func()) *Pipeline {
	return &Pipeline{
		awaitingKey: true,
		decode:      decode,
		onKeyReq:    onKeyRequest,
	}
}

// Submit feeds one frame (in jitter-buffer release order) through the
// pipeline. Returns the decoded Frame on success; ErrNotReady if a DELTA
// frame was dropped because no KEY frame has been seen yet.
func (p *Pipeline) Submit(seq uint16, frameType wire.FrameType, data []byte) (Frame, error) {
	p.mu.Lock()
	if p.awaitingKey && frameType != wire.FrameKey {
		p.droppedDeltas++
		p.mu.Unlock()
		return Frame{}, ErrNotReady
	}
	p.mu.Unlock()

	payload, err := p.decode(frameType, data)
	if err != nil {
		p.mu.Lock()
		p.awaitingKey = true
		p.decodeErrors++
		p.mu.Unlock()
		p.requestKey()
		return Frame{}, err
	}

	p.mu.Lock()
	if frameType == wire.FrameKey {
		p.awaitingKey = false
	}
	p.mu.Unlock()

	return Frame{Sequence: seq, Payload: payload}, nil
}

func (p *Pipeline) requestKey() {
	if p.onKeyReq != nil {
		p.onKeyReq()
	}
}

// AwaitingKey reports whether the pipeline currently requires a KEY frame
// before it will decode anything else.
func (p *Pipeline) AwaitingKey() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awaitingKey
}

// Stats exposes drop/error counters for diagnostics and tests.
type Stats struct {
	DroppedDeltas uint64
	DecodeErrors  uint64
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{DroppedDeltas: p.droppedDeltas, DecodeErrors: p.decodeErrors}
}
