// Package jitter implements the video jitter buffer (L3, §4.6): one
// instance per (sender, stream-kind) pair, holding out-of-order frames
// keyed by sender sequence number, gating DELTA frames on their anchoring
// KEY frame, and emitting KEY_REQUEST on large gaps or on first subscribe.
//
// Indexing frames by sequence number is grounded in the teacher's
// per-sender dgramCache in client.go (a fixed ring indexed by seq %
// dgramCacheSize); this package keeps frames in a map keyed by sequence
// number instead of a ring, and uses it as a reorder buffer gating playout
// on frame dependencies rather than a cache for NACK retransmit.
package jitter

import (
	"sync"
	"time"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/seqnum"
	"github.com/vcsfu/core/internal/wire"
)

// Defaults per §4.6/§5.
const (
	MinDelay = 60 * time.Millisecond
	MaxDelay = 500 * time.Millisecond
	JitterK  = 3

	MaxGap = 8 // sequence numbers tolerated before drop-to-keyframe
	WaitMs = 40 * time.Millisecond
)

// Entry is one inbound video frame awaiting playout.
type Entry struct {
	Sequence  uint16
	FrameType wire.FrameType
	Data      []byte
	ArrivedAt time.Time
}

// Stats reports the buffer's current state for diagnostics and tests.
type Stats struct {
	JitterMs    float64
	TargetDelay time.Duration
	Discarded   uint64
}

// VideoBuffer is one (sender, stream) jitter buffer instance.
type VideoBuffer struct {
	mu sync.Mutex

	entries map[uint16]Entry
	lowest  uint16 // oldest sequence still pending, valid once have is true
	have    bool

	awaitingKey bool      // true until the anchoring KEY frame has been seen at least once
	gapSince    time.Time // when the current missing-lowest-sequence gap started, zero if none
	lastArrival time.Time
	meanGap     float64 // running mean inter-arrival time, ms
	madGap      float64 // EWMA of absolute deviation from meanGap (jitter estimate)

	discarded uint64

	diagBus   *diag.Bus
	streamID  string
	keyReqFn  func()
}

// New constructs an empty buffer for one (sender, stream) pair. bus may be
// nil. onKeyRequest is invoked (possibly concurrently with other calls)
// whenever the buffer needs a fresh KEY frame upstream.
func New(bus *diag.Bus, streamID string, onKeyRequest func()) *VideoBuffer {
	return &VideoBuffer{
		entries:     make(map[uint16]Entry),
		awaitingKey: true,
		diagBus:     bus,
		streamID:    streamID,
		keyReqFn:    onKeyRequest,
	}
}

// Insert accepts an out-of-order frame. Frames whose sequence number lies
// behind the current playout horizon (already delivered or discarded) are
// dropped and counted.
func (b *VideoBuffer) Insert(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.have && seqnum.Less(e.Sequence, b.lowest) && e.Sequence != b.lowest {
		b.discarded++
		return
	}

	b.updateJitterLocked(e.ArrivedAt)
	b.entries[e.Sequence] = e

	if !b.have {
		b.lowest = e.Sequence
		b.have = true
		b.requestKeyLocked() // first subscribe
	}
}

func (b *VideoBuffer) updateJitterLocked(arrived time.Time) {
	if b.lastArrival.IsZero() {
		b.lastArrival = arrived
		return
	}
	gapMs := float64(arrived.Sub(b.lastArrival).Milliseconds())
	b.lastArrival = arrived

	const alpha = 0.1
	if b.meanGap == 0 {
		b.meanGap = gapMs
	} else {
		b.meanGap = (1-alpha)*b.meanGap + alpha*gapMs
	}
	dev := gapMs - b.meanGap
	if dev < 0 {
		dev = -dev
	}
	b.madGap = (1-alpha)*b.madGap + alpha*dev
}

func (b *VideoBuffer) targetDelayLocked() time.Duration {
	d := time.Duration(b.madGap*JitterK) * time.Millisecond
	if d < MinDelay {
		d = MinDelay
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return d
}

// PopForPlayout returns the next frame ready to feed the decoder, or false
// if none are ready yet. A DELTA frame is only released once every prior
// frame back to its anchoring KEY has been released; a gap wider than
// MaxGap triggers drop-to-keyframe, discarding intervening frames and
// requesting a new KEY.
func (b *VideoBuffer) PopForPlayout(now time.Time) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.have {
		return Entry{}, false
	}

	e, ok := b.entries[b.lowest]
	if ok {
		b.gapSince = time.Time{}
		if b.awaitingKey && e.FrameType != wire.FrameKey {
			delete(b.entries, b.lowest)
			b.discarded++
			b.lowest = seqnum.Add(b.lowest, 1)
			return Entry{}, false
		}
		if e.FrameType == wire.FrameKey {
			b.awaitingKey = false
		}
		delete(b.entries, b.lowest)
		b.lowest = seqnum.Add(b.lowest, 1)
		return e, true
	}

	// Gap: the next expected sequence hasn't arrived. Wait within MaxGap
	// sequence slots and WaitMs wall-clock time; once either bound is
	// exceeded, drop to the next KEY frame we do have buffered.
	if b.gapSince.IsZero() {
		b.gapSince = now
	}
	gap := b.scanGapLocked()
	if gap <= MaxGap && now.Sub(b.gapSince) < WaitMs {
		return Entry{}, false
	}
	b.dropToNextKeyLocked()
	b.gapSince = time.Time{}
	return Entry{}, false
}

// scanGapLocked returns how many consecutive sequence slots starting at
// b.lowest are missing from the buffer.
func (b *VideoBuffer) scanGapLocked() int {
	seq := b.lowest
	for i := 0; i < MaxGap+1; i++ {
		if _, ok := b.entries[seq]; ok {
			return i
		}
		seq = seqnum.Add(seq, 1)
	}
	return MaxGap + 1
}

func (b *VideoBuffer) dropToNextKeyLocked() {
	seq := b.lowest
	for i := 0; i < 1<<16; i++ {
		e, ok := b.entries[seq]
		if ok && e.FrameType == wire.FrameKey {
			b.lowest = seq
			b.awaitingKey = false
			b.requestKeyLocked()
			return
		}
		if ok {
			delete(b.entries, seq)
			b.discarded++
		}
		seq = seqnum.Add(seq, 1)
		if len(b.entries) == 0 {
			break
		}
	}
	b.lowest = seq
	b.awaitingKey = true
	b.requestKeyLocked()
}

func (b *VideoBuffer) requestKeyLocked() {
	if b.keyReqFn != nil {
		go b.keyReqFn()
	}
	if b.diagBus != nil {
		b.diagBus.Publish(diag.Event{Subsystem: "jitter", StreamID: b.streamID, TsMs: time.Now().UnixMilli()})
	}
}

// Stats reports the buffer's current jitter estimate, target delay and
// discard count.
func (b *VideoBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		JitterMs:    b.madGap,
		TargetDelay: b.targetDelayLocked(),
		Discarded:   b.discarded,
	}
}
