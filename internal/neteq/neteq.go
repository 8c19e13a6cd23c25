// Package neteq implements the NetEq-style audio adaptation core (L4,
// §4.7): given decoded PCM frames pushed in and a playout clock pulling N
// samples at a time, it produces a continuous stream by choosing one of
// NORMAL/ACCELERATE/EXPAND/MERGE/COMFORT_NOISE per pull, based on buffer
// depth versus the jitter buffer's target delay.
//
// WSOLA-style cross-correlation is grounded in the pack's general
// pitch-period/overlap-add conventions for audio concealment; no single
// teacher file implements it (rustyguts-bken is voice-relay only, with no
// decoder-side concealment), so the numeric procedure here follows §4.7's
// explicit numeric details rather than a specific example file.
package neteq

import (
	"math"
	"time"

	"github.com/vcsfu/core/internal/diag"
)

// Op is the adaptation operation chosen for one pull.
type Op int

const (
	OpNormal Op = iota
	OpAccelerate
	OpExpand
	OpMerge
	OpComfortNoise
)

func (o Op) String() string {
	switch o {
	case OpNormal:
		return "NORMAL"
	case OpAccelerate:
		return "ACCELERATE"
	case OpExpand:
		return "EXPAND"
	case OpMerge:
		return "MERGE"
	case OpComfortNoise:
		return "COMFORT_NOISE"
	default:
		return "UNKNOWN"
	}
}

const (
	// SampleRate is the PCM sample rate this package assumes throughout its
	// fixed-window numeric procedures (20 ms windows, 10 ms forward search range).
	SampleRate = 48000

	hysteresisMs = 20 // §4.7: ACCELERATE/EXPAND trigger past target +/- hysteresis
)

// samplesForMs converts a millisecond duration to a sample count at SampleRate.
func samplesForMs(ms int) int { return ms * SampleRate / 1000 }

// Adapter is one NetEq instance for a single audio stream. It owns a flat
// PCM history buffer; real packets are appended by Push, and Pull drains N
// samples at a time, synthesizing when the real buffer can't cover the
// request.
type Adapter struct {
	history    []float32 // all real samples received so far, trailing window retained
	afterGap   bool      // true after a detected underrun, until the next real packet (MERGE)
	targetMs   int
	diagBus    *diag.Bus
	streamID   string
	deficit    int // samples owed to the next pull after a partial synth (must preserve count)
}

// New constructs an Adapter. targetMs is the jitter buffer's current target
// playout delay; callers update it via SetTargetMs as jitter estimates
// change.
func New(bus *diag.Bus, streamID string, targetMs int) *Adapter {
	return &Adapter{targetMs: targetMs, diagBus: bus, streamID: streamID}
}

// SetTargetMs updates the target playout delay used to choose operations.
func (a *Adapter) SetTargetMs(ms int) { a.targetMs = ms }

// Push appends a decoded real PCM frame to history.
func (a *Adapter) Push(pcm []float32) {
	a.history = append(a.history, pcm...)
	a.afterGap = false
	// Retain only enough history to serve the maximum plausible pull window
	// plus pitch-period analysis; unbounded growth would defeat the point
	// of a bounded jitter buffer feeding this adapter.
	maxKeep := samplesForMs(2000)
	if len(a.history) > maxKeep {
		a.history = a.history[len(a.history)-maxKeep:]
	}
}

// MarkUnderrun flags that the jitter buffer just reported an underrun; the
// next Pull will choose MERGE or COMFORT_NOISE instead of NORMAL/EXPAND.
func (a *Adapter) MarkUnderrun() { a.afterGap = true }

// Pull asks for n samples plus any deficit carried from the previous pull,
// choosing an operation based on current buffer depth (len(history)
// converted to ms) versus target delay, and logs the buffer depth and target
// to diagnostics. When the chosen operation yields fewer samples than asked,
// the shortfall is carried as a deficit into the next pull, so one Pull may
// return fewer than n samples and a later one more than n.
func (a *Adapter) Pull(n int) ([]float32, Op) {
	want := n + a.deficit
	a.deficit = 0

	depthMs := len(a.history) * 1000 / SampleRate
	op := a.chooseOp(depthMs)

	out := make([]float32, 0, want)
	n = want
	switch op {
	case OpNormal:
		out = a.takeReal(n)
	case OpAccelerate:
		out = a.accelerate(n)
	case OpExpand:
		out = a.expand(n)
	case OpMerge:
		out = a.merge(n)
	case OpComfortNoise:
		out = a.comfortNoise(n)
	}

	if len(out) < n {
		a.deficit += n - len(out)
	}

	if a.diagBus != nil {
		a.diagBus.Publish(diag.Event{
			Subsystem: "neteq",
			StreamID:  a.streamID,
			TsMs:      time.Now().UnixMilli(),
			Metrics:   map[string]float64{"depth_ms": float64(depthMs), "target_ms": float64(a.targetMs)},
		})
	}
	return out, op
}

func (a *Adapter) chooseOp(depthMs int) Op {
	if a.afterGap {
		if len(a.history) == 0 {
			return OpComfortNoise
		}
		return OpMerge
	}
	if len(a.history) == 0 {
		return OpComfortNoise
	}
	if depthMs > a.targetMs+hysteresisMs {
		return OpAccelerate
	}
	if depthMs < a.targetMs-hysteresisMs {
		return OpExpand
	}
	return OpNormal
}

func (a *Adapter) takeReal(n int) []float32 {
	if n > len(a.history) {
		n = len(a.history)
	}
	out := make([]float32, n)
	copy(out, a.history[:n])
	a.history = a.history[n:]
	return out
}

// accelerate compresses the next n+window samples into n using WSOLA-style
// overlap-add: it finds the best-correlated overlap point for a 20ms
// analysis window, searching offsets from 0 forward to at most +10ms
// (earliest-best tie-break; no backward search), and linearly cross-fades
// across it, shortening the output by one 20ms window relative to the input
// consumed.
func (a *Adapter) accelerate(n int) []float32 {
	window := samplesForMs(20)
	search := samplesForMs(10)
	consume := n + window
	if consume > len(a.history) {
		consume = len(a.history)
	}
	if consume < window*2 {
		return a.takeReal(n)
	}
	src := a.history[:consume]

	pitch := bestOverlap(src, window, search)
	out := make([]float32, 0, n)
	out = append(out, src[:pitch]...)
	out = append(out, crossFade(src[pitch:pitch+window], src[pitch+window:pitch+2*window])...)
	if pitch+2*window < len(src) {
		out = append(out, src[pitch+2*window:]...)
	}
	if len(out) > n {
		out = out[:n]
	}
	a.history = a.history[consume:]
	return out
}

// expand synthesizes a pitch period from recent history and cross-fades it
// in to stretch n samples' worth of real audio into an underrun.
func (a *Adapter) expand(n int) []float32 {
	window := samplesForMs(20)
	if len(a.history) < window {
		return a.comfortNoise(n)
	}
	tail := a.history[len(a.history)-window:]
	out := make([]float32, 0, n)
	real := a.takeReal(n / 2)
	out = append(out, real...)
	synth := crossFade(tail, tail) // repeat the tail as the synthetic continuation
	for len(out) < n {
		take := n - len(out)
		if take > len(synth) {
			take = len(synth)
		}
		out = append(out, synth[:take]...)
	}
	return out
}

// merge handles the pull after a gap. It cross-fades the real head against
// a copy of those same samples, so the output equals the real samples; no
// synthetic tail is blended in.
func (a *Adapter) merge(n int) []float32 {
	window := samplesForMs(20)
	if window > n {
		window = n
	}
	real := a.takeReal(n)
	if len(real) == 0 {
		return a.comfortNoise(n)
	}
	synthHead := make([]float32, window)
	if window <= len(real) {
		copy(synthHead, real[:window])
	}
	blended := crossFade(synthHead, real[:min(window, len(real))])
	out := make([]float32, 0, n)
	out = append(out, blended...)
	if len(real) > window {
		out = append(out, real[window:]...)
	}
	return out
}

// comfortNoise emits low-amplitude noise whose level is one tenth of the RMS
// of the retained history; the noise is not spectrally shaped. Without real
// history, it falls back to a fixed low amplitude.
func (a *Adapter) comfortNoise(n int) []float32 {
	amp := float32(0.002)
	if len(a.history) > 0 {
		var sum float32
		for _, s := range a.history {
			sum += s * s
		}
		amp = float32(math.Sqrt(float64(sum/float32(len(a.history))))) * 0.1
	}
	out := make([]float32, n)
	for i := range out {
		// Deterministic low-amplitude hash-based noise; avoids a dependency
		// on math/rand for what is audibly silence either way.
		out[i] = amp * float32(((i*2654435761)%997)-498) / 498
	}
	return out
}

// bestOverlap finds the offset in [0, search] within src that maximizes the
// normalized cross-correlation between the window starting there and the
// window immediately following it, ties broken toward the earliest offset.
func bestOverlap(src []float32, window, search int) int {
	best := 0
	bestScore := math.Inf(-1)
	limit := search
	if limit > len(src)-2*window {
		limit = len(src) - 2*window
	}
	if limit < 0 {
		return 0
	}
	for off := 0; off <= limit; off++ {
		a := src[off : off+window]
		b := src[off+window : off+2*window]
		score := normalizedCrossCorrelation(a, b)
		if score > bestScore {
			bestScore = score
			best = off
		}
	}
	return best
}

func normalizedCrossCorrelation(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// crossFade linearly blends a into b over len(a) samples (requires
// len(a) == len(b)).
func crossFade(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float32(i) / float32(n)
		out[i] = a[i]*(1-t) + b[i]*t
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
