// Package mediahealth runs the per-stream jitter buffer (L3), VP9 decode
// pipeline (L5) and NetEq-style audio adaptor (L4) as a shadow pass over
// every inbound media packet, the way the teacher's room.go tracks
// per-client health (sendHealth) alongside the raw forwarding path rather
// than gating it: the SFU still relays every packet immediately (§1, the
// core forwards, it does not transcode), but this shadow pass is what
// notices a stalled video stream or a starved audio stream and emits the
// KEY_REQUEST / diagnostics signals the spec requires (§4.6, §4.8, L3-L5).
package mediahealth

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/jitter"
	"github.com/vcsfu/core/internal/neteq"
	"github.com/vcsfu/core/internal/seqnum"
	"github.com/vcsfu/core/internal/session"
	"github.com/vcsfu/core/internal/transport"
	"github.com/vcsfu/core/internal/vp9"
	"github.com/vcsfu/core/internal/wire"
)

// audioFrameMs is the playout-clock cadence for audio streams: the loadbot
// and every real client in this pack frame audio in 20ms windows (§4.7), so
// the shadow NetEq instance is pulled on the same cadence rather than only
// when a packet happens to arrive.
const audioFrameMs = 20

// audioFrameSamples is the sample count pulled on each playout-clock tick.
const audioFrameSamples = neteq.SampleRate * audioFrameMs / 1000

// audioStaleAfter bounds how long a stream may go without a real packet
// before the playout clock treats it as an underrun (MERGE/COMFORT_NOISE),
// independent of any per-packet sequence-gap detection.
const audioStaleAfter = 3 * audioFrameMs * time.Millisecond

// passthroughDecode stands in for a real VP9 decoder library (none survived
// retrieval into this pack): it validates the dependency-gating state
// machine (awaiting-key, drop-on-error) without performing actual pixel
// decode, returning the payload unchanged on frames that are allowed
// through.
func passthroughDecode(_ wire.FrameType, data []byte) ([]byte, error) {
	return data, nil
}

type videoStream struct {
	buf    *jitter.VideoBuffer
	dec    *vp9.Pipeline
	stopCh chan struct{}
}

type audioStream struct {
	adapter  *neteq.Adapter
	lastPush time.Time
	lastSeq  uint16
	haveSeq  bool
	stopCh   chan struct{}
}

// Router owns one videoStream per (session, media stream) and one
// audioStream per (session, audio stream), created lazily on first packet.
// Each stream is driven by its own playout-clock goroutine (playoutVideo /
// playoutAudio) rather than being popped synchronously off the inbound
// packet path, so MaxGap/WaitMs and underrun detection fire on wall-clock
// time even when no further packets ever arrive.
type Router struct {
	mu    sync.Mutex
	video map[string]*videoStream
	audio map[string]*audioStream
	bus   *diag.Bus
}

// NewRouter returns a Router publishing shadow-pipeline diagnostics onto bus.
func NewRouter(bus *diag.Bus) *Router {
	return &Router{
		video: make(map[string]*videoStream),
		audio: make(map[string]*audioStream),
		bus:   bus,
	}
}

func streamKey(sessionID session.Id, mediaType wire.MediaType) string {
	return string(sessionID) + ":" + mediaType.String()
}

// Observe runs mp through the stream's shadow pipeline. sess is the sender;
// a KEY_REQUEST provoked by a dependency gap or decode error is sent back
// down sess.Conn directly, mirroring the teacher's pattern of writing
// control replies straight onto the originating client's stream rather than
// broadcasting them.
func (r *Router) Observe(sess *session.Session, mp *wire.MediaPacket) {
	switch mp.MediaType {
	case wire.MediaVideo, wire.MediaScreen:
		r.observeVideo(sess, mp)
	case wire.MediaAudio:
		r.observeAudio(sess, mp)
	}
}

func (r *Router) observeVideo(sess *session.Session, mp *wire.MediaPacket) {
	if mp.VideoMetadata == nil {
		return
	}
	key := streamKey(sess.ID, mp.MediaType)

	r.mu.Lock()
	vs, ok := r.video[key]
	if !ok {
		vs = &videoStream{stopCh: make(chan struct{})}
		onKeyReq := func() { r.requestKey(sess) }
		vs.buf = jitter.New(r.bus, key, onKeyReq)
		vs.dec = vp9.New(passthroughDecode, onKeyReq)
		r.video[key] = vs
		go r.playoutVideo(sess, key, vs)
	}
	r.mu.Unlock()

	vs.buf.Insert(jitter.Entry{
		Sequence:  mp.VideoMetadata.Sequence,
		FrameType: mp.FrameType,
		Data:      mp.Data,
		ArrivedAt: time.Now(),
	})
}

// playoutVideo pops vs on its own clock rather than only when a new packet
// arrives, so MaxGap/WaitMs drop-to-keyframe (§4.6) fires even if the stream
// has gone silent rather than merely reordered.
func (r *Router) playoutVideo(sess *session.Session, key string, vs *videoStream) {
	ticker := time.NewTicker(jitter.WaitMs)
	defer ticker.Stop()
	for {
		select {
		case <-vs.stopCh:
			return
		case <-ticker.C:
			if entry, ok := vs.buf.PopForPlayout(time.Now()); ok {
				if _, err := vs.dec.Submit(entry.Sequence, entry.FrameType, entry.Data); err != nil {
					log.Printf("[mediahealth %s] decode error on %s: %v", sess.ID, key, err)
				}
			}
		}
	}
}

func (r *Router) observeAudio(sess *session.Session, mp *wire.MediaPacket) {
	if mp.AudioMetadata == nil {
		return
	}
	key := streamKey(sess.ID, mp.MediaType)

	r.mu.Lock()
	as, ok := r.audio[key]
	if !ok {
		as = &audioStream{adapter: neteq.New(r.bus, key, 60), stopCh: make(chan struct{})}
		r.audio[key] = as
		go r.playoutAudio(as)
	}
	seq := mp.AudioMetadata.Sequence
	// One or more skipped sequence numbers mean a real loss, not just
	// reordering. It is flagged right after this packet's Push (which clears
	// the flag) rather than waiting for the playout clock's staleness check.
	gap := as.haveSeq && seqnum.Distance(as.lastSeq, seq) > 1
	as.lastSeq = seq
	as.haveSeq = true
	as.lastPush = time.Now()
	r.mu.Unlock()

	as.adapter.Push(pcm16ToFloat(mp.Data))
	if gap {
		as.adapter.MarkUnderrun()
	}
}

// playoutAudio pulls as on its own 20ms clock, independent of when packets
// arrive, so NORMAL/ACCELERATE/EXPAND/MERGE/COMFORT_NOISE are all reachable
// (§4.7): a pull driven 1:1 off Push can never observe a gap, since Push
// always runs immediately before it.
func (r *Router) playoutAudio(as *audioStream) {
	ticker := time.NewTicker(audioFrameMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-as.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			stale := as.lastPush.IsZero() || time.Since(as.lastPush) > audioStaleAfter
			r.mu.Unlock()
			if stale {
				as.adapter.MarkUnderrun()
			}
			as.adapter.Pull(audioFrameSamples)
		}
	}
}

// Forget stops and discards every stream belonging to sessionID, called once
// the session's connection has torn down so the playout-clock goroutines
// above don't leak.
func (r *Router) Forget(sessionID session.Id) {
	prefix := string(sessionID) + ":"
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, vs := range r.video {
		if strings.HasPrefix(k, prefix) {
			close(vs.stopCh)
			delete(r.video, k)
		}
	}
	for k, as := range r.audio {
		if strings.HasPrefix(k, prefix) {
			close(as.stopCh)
			delete(r.audio, k)
		}
	}
}

// requestKey sends a KEY_REQUEST media packet back to the originating
// session, the same upstream signal §4.6/§4.8 describe for jitter-buffer-
// and decoder-driven recovery.
func (r *Router) requestKey(sess *session.Session) {
	mp := wire.MediaPacket{
		MediaType:   wire.MediaVideo,
		Email:       sess.Identity.Email,
		TimestampMs: time.Now().UnixMilli(),
		FrameType:   wire.FrameKeyRequest,
	}
	wrapper := wire.PacketWrapper{
		PacketType: wire.PacketMedia,
		Email:      sess.Identity.Email,
		SessionID:  string(sess.ID),
		Data:       mp.Encode(),
	}
	if err := sess.Conn.Send(transport.Frame{Class: transport.ClassControl, Data: wrapper.Encode()}); err != nil {
		log.Printf("[mediahealth %s] key request send: %v", sess.ID, err)
	}
}

// pcm16ToFloat decodes little-endian 16-bit PCM into the [-1, 1] float32
// samples neteq.Adapter operates on.
func pcm16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}
