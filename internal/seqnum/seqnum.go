// Package seqnum provides signed 16-bit wraparound arithmetic for RTP-style
// sequence numbers. The video jitter buffer uses it directly for its reorder
// window; the NetEq audio pipeline's feeder (internal/mediahealth) uses it
// to detect real packet loss in AudioMetadata.Sequence and feed that into the
// adapter's underrun signal (§3 invariants, §8 boundary behaviors).
package seqnum

// Distance returns b-a interpreted as a signed 16-bit wraparound distance, the
// same convention pion/rtp-style sequence handling uses: a delta whose
// magnitude exceeds half the 16-bit space is assumed to have wrapped.
func Distance(a, b uint16) int32 {
	d := int32(b) - int32(a)
	switch {
	case d > 0x7fff:
		d -= 0x10000
	case d < -0x7fff:
		d += 0x10000
	}
	return d
}

// Less reports whether a comes strictly before b in wraparound order.
func Less(a, b uint16) bool {
	return Distance(a, b) > 0
}

// Add returns seq+delta with 16-bit wraparound.
func Add(seq uint16, delta int32) uint16 {
	return uint16(int32(seq) + delta)
}
