package wire

// Kind is the routing decision the classifier produces for one inbound
// packet (§4.1).
type Kind uint8

const (
	KindMalformed Kind = iota
	KindRTT
	KindHealth
	KindMeeting
	KindKeyExchange
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindRTT:
		return "rtt"
	case KindHealth:
		return "health"
	case KindMeeting:
		return "meeting"
	case KindKeyExchange:
		return "key_exchange"
	case KindData:
		return "data"
	default:
		return "malformed"
	}
}

// Classified bundles the routing decision together with the already-parsed
// envelope (and, for MEDIA packets, the already-parsed inner record) so
// callers don't re-decode.
type Classified struct {
	Kind    Kind
	Wrapper *PacketWrapper
	Media   *MediaPacket // set only when Kind == KindRTT or the wrapper is MEDIA
}

// Classify parses the outer envelope and decides how the packet should be
// routed. An empty payload and unknown enum values are tolerated as KindData
// per §4.1's edge cases, to keep the server permissive of forward-compatible
// clients.
func Classify(raw []byte) Classified {
	if len(raw) == 0 {
		return Classified{Kind: KindData}
	}

	w, err := DecodePacketWrapper(raw)
	if err != nil {
		return Classified{Kind: KindMalformed}
	}

	switch w.PacketType {
	case PacketMedia:
		media, err := DecodeMediaPacket(w.Data)
		if err != nil {
			return Classified{Kind: KindMalformed, Wrapper: w}
		}
		if media.MediaType == MediaRTT {
			return Classified{Kind: KindRTT, Wrapper: w, Media: media}
		}
		return Classified{Kind: KindData, Wrapper: w, Media: media}
	case PacketHealth:
		return Classified{Kind: KindHealth, Wrapper: w}
	case PacketMeeting:
		return Classified{Kind: KindMeeting, Wrapper: w}
	case PacketAESKey, PacketRSAPubKey:
		return Classified{Kind: KindKeyExchange, Wrapper: w}
	default:
		// PacketConnection (whose join token is consumed before routing
		// starts), PacketDiagnostics, an unknown packet_type and any future
		// enum value fall through to Data, per §4.1's tolerance policy.
		return Classified{Kind: KindData, Wrapper: w}
	}
}
