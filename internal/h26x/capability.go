// Package h26x implements the H.264/H.265/H.266/V3C fragmentation and
// reassembly engine: NAL unit classification, Fragmentation Unit (FU) and
// Aggregation Packet (AP) framing, and the receive-side state machine that
// reconstructs frames from out-of-order, duplicated, or lost fragments.
//
// The four payload families differ only in header sizes and a handful of
// magic numbers (AP/FU type codes, NAL type field width). Rather than the
// inheritance hierarchy the original C++ source used (media -> h26x -> h264
// / h265 / h266 / v3c), this package dispatches through a small Capability
// interface resolved once per stream, exactly the redesign spec.md section 9
// calls for. The teacher's internal/rtp/h264.go hard-codes one family
// (naluTypeSTAP_A, naluTypeFU_A, 1-byte headers); the types here generalize
// that to four.
package h26x

// FragmentKind classifies one RTP payload's role in frame reassembly.
type FragmentKind int

const (
	// Single indicates the payload is one whole NAL unit.
	Single FragmentKind = iota
	// Aggregate indicates the payload packs multiple whole NAL units (AP /
	// STAP-A).
	Aggregate
	// FragmentStart indicates the first fragment of a NAL unit (FU, S-bit).
	FragmentStart
	// FragmentMiddle indicates a middle fragment of a NAL unit.
	FragmentMiddle
	// FragmentEnd indicates the last fragment of a NAL unit (FU, E-bit).
	FragmentEnd
	// FragmentInvalid indicates a malformed fragmentation unit.
	FragmentInvalid
)

func (k FragmentKind) String() string {
	switch k {
	case Single:
		return "single"
	case Aggregate:
		return "aggregate"
	case FragmentStart:
		return "fragment-start"
	case FragmentMiddle:
		return "fragment-middle"
	case FragmentEnd:
		return "fragment-end"
	default:
		return "fragment-invalid"
	}
}

// Semantic is the dependency-relevant classification of a NAL unit, used
// to drive the intra-delay policy (section 4.7 step 7) and the per-frame
// consistency check (section 4.7 step 4).
type Semantic int

const (
	Other Semantic = iota
	Intra
	Inter
)

// Capability encapsulates everything that differs between H.264, H.265,
// H.266, and V3C framing. One Capability implementation is resolved per
// stream at configuration time (by payload type), never per packet.
type Capability interface {
	// Family identifies which payload format this capability implements.
	Family() Family

	// PayloadHeaderSize is the size, in bytes, of the payload header that
	// precedes both AP and FU payloads (1 for H.264, 2 for H.265/H.266/V3C).
	PayloadHeaderSize() int

	// NALHeaderSize is the size, in bytes, of a plain (unfragmented) NAL
	// unit's own header.
	NALHeaderSize() int

	// FUHeaderSize is the size, in bytes, of the FU header that follows the
	// payload header in a fragmentation unit.
	FUHeaderSize() int

	// APType and FUType are the NAL-type-field values that mark a payload
	// as an aggregation packet or fragmentation unit, respectively.
	APType() uint8
	FUType() uint8

	// NALType extracts the NAL unit type field from a whole NAL unit's
	// header bytes (nalu[0:NALHeaderSize()]).
	NALType(nalu []byte) uint8

	// PayloadNALType extracts the NAL-type-field value that identifies the
	// shape of an RTP payload (single NAL, AP, or FU) from the payload's
	// leading PayloadHeaderSize() bytes.
	PayloadNALType(payload []byte) uint8

	// ClassifyFragment inspects an FU payload's FU header byte and reports
	// whether it is the start, middle, or end of a NAL unit, along with the
	// original NAL type it carries.
	ClassifyFragment(fuHeader byte) (kind FragmentKind, originalNALType uint8)

	// BuildFUHeader constructs the payload-header + FU-header prefix for one
	// fragment, appending it to dst and returning the result. originalHeader
	// is the source NAL unit's own header bytes (length NALHeaderSize()),
	// supplying the forbidden/layer/temporal-id bits that ride along
	// unchanged in the FU payload header. start/end select the S/E bits.
	BuildFUHeader(dst []byte, originalHeader []byte, start, end bool) []byte

	// BuildNALHeader reconstructs a plain NAL unit header (length
	// NALHeaderSize()) from the FU payload-header bytes collected while
	// reassembling a fragmented NAL, plus the original NAL type carried by
	// the FU header.
	BuildNALHeader(dst []byte, fuPayloadHeader []byte, naluType uint8) []byte

	// Semantic classifies a NAL unit type as Intra, Inter, or Other, for the
	// intra-delay policy.
	Semantic(naluType uint8) Semantic

	// IsParameterSet reports whether a NAL unit type carries out-of-band
	// configuration (SPS/PPS/VPS-equivalent). Sender does not consult it:
	// its aggregation decisions depend on NAL unit sizes only.
	IsParameterSet(naluType uint8) bool

	// BuildAPHeader constructs the payload header for an aggregation packet
	// carrying the given whole NAL units, OR-ing together whatever
	// forbidden/reference bits the family's AP header format requires.
	BuildAPHeader(nalus [][]byte) []byte
}

// Family identifies a supported RTP payload format.
type Family int

const (
	H264 Family = iota
	H265
	H266
	V3C
)

func (f Family) String() string {
	switch f {
	case H264:
		return "H264"
	case H265:
		return "H265"
	case H266:
		return "H266"
	case V3C:
		return "V3C"
	default:
		return "unknown"
	}
}

// CapabilityFor returns the Capability implementation for a payload family.
func CapabilityFor(f Family) Capability {
	switch f {
	case H264:
		return h264Capability{}
	case H265:
		return h265Capability{}
	case H266:
		return h266Capability{}
	case V3C:
		return v3cCapability{}
	default:
		panic("h26x: unknown family")
	}
}
