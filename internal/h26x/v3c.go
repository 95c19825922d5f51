package h26x

// V3C (Visual Volumetric Video-based Coding) payload format. V3C frames its
// atlas/video sub-bitstreams isomorphically to H.266/H.265 (2-byte NAL
// header, AP/FU aggregation/fragmentation), but assigns its own AP/FU type
// codes and NAL-type bit layout.
//
// spec.md section 9 flags the original source's V3C NAL-type extraction
// (`data[0] & 0x10F447`, a mask wider than one byte) as a bug and defers to
// "RFC-correct V3C NAL typing" without prescribing an exact mask. This
// implementation follows the V3C NAL unit header layout (forbidden_zero_bit
// (1) + nal_unit_type (6) + layer_id (6) + temporal_id_plus1 (3), packed
// into 2 bytes, mirroring HEVC's header shape) and extracts the type field
// from a single byte, never a multi-byte mask.
type v3cCapability struct{}

const (
	// V3C has no IANA-registered AP/FU type codes to draw on in this corpus;
	// these values are chosen to mirror the H.266 mechanism while staying
	// outside V3C's NAL unit type range (0-31), per spec.md's instruction
	// that V3C carries "its own AP/FU type constants".
	v3cAPType = 44
	v3cFUType = 45
)

func (v3cCapability) Family() Family        { return V3C }
func (v3cCapability) PayloadHeaderSize() int { return 2 }
func (v3cCapability) NALHeaderSize() int     { return 2 }
func (v3cCapability) FUHeaderSize() int      { return 1 }
func (v3cCapability) APType() uint8          { return v3cAPType }
func (v3cCapability) FUType() uint8          { return v3cFUType }

// NAL header layout:
//   byte0: forbidden(1) Type(6) LayerIdHigh(1)
//   byte1: LayerIdLow(5) TemporalIdPlus1(3)
func (v3cCapability) NALType(nalu []byte) uint8 {
	return (nalu[0] >> 1) & 0x3f
}

func (v3cCapability) PayloadNALType(payload []byte) uint8 {
	return (payload[0] >> 1) & 0x3f
}

func (v3cCapability) ClassifyFragment(fuHeader byte) (FragmentKind, uint8) {
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x3f
	switch {
	case start && end:
		return FragmentInvalid, naluType
	case start:
		return FragmentStart, naluType
	case end:
		return FragmentEnd, naluType
	default:
		return FragmentMiddle, naluType
	}
}

func (v3cCapability) BuildFUHeader(dst []byte, originalHeader []byte, start, end bool) []byte {
	naluType := (originalHeader[0] >> 1) & 0x3f
	byte0 := (originalHeader[0] & 0x81) | (v3cFUType << 1)
	byte1 := originalHeader[1]
	fuHeader := naluType
	if start {
		fuHeader |= 0x80
	}
	if end {
		fuHeader |= 0x40
	}
	return append(dst, byte0, byte1, fuHeader)
}

func (v3cCapability) BuildNALHeader(dst []byte, fuPayloadHeader []byte, naluType uint8) []byte {
	byte0 := (fuPayloadHeader[0] & 0x81) | (naluType&0x3f)<<1
	byte1 := fuPayloadHeader[1]
	return append(dst, byte0, byte1)
}

func (v3cCapability) Semantic(naluType uint8) Semantic {
	switch {
	case naluType <= 31 && naluType >= 16:
		return Intra
	case naluType <= 31:
		return Inter
	default:
		return Other
	}
}

func (v3cCapability) IsParameterSet(naluType uint8) bool {
	switch naluType {
	case 33, 34, 35: // atlas/video parameter sets
		return true
	default:
		return false
	}
}

// BuildAPHeader mirrors h265Capability.BuildAPHeader: forbidden bit OR'd,
// layer/TID byte taken from the first aggregated NAL.
func (v3cCapability) BuildAPHeader(nalus [][]byte) []byte {
	var forbidden, layerIdHigh, byte1 byte
	for i, n := range nalus {
		if len(n) < 2 {
			continue
		}
		if n[0]&0x80 != 0 {
			forbidden = 0x80
		}
		if i == 0 {
			layerIdHigh = n[0] & 0x01
			byte1 = n[1]
		}
	}
	return []byte{forbidden | (v3cAPType << 1) | layerIdHigh, byte1}
}
