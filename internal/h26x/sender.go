package h26x

import (
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/startcode"
)

// PushFlags modify how BuildPackets treats a push_frame input buffer.
type PushFlags uint32

const (
	// NoStartCodeScan asserts the caller has already stripped Annex B start
	// codes and is handing over exactly one NAL unit; the input is not
	// scanned for 0x000001/0x00000001 prefixes.
	NoStartCodeScan PushFlags = 1 << iota
)

// Packet is one RTP payload produced from a frame, with the marker-bit
// decision already made.
type Packet struct {
	Payload []byte
	Marker  bool
}

// Sender implements section 4.3's push_frame algorithm: scan a frame for
// NAL units, greedily pack small ones into aggregation packets, and divide
// oversized ones into fragmentation units, all bounded by a fixed payload
// budget (MTU minus RTP/SRTP/UDP/IP headers).
//
// Grounded on the teacher's internal/rtp/h264.go h264Writer.packetize and
// appendSTAP, generalized across the four Capability implementations.
type Sender struct {
	cap           Capability
	payloadBudget int
}

// NewSender constructs a Sender for one payload family with the given
// maximum RTP payload size in bytes.
func NewSender(cap Capability, payloadBudget int) (*Sender, error) {
	if payloadBudget <= cap.PayloadHeaderSize()+cap.FUHeaderSize() {
		return nil, xerrors.New("h26x: payload budget too small to carry any fragment")
	}
	return &Sender{cap: cap, payloadBudget: payloadBudget}, nil
}

// SetPayloadBudget updates the maximum RTP payload size at runtime, per
// configure_ctx's MTU/payload-size option.
func (s *Sender) SetPayloadBudget(payloadBudget int) error {
	if payloadBudget <= s.cap.PayloadHeaderSize()+s.cap.FUHeaderSize() {
		return xerrors.New("h26x: payload budget too small to carry any fragment")
	}
	s.payloadBudget = payloadBudget
	return nil
}

// apLengthFieldSize is the width, in bytes, of the 16-bit NALU-size field
// that precedes each NAL unit packed into an aggregation packet.
const apLengthFieldSize = 2

// BuildPackets runs push_frame over one encoded frame, returning the RTP
// payloads in wire order with the marker bit set on the last one.
func (s *Sender) BuildPackets(frame []byte, flags PushFlags) ([]Packet, error) {
	scan := flags&NoStartCodeScan == 0
	units := splitNALUnits(frame, scan)

	var packets []Packet
	headerSize := s.cap.PayloadHeaderSize()

	var bin [][]byte
	binSize := headerSize

	flushBin := func() {
		switch len(bin) {
		case 0:
			return
		case 1:
			buf := make([]byte, len(bin[0]))
			copy(buf, bin[0])
			packets = append(packets, Packet{Payload: buf})
		default:
			buf := make([]byte, 0, binSize)
			buf = append(buf, s.cap.BuildAPHeader(bin)...)
			for _, n := range bin {
				buf = append(buf, byte(len(n)>>8), byte(len(n)))
				buf = append(buf, n...)
			}
			packets = append(packets, Packet{Payload: buf})
		}
		bin = nil
		binSize = headerSize
	}

	for _, u := range units {
		if len(u) == 0 {
			continue
		}

		if binSize+len(u)+apLengthFieldSize <= s.payloadBudget {
			bin = append(bin, u)
			binSize += len(u) + apLengthFieldSize
			continue
		}

		flushBin()

		if len(u) <= s.payloadBudget {
			bin = append(bin, u)
			binSize = headerSize + len(u) + apLengthFieldSize
			continue
		}

		frags, err := s.fragmentNAL(u)
		if err != nil {
			return nil, err
		}
		packets = append(packets, frags...)
	}
	flushBin()

	if len(packets) > 0 {
		packets[len(packets)-1].Marker = true
	}
	return packets, nil
}

// fragmentNAL divides one NAL unit larger than the payload budget into a
// sequence of FU payloads, per section 4.3 step 3.
func (s *Sender) fragmentNAL(nalu []byte) ([]Packet, error) {
	headerSize := s.cap.NALHeaderSize()
	if len(nalu) < headerSize {
		return nil, xerrors.New("h26x: NAL unit shorter than its own header")
	}
	originalHeader := nalu[:headerSize]
	payload := nalu[headerSize:]

	sliceSize := s.payloadBudget - s.cap.PayloadHeaderSize() - s.cap.FUHeaderSize()
	if sliceSize <= 0 {
		return nil, xerrors.New("h26x: payload budget too small for FU framing")
	}

	var packets []Packet
	for offset := 0; offset < len(payload); offset += sliceSize {
		end := offset + sliceSize
		if end > len(payload) {
			end = len(payload)
		}
		start := offset == 0
		last := end == len(payload)

		buf := make([]byte, 0, s.cap.PayloadHeaderSize()+s.cap.FUHeaderSize()+(end-offset))
		buf = s.cap.BuildFUHeader(buf, originalHeader, start, last)
		buf = append(buf, payload[offset:end]...)
		packets = append(packets, Packet{Payload: buf})
	}
	return packets, nil
}

// splitNALUnits scans an Annex B bytestream for start codes and returns the
// NAL units between them (start code prefixes excluded). When scan is
// false, the whole input is treated as a single NAL unit.
func splitNALUnits(input []byte, scan bool) [][]byte {
	if !scan {
		if len(input) == 0 {
			return nil
		}
		return [][]byte{input}
	}

	offset, _, ok := startcode.Next(input, 0)
	if !ok {
		if len(input) == 0 {
			return nil
		}
		return [][]byte{input}
	}

	var units [][]byte
	for {
		nextOffset, nextPrefixLen, found := startcode.Next(input, offset)
		var end int
		if found {
			end = nextOffset - nextPrefixLen
		} else {
			end = len(input)
		}
		if end > offset {
			units = append(units, input[offset:end])
		}
		if !found {
			break
		}
		offset = nextOffset
	}
	return units
}
