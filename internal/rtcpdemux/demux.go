// Package rtcpdemux classifies an inbound datagram as RTP or RTCP-muxed
// per RFC 5761: when RTCP-mux is enabled, RTP and RTCP share one UDP port
// and are told apart by the packet-type byte falling in the RTCP range
// 192-223. It is installed as the first handler in the chain, ahead of the
// RTP validator and ZRTP demux, per section 4.6's discard note ("so that
// ZRTP, which does not use version 2, can still match") and the original
// reception flow's "1. RTCP packet (if RCE_RTCP_MUX enabled)" first step.
//
// Grounded on the teacher's internal/rtp/common.go identifyPacket, which
// performs the same byte-range classification for its hand-rolled
// Session.readLoop; this package turns that function into a
// dispatch.Handler instead of inlining it in a read loop.
package rtcpdemux

import (
	"encoding/binary"

	"github.com/lanikai/rtpflow/internal/dispatch"
)

const (
	rtcpTypeRangeStart = 192
	rtcpTypeRangeEnd   = 223
)

// Demux tags a packet as RTCP and extracts its SSRC when the payload-type
// byte falls in the RTCP range. It never consumes the packet; RTCP
// handling itself (report parsing) happens downstream, or the packet falls
// through to the RTP validator when RTCP-mux is disabled for this stream.
type Demux struct{}

// New constructs a Demux.
func New() *Demux { return &Demux{} }

// Name identifies this handler for logging.
func (d *Demux) Name() string { return "rtcpdemux" }

// Handle implements the byte-range classification.
func (d *Demux) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if len(p.Raw) < 8 {
		return dispatch.PktNotHandled, nil
	}
	packetType := p.Raw[1]
	if packetType < rtcpTypeRangeStart || packetType > rtcpTypeRangeEnd {
		return dispatch.PktNotHandled, nil
	}

	p.RTCP = true
	p.SSRC = binary.BigEndian.Uint32(p.Raw[4:8])
	return dispatch.Ok, nil
}
