// Package rtpvalidate implements the primary RTP handler in the reception
// chain (section 4.6): it sits near the front, decodes a candidate
// datagram into a typed frame, and hands it downstream via PktModified so
// SRTP decrypt, H26x reassembly, and the RTCP-stats sidecar can all see
// the same parsed header.
//
// Grounded on the teacher's internal/rtp/rtp.go rtpHeader.readFrom plus
// rtpReader, generalized from that hand-rolled reader into a
// dispatch.Handler wrapping internal/wire.Decode.
package rtpvalidate

import (
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/wire"
)

// Validator is the RTP validator handler.
type Validator struct{}

// New constructs a Validator.
func New() *Validator { return &Validator{} }

// Name identifies this handler for logging.
func (v *Validator) Name() string { return "rtpvalidate" }

// Handle implements section 4.6: a version mismatch returns PktNotHandled
// so another handler in the chain (ZRTP demux, which never uses version 2)
// can match it; anything that fails after the version check is a
// damaged packet and returns GenericError.
func (v *Validator) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if p.RTCP {
		return dispatch.PktNotHandled, nil
	}
	if len(p.Raw) < 1 {
		return dispatch.PktNotHandled, nil
	}
	if version := p.Raw[0] >> 6; version != wire.Version {
		return dispatch.PktNotHandled, nil
	}

	frame, err := wire.Decode(p.Raw)
	if err != nil {
		return dispatch.GenericError, xerrors.Errorf("rtpvalidate: %w", err)
	}

	frame.RemoteAddr = p.RemoteAddr
	p.Frame = frame
	p.SSRC = frame.Header.SSRC
	return dispatch.PktModified, nil
}
