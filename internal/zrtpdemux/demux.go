// Package zrtpdemux reserves the handler-chain slot for ZRTP key agreement
// (section 1: "the ZRTP/SRTP cryptographic primitives themselves are out
// of scope... they appear only as external collaborators"). It recognizes
// the ZRTP magic cookie at the offset RTP's timestamp field would otherwise
// occupy (bytes 4-7) and, on a match, hands the raw datagram to an injectable
// ZRTPHandler rather than implementing key agreement itself.
package zrtpdemux

import (
	"encoding/binary"

	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/dispatch"
)

// magicCookie is the fixed 32-bit value ZRTP places where RTP's
// timestamp field would be, letting a demultiplexer tell ZRTP and RTP
// apart on the same port without version confusion.
const magicCookie = 0x5a525450

// ZRTPHandler performs the actual key-agreement handshake. Implementing it
// is outside this module's scope; Demux only routes matching packets to
// one.
type ZRTPHandler interface {
	HandleZRTP(raw []byte, remoteAddr string) error
}

// Demux recognizes ZRTP packets and routes them to handler.
type Demux struct {
	handler ZRTPHandler
}

// New constructs a Demux that forwards matching packets to handler.
// handler may be nil, in which case a matched ZRTP packet is logged and
// dropped rather than crashing the chain.
func New(handler ZRTPHandler) *Demux {
	return &Demux{handler: handler}
}

// Name identifies this handler for logging.
func (d *Demux) Name() string { return "zrtpdemux" }

// Handle matches the magic cookie at the RTP-timestamp-field offset (bytes
// 4-7 of the fixed header layout) and, on a match, consumes the packet.
func (d *Demux) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if p.RTCP || len(p.Raw) < 8 {
		return dispatch.PktNotHandled, nil
	}
	if binary.BigEndian.Uint32(p.Raw[4:8]) != magicCookie {
		return dispatch.PktNotHandled, nil
	}
	if d.handler == nil {
		return dispatch.GenericError, xerrors.New("zrtpdemux: matched ZRTP packet with no handler installed")
	}
	if err := d.handler.HandleZRTP(p.Raw, p.RemoteAddr); err != nil {
		return dispatch.GenericError, xerrors.Errorf("zrtpdemux: %w", err)
	}
	return dispatch.PktReady, nil
}
