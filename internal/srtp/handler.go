package srtp

import (
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/packet"
	"github.com/lanikai/rtpflow/internal/wire"
)

// IndexFunc extends a packet's 16-bit sequence number into SRTP's 48-bit
// rolling index (ROC*2^16 + SEQ), per RFC 3711 section 3.3.1. Rollover
// tracking is the caller's responsibility, same as the section's own
// "callers track those [ROC/index] and pass the extended packet index"
// contract on Context.
type IndexFunc func(ssrc uint32, seq uint16) uint64

// Handler decrypts SRTP ahead of the RTP validator: it has to parse the
// cleartext header itself (SRTP never encrypts the fixed header, CSRC
// list, or extension) to know where ciphertext starts, then replaces
// Packet.Raw with header-plus-plaintext so every later handler, starting
// with rtpvalidate, sees an ordinary RTP packet.
type Handler struct {
	ctx   *Context
	index IndexFunc
}

// NewHandler wraps ctx, deriving each packet's extended index via index.
func NewHandler(ctx *Context, index IndexFunc) *Handler {
	return &Handler{ctx: ctx, index: index}
}

// Name identifies this handler for logging.
func (h *Handler) Name() string { return "srtp" }

// Handle implements dispatch.Handler.
func (h *Handler) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if p.RTCP || len(p.Raw) < wire.FixedHeaderSize {
		return dispatch.PktNotHandled, nil
	}
	if p.Raw[0]>>6 != wire.Version {
		return dispatch.PktNotHandled, nil
	}

	var hdr wire.Header
	if err := hdr.Decode(packet.NewReader(p.Raw)); err != nil {
		return dispatch.GenericError, xerrors.Errorf("srtp: decode header: %w", err)
	}
	headerLen := hdr.Len()

	plaintext, err := h.ctx.OpenRTP(p.Raw, headerLen, hdr.SSRC, h.index(hdr.SSRC, hdr.Sequence))
	if err != nil {
		return dispatch.GenericError, xerrors.Errorf("srtp: %w", err)
	}

	raw := make([]byte, headerLen+len(plaintext))
	copy(raw, p.Raw[:headerLen])
	copy(raw[headerLen:], plaintext)
	p.Raw = raw
	p.SSRC = hdr.SSRC

	return dispatch.PktModified, nil
}
