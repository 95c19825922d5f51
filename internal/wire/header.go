// Package wire implements the bit-exact RTP fixed header codec defined in
// RFC 3550 section 5.1: 12 fixed bytes, an optional CSRC list, an optional
// extension header, and optional trailing padding.
package wire

import (
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/packet"
)

const (
	// Version is the only RTP version this codec understands.
	Version = 2

	// FixedHeaderSize is the size, in bytes, of the fixed RTP header before
	// any CSRC list, extension, or payload.
	FixedHeaderSize = 12

	// MaxCSRC is the largest CSRC count representable in the 4-bit CC field.
	MaxCSRC = 15
)

// Header is the decoded form of the 12-byte RTP fixed header plus whatever
// variable-length fields (CSRC list, extension) were present on the wire.
// Multi-byte fields are host-order once decoded; Encode/Decode handle the
// network-order wire representation.
type Header struct {
	Padding     bool
	Extension   bool
	Marker      bool
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32

	// CSRC holds zero or more contributing source identifiers. Owned by the
	// Header; callers must not retain slices into it past the Header's
	// lifetime if it was decoded from a pooled buffer.
	CSRC []uint32

	// ExtensionProfile and ExtensionPayload are only meaningful when
	// Extension is true. ExtensionPayload is owned by the Header.
	ExtensionProfile uint16
	ExtensionPayload []byte
}

// Len returns the number of bytes Header occupies on the wire, excluding
// payload and padding.
func (h *Header) Len() int {
	n := FixedHeaderSize + 4*len(h.CSRC)
	if h.Extension {
		n += 4 + len(h.ExtensionPayload)
	}
	return n
}

// Encode writes the header to w. It returns an error only if w's capacity is
// insufficient or the CSRC count exceeds MaxCSRC.
func (h *Header) Encode(w *packet.Writer) error {
	if len(h.CSRC) > MaxCSRC {
		return xerrors.Errorf("rtp: too many CSRCs: %d", len(h.CSRC))
	}
	if err := w.CheckCapacity(h.Len()); err != nil {
		return xerrors.Errorf("rtp: encode header: %w", err)
	}

	first := byte(Version<<6) | byte(len(h.CSRC)&0x0f)
	if h.Padding {
		first |= 1 << 5
	}
	if h.Extension {
		first |= 1 << 4
	}
	w.WriteByte(first)

	second := h.PayloadType & 0x7f
	if h.Marker {
		second |= 0x80
	}
	w.WriteByte(second)

	w.WriteUint16(h.Sequence)
	w.WriteUint32(h.Timestamp)
	w.WriteUint32(h.SSRC)
	for _, csrc := range h.CSRC {
		w.WriteUint32(csrc)
	}

	if h.Extension {
		w.WriteUint16(h.ExtensionProfile)
		w.WriteUint16(uint16(len(h.ExtensionPayload) / 4))
		if err := w.WriteSlice(h.ExtensionPayload); err != nil {
			return xerrors.Errorf("rtp: encode extension: %w", err)
		}
	}

	return nil
}

// Decode parses an RTP fixed header (plus CSRC list and extension, if
// present) from r. It rejects anything that isn't version 2, any packet
// shorter than FixedHeaderSize, and any declared CSRC/extension length that
// doesn't fit inside the remaining bytes. Decode does not touch padding; the
// caller (which knows the total datagram length) calls StripPadding
// separately once the payload slice has been carved out.
func (h *Header) Decode(r *packet.Reader) error {
	if err := r.CheckRemaining(FixedHeaderSize); err != nil {
		return xerrors.Errorf("rtp: short header: %w", err)
	}

	first := r.ReadByte()
	version := first >> 6
	if version != Version {
		return xerrors.Errorf("rtp: unsupported version %d", version)
	}
	h.Padding = first&(1<<5) != 0
	h.Extension = first&(1<<4) != 0
	csrcCount := int(first & 0x0f)

	second := r.ReadByte()
	h.Marker = second&0x80 != 0
	h.PayloadType = second & 0x7f

	h.Sequence = r.ReadUint16()
	h.Timestamp = r.ReadUint32()
	h.SSRC = r.ReadUint32()

	if err := r.CheckRemaining(4 * csrcCount); err != nil {
		return xerrors.Errorf("rtp: truncated CSRC list: %w", err)
	}
	h.CSRC = h.CSRC[:0]
	for i := 0; i < csrcCount; i++ {
		h.CSRC = append(h.CSRC, r.ReadUint32())
	}

	h.ExtensionProfile = 0
	h.ExtensionPayload = nil
	if h.Extension {
		if err := r.CheckRemaining(4); err != nil {
			return xerrors.Errorf("rtp: truncated extension header: %w", err)
		}
		h.ExtensionProfile = r.ReadUint16()
		words := int(r.ReadUint16())
		ext, err := r.CheckedSlice(4 * words)
		if err != nil {
			return xerrors.Errorf("rtp: truncated extension payload: %w", err)
		}
		h.ExtensionPayload = append([]byte(nil), ext...)
	}

	return nil
}

// StripPadding validates and removes RTP padding from payload, per RFC 3550
// section 5.1: the last byte of the payload gives the padding length, which
// must be nonzero and must not exceed len(payload).
func StripPadding(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, xerrors.New("rtp: padding flag set but payload is empty")
	}
	padLen := int(payload[len(payload)-1])
	if padLen == 0 || padLen > len(payload) {
		return nil, xerrors.Errorf("rtp: invalid padding length %d for %d-byte payload", padLen, len(payload))
	}
	return payload[:len(payload)-padLen], nil
}
