package wire

import (
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/packet"
)

// Frame is the in-memory representation of one decoded RTP packet: a header
// plus owned payload bytes. It is created by Decode, owned by whichever
// handler currently holds it while the dispatch chain walks, and finally
// either delivered to the caller (who takes ownership) or dropped.
type Frame struct {
	Header  Header
	Payload []byte

	// RemoteAddr is the UDP peer the datagram arrived from, as recorded by
	// the ring buffer receiver and stamped by the RTP validator. Unset for
	// frames built on the send path.
	RemoteAddr string
}

// Decode parses a full RTP datagram (header + CSRC + extension + payload +
// optional padding) into a Frame. The returned Frame owns a private copy of
// the payload; buf may be reused by the caller immediately afterward.
func Decode(buf []byte) (*Frame, error) {
	r := packet.NewReader(buf)
	f := &Frame{}
	if err := f.Header.Decode(r); err != nil {
		return nil, err
	}

	payload := r.ReadRemaining()
	if f.Header.Padding {
		stripped, err := StripPadding(payload)
		if err != nil {
			return nil, xerrors.Errorf("rtp: %w", err)
		}
		payload = stripped
	}

	f.Payload = append([]byte(nil), payload...)
	return f, nil
}

// Encode serializes the frame (header, CSRC, extension, payload) into buf,
// which must be large enough to hold Header.Len()+len(Payload). It does not
// add padding; padding is a sender-side policy handled above this package.
func (f *Frame) Encode(buf []byte) ([]byte, error) {
	w := packet.NewWriter(buf)
	if err := f.Header.Encode(w); err != nil {
		return nil, err
	}
	if err := w.WriteSlice(f.Payload); err != nil {
		return nil, xerrors.Errorf("rtp: encode payload: %w", err)
	}
	return w.Bytes(), nil
}
