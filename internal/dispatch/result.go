// Package dispatch implements the processor-side half of the reception
// flow: an ordered, SSRC-filtered handler chain that walks each RTP/RTCP
// frame popped off the ring buffer.
//
// Grounded on the teacher's peer_connection.go handler registration (a
// map keyed by payload type, walked in registration order) and section
// 4.5/9's redesign note: "keep the ordered-map structure but key each
// entry by an opaque token; the SSRC filter per handler becomes explicit."
package dispatch

// Result is the typed outcome of one handler's attempt to process a frame,
// mirroring section 4.5's handler-chain return codes.
type Result int

const (
	// Ok indicates the handler processed the frame and the chain should
	// continue to the next handler unchanged.
	Ok Result = iota
	// PktNotHandled indicates this handler had nothing to do with the
	// frame (SSRC or payload type mismatch); the chain continues.
	PktNotHandled
	// PktModified indicates the handler rewrote the frame in place (e.g.
	// SRTP decryption) and the chain should continue with the new bytes.
	PktModified
	// PktReady indicates the handler produced exactly one fully
	// reconstructed frame ready for delivery; the chain stops.
	PktReady
	// MultiplePktsReady indicates the handler produced more than one
	// frame (an aggregation packet split into its members); the handler
	// leaves them in Packet.Extra and Chain.Run returns them.
	MultiplePktsReady
	// GenericError indicates the frame was malformed, stale, or otherwise
	// unusable; it is dropped and the chain stops for this frame.
	GenericError
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case PktNotHandled:
		return "not-handled"
	case PktModified:
		return "modified"
	case PktReady:
		return "ready"
	case MultiplePktsReady:
		return "multiple-ready"
	case GenericError:
		return "error"
	default:
		return "unknown"
	}
}
