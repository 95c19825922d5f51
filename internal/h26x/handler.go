package h26x

import "github.com/lanikai/rtpflow/internal/dispatch"

// Handler adapts Receiver to the dispatch.Handler interface, letting the
// reassembly engine sit directly in the processor's handler chain right
// after the RTP validator.
type Handler struct {
	r *Receiver
}

// NewHandler wraps r for installation in a dispatch.Chain.
func NewHandler(r *Receiver) *Handler {
	return &Handler{r: r}
}

// Name identifies this handler for logging.
func (h *Handler) Name() string { return "h26x" }

// Handle runs the decoded frame through reassembly. ProcessFragment already
// returns dispatch's own result vocabulary; Handle only has to thread the
// produced frames into the shared Packet.
func (h *Handler) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if p.RTCP || p.Frame == nil {
		return dispatch.PktNotHandled, nil
	}

	result, frames, err := h.r.ProcessFragment(p.Frame)
	switch result {
	case dispatch.PktReady:
		if len(frames) > 0 {
			p.Frame = frames[0]
		}
	case dispatch.MultiplePktsReady:
		p.Extra = frames
	}
	return result, err
}
