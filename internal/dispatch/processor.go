package dispatch

import (
	"context"

	"github.com/lanikai/rtpflow/internal/ring"
	"github.com/lanikai/rtpflow/internal/wire"
)

// DeliverFunc receives one reconstructed frame, tagged with the remote
// SSRC it came from, for the §4.5 "delivery" step (per-SSRC hook, universal
// hook, or the pull_frame deque — all owned by the caller, not this
// package).
type DeliverFunc func(ssrc uint32, frame *wire.Frame)

// Processor is the per-socket processor thread: wait for the receiver's
// signal, drain every ring slot written since the last pass, and walk each
// one through the handler chain.
type Processor struct {
	buf     *ring.Buffer
	chain   *Chain
	deliver DeliverFunc
}

// NewProcessor constructs a Processor reading from buf, dispatching
// through chain, and delivering ready frames via deliver.
func NewProcessor(buf *ring.Buffer, chain *Chain, deliver DeliverFunc) *Processor {
	return &Processor{buf: buf, chain: chain, deliver: deliver}
}

// Run blocks, draining the ring until ctx is cancelled, matching section
// 5's "processor: condvar wait; then drains all ring slots between read
// and last_write without sleeping."
func (pr *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-pr.buf.Notify():
		}

		for {
			slot, ok := pr.buf.Next()
			if !ok {
				break
			}
			pr.process(slot)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (pr *Processor) process(slot *ring.Slot) {
	raw := append([]byte(nil), slot.Data[:slot.N]...)
	remote := ""
	if slot.Addr != nil {
		remote = slot.Addr.String()
	}
	p := &Packet{Raw: raw, RemoteAddr: remote}

	result, frames, err := pr.chain.Run(p)
	switch result {
	case PktReady, MultiplePktsReady:
		for _, f := range frames {
			pr.deliver(p.SSRC, f)
		}
	case GenericError:
		if err != nil {
			log.Debug("dropped packet from %s: %v", remote, err)
		}
	case PktNotHandled:
		log.Trace(5, "no handler matched packet from %s", remote)
	}
}
