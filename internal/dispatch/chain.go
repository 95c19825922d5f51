// Package dispatch implements the processor-side half of the reception
// flow: an ordered, SSRC-filtered handler chain that walks each RTP/RTCP
// frame popped off the ring buffer.
//
// Grounded on the teacher's peer_connection.go handler registration (a
// map keyed by payload type, walked in registration order) and section
// 4.5/9's redesign note: "keep the ordered-map structure but key each
// entry by an opaque token; the SSRC filter per handler becomes explicit."
package dispatch

import (
	"sync"

	"github.com/lanikai/rtpflow/internal/logging"
	"github.com/lanikai/rtpflow/internal/wire"
)

var log = logging.DefaultLogger.WithTag("dispatch")

// Token identifies one installed handler, returned by Chain.Install so the
// caller can later Chain.Remove it.
type Token uint64

// Packet is the mutable context threaded through the handler chain for one
// datagram. Handlers near the front of the chain (RTCP demux, ZRTP demux,
// SRTP decrypt) work on Raw; the RTP validator decodes Raw into Frame and
// every handler after it works on Frame instead.
type Packet struct {
	// Raw is the datagram as received, mutated in place by handlers like
	// SRTP decrypt that rewrite bytes without reshaping them.
	Raw []byte

	// RemoteAddr is the UDP peer the datagram arrived from.
	RemoteAddr string

	// SSRC is filled in once a handler (RTCP demux or the RTP validator)
	// has parsed enough of the packet to know it. Zero until then.
	SSRC uint32

	// RTCP marks the packet as RTCP-muxed (RFC 5761), set by rtcpdemux so
	// downstream handlers can skip packets that aren't theirs.
	RTCP bool

	// Frame is the decoded RTP frame, set by the RTP validator on
	// PktModified.
	Frame *wire.Frame

	// Extra holds the frames produced by a handler that returns
	// MultiplePktsReady (an aggregation packet split into members).
	Extra []*wire.Frame
}

// Handler is one entry in the chain.
type Handler interface {
	// Name identifies the handler for logging.
	Name() string
	// Handle processes p and returns the outcome, per dispatch.Result's
	// documented handler return codes.
	Handle(p *Packet) (Result, error)
}

type entry struct {
	token      Token
	ssrcFilter uint32
	handler    Handler
}

// Chain is the ordered, SSRC-filtered handler list for one stream. It is
// safe for concurrent Install/Remove from any goroutine while a processor
// goroutine walks it via Run; mutation is rare compared to packet rate
// (section 5), so a mutex is enough — no need for the ring's lock-free
// discipline here.
type Chain struct {
	mu        sync.Mutex
	entries   []entry
	nextToken Token
}

// NewChain returns an empty handler chain.
func NewChain() *Chain {
	return &Chain{}
}

// Install appends a handler to the end of the chain. ssrcFilter of 0 means
// "any remote SSRC"; a nonzero filter restricts the handler to packets
// from that SSRC only.
func (c *Chain) Install(ssrcFilter uint32, h Handler) Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextToken++
	tok := c.nextToken
	c.entries = append(c.entries, entry{token: tok, ssrcFilter: ssrcFilter, handler: h})
	return tok
}

// Remove uninstalls the handler previously returned by Install.
func (c *Chain) Remove(tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.token == tok {
			c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
			return
		}
	}
}

// Run walks the chain for one packet in registration order, stopping at
// the first handler that returns PktReady, MultiplePktsReady, or
// GenericError. It returns the terminal result and, for the two ready
// cases, the frame(s) to deliver.
func (c *Chain) Run(p *Packet) (Result, []*wire.Frame, error) {
	c.mu.Lock()
	snapshot := append([]entry(nil), c.entries...)
	c.mu.Unlock()

	for _, e := range snapshot {
		if e.ssrcFilter != 0 && p.SSRC != 0 && e.ssrcFilter != p.SSRC {
			continue
		}

		result, err := e.handler.Handle(p)
		switch result {
		case Ok, PktNotHandled, PktModified:
			if err != nil {
				log.Debug("%s: %v", e.handler.Name(), err)
			}
			continue
		case PktReady:
			if p.Frame != nil {
				return PktReady, []*wire.Frame{p.Frame}, err
			}
			return PktReady, nil, err
		case MultiplePktsReady:
			return MultiplePktsReady, p.Extra, err
		case GenericError:
			return GenericError, nil, err
		}
	}
	return PktNotHandled, nil, nil
}
