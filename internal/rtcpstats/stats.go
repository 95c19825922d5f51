// Package rtcpstats implements section 4.8's RTCP sidecar: a handler
// chained onto the RTP validator that never consumes a packet (it returns
// Ok, or PktNotHandled for RTCP and undecoded packets) but watches every
// accepted frame to maintain the loss and
// jitter running statistics RFC 3550 appendix A.1 and A.8 define, plus the
// sender-report fields needed to fill in a receiver report block.
//
// The teacher never implemented receiver-side statistics (its
// internal/rtp/rtcp.go rtcpReport struct is populated from *sent* sender
// reports only); the field shapes there are kept as the report-block
// target, but the update math is authored directly from RFC 3550 appendix
// A, which is the normative source for both algorithms.
package rtcpstats

import (
	"sync"
	"time"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/rtcp"
)

const (
	rtpSeqMod     = 1 << 16
	maxDropout    = 3000
	maxMisorder   = 100
	minSequential = 2
)

// Stats accumulates RFC 3550 appendix A's sequence-number and jitter state
// for one source SSRC. It is not safe for concurrent use; Registry
// serializes access per stream.
type Stats struct {
	baseSeq   uint32
	maxSeq    uint16
	badSeq    uint32
	cycles    uint32
	received  uint32
	probation int

	expectedPrior uint32
	receivedPrior uint32

	haveTransit bool
	transit     int64
	jitter      float64

	lastSR      uint32
	lastSRLocal time.Time
}

// New starts tracking a source whose first observed sequence number is
// seq, per appendix A.1's init_seq plus the two-packet probation init_seq
// callers normally apply before trusting a new source.
func New(seq uint16) *Stats {
	s := &Stats{probation: minSequential}
	s.initSeq(seq)
	s.maxSeq = seq - 1
	return s
}

func (s *Stats) initSeq(seq uint16) {
	s.baseSeq = uint32(seq)
	s.maxSeq = seq
	s.badSeq = rtpSeqMod + 1
	s.cycles = 0
	s.received = 0
	s.receivedPrior = 0
	s.expectedPrior = 0
}

// UpdateSeq implements appendix A.1's update_seq. It returns false while
// the source is still on probation or the packet looks like line noise
// from far outside the expected window.
func (s *Stats) UpdateSeq(seq uint16) bool {
	udelta := seq - s.maxSeq

	if s.probation > 0 {
		if seq == s.maxSeq+1 {
			s.probation--
			s.maxSeq = seq
			if s.probation == 0 {
				s.initSeq(seq)
				s.received++
				return true
			}
		} else {
			s.probation = minSequential - 1
			s.maxSeq = seq
		}
		return false
	}

	switch {
	case udelta < maxDropout:
		if seq < s.maxSeq {
			s.cycles += rtpSeqMod
		}
		s.maxSeq = seq
	case uint32(udelta) <= rtpSeqMod-maxMisorder:
		if uint32(seq) == s.badSeq {
			s.initSeq(seq)
		} else {
			s.badSeq = (uint32(seq) + 1) & (rtpSeqMod - 1)
			return false
		}
	default:
		// Duplicate or reordered within tolerance; count but don't move
		// the high-water mark.
	}
	s.received++
	return true
}

// UpdateJitter implements appendix A.8's interarrival jitter estimate,
// exponentially weighted with gain 1/16. arrival is the local receipt
// time, expressed in the same clock units as rtpTimestamp (i.e. already
// multiplied by the stream's RTP clock rate).
func (s *Stats) UpdateJitter(rtpTimestamp, arrival uint32) {
	transit := int64(arrival) - int64(rtpTimestamp)
	if s.haveTransit {
		d := transit - s.transit
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16
	}
	s.transit = transit
	s.haveTransit = true
}

// NoteSenderReport records the NTP timestamp (middle 32 bits) and local
// arrival time of a sender report, giving ReportBlock something to compute
// DelaySinceLastSR from.
func (s *Stats) NoteSenderReport(ntpMiddle32 uint32, arrival time.Time) {
	s.lastSR = ntpMiddle32
	s.lastSRLocal = arrival
}

// ExtendedMaxSeq returns appendix A.1's extended_max: cycles + max_seq.
func (s *Stats) ExtendedMaxSeq() uint32 { return s.cycles + uint32(s.maxSeq) }

// Expected returns the number of packets that should have arrived between
// baseSeq and the current high-water mark.
func (s *Stats) Expected() uint32 { return s.ExtendedMaxSeq() - s.baseSeq + 1 }

// CumulativeLost returns the total number of packets appendix A's
// expected-minus-received formula reports as lost, floored at zero.
func (s *Stats) CumulativeLost() uint32 {
	expected := s.Expected()
	if expected < s.received {
		return 0
	}
	return expected - s.received
}

// FractionLost computes the Q8 fraction lost since the previous call,
// per appendix A.3, and resets the interval counters.
func (s *Stats) FractionLost() uint8 {
	expected := s.Expected()
	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	lostInterval := int32(expectedInterval) - int32(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		return 0
	}
	return uint8((lostInterval << 8) / int32(expectedInterval))
}

// ReportBlock builds the RFC 3550 section 6.4.1 report block for ssrc
// using this stream's accumulated state.
func (s *Stats) ReportBlock(ssrc uint32) rtcp.ReportBlock {
	var dlsr uint32
	if !s.lastSRLocal.IsZero() {
		dlsr = uint32(time.Since(s.lastSRLocal).Seconds() * 65536)
	}
	return rtcp.ReportBlock{
		SSRC:               ssrc,
		FractionLost:       s.FractionLost(),
		TotalLost:          s.CumulativeLost(),
		LastSequenceNumber: s.ExtendedMaxSeq(),
		Jitter:             uint32(s.jitter),
		LastSenderReport:   s.lastSR,
		DelaySinceLastSR:   dlsr,
	}
}

// BuildGoodbye constructs the RTCP BYE a session sends on shutdown
// (section 5's shutdown sequence; supplemented feature not present in the
// distilled spec's core modules).
func BuildGoodbye(ssrc uint32, reason string) *rtcp.Goodbye {
	return &rtcp.Goodbye{Sources: []uint32{ssrc}, Reason: reason}
}

// Registry tracks one Stats per source SSRC and implements
// dispatch.Handler so it can be chained onto the RTP validator. ClockRate
// converts wall-clock arrival times into the RTP timestamp's clock units
// for jitter; section 4.8 assumes one clock rate per stream, which a
// Registry instance represents.
type Registry struct {
	mu        sync.Mutex
	byStream  map[uint32]*Stats
	clockRate uint32
}

// NewRegistry constructs a Registry for a stream running at clockRate Hz
// (e.g. 90000 for H.264/H.265/H.266 video).
func NewRegistry(clockRate uint32) *Registry {
	return &Registry{byStream: make(map[uint32]*Stats), clockRate: clockRate}
}

// Name identifies this handler for logging.
func (r *Registry) Name() string { return "rtcpstats" }

// Handle updates the tracked Stats for the packet's SSRC and returns Ok
// (PktNotHandled for RTCP packets or packets without a decoded frame): this
// handler observes, it never claims the packet.
func (r *Registry) Handle(p *dispatch.Packet) (dispatch.Result, error) {
	if p.RTCP || p.Frame == nil {
		return dispatch.PktNotHandled, nil
	}

	hdr := p.Frame.Header
	r.mu.Lock()
	s, ok := r.byStream[hdr.SSRC]
	if !ok {
		s = New(hdr.Sequence)
		r.byStream[hdr.SSRC] = s
	}
	if s.UpdateSeq(hdr.Sequence) {
		now := time.Now().UnixNano()
		sec, nsec := uint64(now/int64(time.Second)), uint64(now%int64(time.Second))
		rate := uint64(r.clockRate)
		arrival := uint32(sec*rate + nsec*rate/uint64(time.Second))
		s.UpdateJitter(hdr.Timestamp, arrival)
	}
	r.mu.Unlock()

	return dispatch.Ok, nil
}

// Stats returns the tracked statistics for ssrc, if any have been
// recorded yet.
func (r *Registry) Stats(ssrc uint32) (*Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byStream[ssrc]
	return s, ok
}
