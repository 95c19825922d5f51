package h26x

import (
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/dispatch"
	"github.com/lanikai/rtpflow/internal/wire"
)

// fragmentStoreSize is the size of the single sequence-number-indexed
// fragment store. A 16-bit sequence number space guarantees every live
// fragment has exactly one home, per section 4.7's wrap-handling note.
const fragmentStoreSize = 1 << 16

// gcHysteresis bounds how often Receiver.GC actually walks the record set,
// per section 4.7 step 9 ("at most once per 100 ms of wall clock").
const gcHysteresis = 100 * time.Millisecond

// droppedTimestampCapacity bounds the dropped-timestamp set. The original
// source's equivalent is unbounded; an LRU cap keeps memory flat under a
// sender that churns through stale frames indefinitely.
const droppedTimestampCapacity = 4096

// frameRecord tracks the fragments seen so far for one in-flight frame,
// keyed by RTP timestamp.
type frameRecord struct {
	startTime time.Time
	semantic  Semantic
	naluType  uint8

	receivedSeqs map[uint16]struct{}
	totalSize    int

	startSeq, endSeq           uint16
	startReceived, endReceived bool
}

// Receiver implements section 4.7's reassembly state machine: the fixed
// fragment store, per-timestamp records, duplicate/consistency checks, and
// the discard-until-intra latch. It is the receive-side counterpart to
// Sender and is intended to be driven by a single processor goroutine; the
// spec calls out that the fragment store and records are "touched only by
// the processor thread; no synchronization needed," so Receiver holds no
// locks of its own.
type Receiver struct {
	cap Capability

	prependStartCode bool
	intraDelayPolicy bool
	maxFrameDelay    time.Duration

	fragments [fragmentStoreSize]*wire.Frame
	records   map[uint32]*frameRecord
	dropped   *lru.Cache

	discardUntilIntra bool
	lastGC            time.Time
}

// ReceiverOption configures a Receiver at construction time.
type ReceiverOption func(*Receiver)

// WithStartCodePrepend enables H26x-prepend-start-code: reconstructed NALs
// (single, FU-reassembled, or AP members) gain a 4-byte Annex B start code.
func WithStartCodePrepend(enabled bool) ReceiverOption {
	return func(r *Receiver) { r.prependStartCode = enabled }
}

// WithIntraDelay enables the discard-until-intra latch (the stream's
// H26xDependencyEnforcement flag): once a frame is dropped, all subsequent
// Inter frames are discarded until an Intra frame arrives.
func WithIntraDelay(enabled bool) ReceiverOption {
	return func(r *Receiver) { r.intraDelayPolicy = enabled }
}

// WithMaxFrameDelay overrides the default 100 ms GC threshold (section 6's
// configuration default for max-frame-delay).
func WithMaxFrameDelay(d time.Duration) ReceiverOption {
	return func(r *Receiver) { r.maxFrameDelay = d }
}

// SetMaxFrameDelay updates the GC threshold at runtime, per
// configure_ctx's max-frame-delay option.
func (r *Receiver) SetMaxFrameDelay(d time.Duration) { r.maxFrameDelay = d }

// NewReceiver constructs a Receiver for one payload family.
func NewReceiver(cap Capability, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		cap:           cap,
		maxFrameDelay: 100 * time.Millisecond,
		records:       make(map[uint32]*frameRecord),
		dropped:       lru.New(droppedTimestampCapacity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessFragment runs one validated RTP frame through the reassembly
// algorithm. It returns the dispatch result and, for PktReady /
// MultiplePktsReady, the reconstructed frame(s) ready for delivery.
func (r *Receiver) ProcessFragment(f *wire.Frame) (dispatch.Result, []*wire.Frame, error) {
	if len(f.Payload) < r.cap.PayloadHeaderSize() {
		return dispatch.GenericError, nil, xerrors.New("h26x: payload shorter than its header")
	}

	kind, naluType := r.classify(f.Payload)

	switch kind {
	case Aggregate:
		frames, err := r.splitAggregate(f)
		if err != nil {
			return dispatch.GenericError, nil, err
		}
		return dispatch.MultiplePktsReady, frames, nil

	case Single:
		if r.intraDelayPolicy && r.discardUntilIntra {
			switch r.cap.Semantic(naluType) {
			case Intra:
				r.discardUntilIntra = false
			case Inter:
				return dispatch.GenericError, nil, xerrors.New("h26x: dropped inter frame while awaiting intra refresh")
			}
		}
		out := r.reconstructSingle(f)
		return dispatch.PktReady, []*wire.Frame{out}, nil

	case FragmentInvalid:
		return dispatch.GenericError, nil, xerrors.New("h26x: invalid fragmentation unit header")

	case FragmentStart, FragmentMiddle, FragmentEnd:
		return r.processFU(f, kind, naluType)

	default:
		return dispatch.GenericError, nil, xerrors.New("h26x: unrecognized payload shape")
	}
}

func (r *Receiver) classify(payload []byte) (FragmentKind, uint8) {
	naluType := r.cap.PayloadNALType(payload)
	switch naluType {
	case r.cap.APType():
		return Aggregate, naluType
	case r.cap.FUType():
		if len(payload) < r.cap.PayloadHeaderSize()+r.cap.FUHeaderSize() {
			return FragmentInvalid, naluType
		}
		fuHeader := payload[r.cap.PayloadHeaderSize()+r.cap.FUHeaderSize()-1]
		kind, original := r.cap.ClassifyFragment(fuHeader)
		return kind, original
	default:
		return Single, naluType
	}
}

// reconstructSingle handles the "single NAL" fragment_type branch of
// section 4.7 step 1: optionally prepend a start code and hand the payload
// back unchanged otherwise.
func (r *Receiver) reconstructSingle(f *wire.Frame) *wire.Frame {
	if !r.prependStartCode {
		return f
	}
	buf := make([]byte, 0, 4+len(f.Payload))
	buf = append(buf, 0, 0, 0, 1)
	buf = append(buf, f.Payload...)
	out := *f
	out.Payload = buf
	return &out
}

// splitAggregate implements section 4.7 step 1's aggregation-packet branch:
// parse the (length, bytes) runs and allocate one frame per inner NAL,
// copying the outer header's metadata (section 4.7's final paragraph).
func (r *Receiver) splitAggregate(f *wire.Frame) ([]*wire.Frame, error) {
	headerSize := r.cap.PayloadHeaderSize()
	buf := f.Payload[headerSize:]

	var out []*wire.Frame
	for offset := 0; offset < len(buf); {
		if offset+2 > len(buf) {
			return nil, xerrors.New("h26x: truncated aggregation packet length field")
		}
		naluLen := int(buf[offset])<<8 | int(buf[offset+1])
		offset += 2
		if offset+naluLen > len(buf) {
			return nil, xerrors.New("h26x: aggregation packet NALU size exceeds remaining payload")
		}

		payload := make([]byte, 0, 4+naluLen)
		if r.prependStartCode {
			payload = append(payload, 0, 0, 0, 1)
		}
		payload = append(payload, buf[offset:offset+naluLen]...)
		offset += naluLen

		member := *f
		member.Payload = payload
		out = append(out, &member)
	}
	if len(out) == 0 {
		return nil, xerrors.New("h26x: aggregation packet with no members")
	}
	return out, nil
}

// processFU runs steps 2-8 of section 4.7 for one fragmentation-unit
// payload.
func (r *Receiver) processFU(f *wire.Frame, kind FragmentKind, naluType uint8) (dispatch.Result, []*wire.Frame, error) {
	ts := f.Header.Timestamp
	seq := f.Header.Sequence

	if _, wasDropped := r.dropped.Get(ts); wasDropped {
		return dispatch.GenericError, nil, xerrors.New("h26x: fragment for a dropped timestamp")
	}

	rec, ok := r.records[ts]
	if !ok {
		rec = &frameRecord{
			startTime:    time.Now(),
			semantic:     r.cap.Semantic(naluType),
			naluType:     naluType,
			receivedSeqs: make(map[uint16]struct{}),
		}
		r.records[ts] = rec
	}

	if _, dup := rec.receivedSeqs[seq]; dup {
		return dispatch.Ok, nil, nil
	}

	if r.cap.Semantic(naluType) != rec.semantic {
		r.freeRecord(ts, rec)
		return dispatch.GenericError, nil, xerrors.New("h26x: inconsistent NAL semantic within one frame")
	}

	if prior := r.fragments[seq]; prior != nil {
		r.fragments[seq] = nil
	}
	r.fragments[seq] = f
	rec.receivedSeqs[seq] = struct{}{}
	rec.totalSize += len(f.Payload) - (r.cap.PayloadHeaderSize() + r.cap.FUHeaderSize())

	switch kind {
	case FragmentStart:
		rec.startSeq, rec.startReceived = seq, true
	case FragmentEnd:
		rec.endSeq, rec.endReceived = seq, true
	}

	if !rec.startReceived || !rec.endReceived {
		return dispatch.Ok, nil, nil
	}

	expected := int(rec.endSeq-rec.startSeq) + 1
	if len(rec.receivedSeqs) != expected {
		return dispatch.Ok, nil, nil
	}

	if r.intraDelayPolicy && r.discardUntilIntra {
		if rec.semantic == Intra {
			r.discardUntilIntra = false
		} else {
			r.freeRecord(ts, rec)
			return dispatch.GenericError, nil, xerrors.New("h26x: dropped inter frame while awaiting intra refresh")
		}
	}

	out, err := r.reconstruct(rec.naluType, rec)
	delete(r.records, ts)
	if err != nil {
		return dispatch.GenericError, nil, err
	}

	frame := *f
	frame.Payload = out
	return dispatch.PktReady, []*wire.Frame{&frame}, nil
}

// reconstruct implements section 4.7 step 8: allocate the output buffer,
// synthesize the NAL header from the first fragment's FU headers, then
// copy each fragment's payload (past its FU headers) in 16-bit sequence
// order, freeing fragments as they're consumed.
func (r *Receiver) reconstruct(naluType uint8, rec *frameRecord) ([]byte, error) {
	headerSize := r.cap.NALHeaderSize()
	prefix := 0
	if r.prependStartCode {
		prefix = 4
	}

	out := make([]byte, 0, prefix+headerSize+rec.totalSize)
	if r.prependStartCode {
		out = append(out, 0, 0, 0, 1)
	}

	first := r.fragments[rec.startSeq]
	if first == nil {
		return nil, xerrors.New("h26x: missing start fragment at reconstruction time")
	}
	fuPayloadHeader := first.Payload[:r.cap.PayloadHeaderSize()]
	out = r.cap.BuildNALHeader(out, fuPayloadHeader, naluType)

	skip := r.cap.PayloadHeaderSize() + r.cap.FUHeaderSize()
	for seq := rec.startSeq; ; seq++ {
		frag := r.fragments[seq]
		if frag == nil {
			return nil, xerrors.New("h26x: missing fragment during reconstruction")
		}
		if len(frag.Payload) < skip {
			return nil, xerrors.New("h26x: fragment shorter than its own header")
		}
		out = append(out, frag.Payload[skip:]...)
		r.fragments[seq] = nil

		if seq == rec.endSeq {
			break
		}
	}
	return out, nil
}

func (r *Receiver) freeRecord(ts uint32, rec *frameRecord) {
	for seq := range rec.receivedSeqs {
		r.fragments[seq] = nil
	}
	delete(r.records, ts)
}

// GC implements section 4.7 step 9: at most once per gcHysteresis, walk
// in-flight records and drop any older than maxFrameDelay. Returns the
// number of payload bytes reclaimed.
func (r *Receiver) GC(now time.Time) int {
	if !r.lastGC.IsZero() && now.Sub(r.lastGC) < gcHysteresis {
		return 0
	}
	r.lastGC = now

	reclaimed := 0
	for ts, rec := range r.records {
		if now.Sub(rec.startTime) <= r.maxFrameDelay {
			continue
		}
		for seq := range rec.receivedSeqs {
			if frag := r.fragments[seq]; frag != nil {
				reclaimed += len(frag.Payload)
				r.fragments[seq] = nil
			}
		}
		delete(r.records, ts)
		r.dropped.Add(ts, struct{}{})
		if r.intraDelayPolicy {
			r.discardUntilIntra = true
		}
	}
	return reclaimed
}
