// Package framequeue implements the send-path frame queue described in
// section 4.4: init_transaction -> enqueue_message* -> flush. One
// transaction accumulates every RTP packet belonging to a single encoded
// frame (one timestamp), then flush paces and hands the whole burst to the
// platform socket in as few syscalls as the configured policy allows.
//
// Grounded on the teacher's internal/rtp/session.go Stream.WritePacket
// (which built one packet at a time with a package-private rtpHeader) and
// internal/ice's single-packet net.PacketConn writes; this package
// generalizes both into a multi-packet transaction over
// internal/transport's batch-capable Conn, since the frame queue's whole
// point is to turn "N packets" into "one scatter-gather syscall".
package framequeue

import (
	"context"
	"net"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/rtpflow/internal/packet"
	"github.com/lanikai/rtpflow/internal/srtp"
	"github.com/lanikai/rtpflow/internal/transport"
	"github.com/lanikai/rtpflow/internal/wire"
)

// Config holds the parameters shared by every transaction a Queue builds.
type Config struct {
	SSRC         uint32
	PayloadType  uint8
	FPSNumerator uint32
	FPSDenominator uint32

	// FrameRatePacing blocks flush until the next frame's scheduled send
	// time. FragmentPacing, instead, spreads one frame's packets evenly
	// across 80% of the frame interval. Section 4.4 treats them as
	// mutually exclusive; FrameRatePacing wins if both are set.
	FrameRatePacing bool
	FragmentPacing  bool

	// AuthTagPlaceholder reserves a zeroed 10-byte authentication tag at
	// the end of every packet when SRTP is true set but SRTP itself isn't
	// wired yet (keys not negotiated), so downstream MTU/pacing budget
	// math already accounts for the tag's eventual space. Once SRTP is
	// non-nil, the real context supplies the tag and this flag is ignored.
	AuthTagPlaceholder bool

	// SRTP, when non-nil, seals every packet in the transaction during
	// flush, replacing any AuthTagPlaceholder reservation with the real
	// authentication tag (and ciphertext, unless it's a null-cipher
	// context).
	SRTP *srtp.Context

	// ClusterSize caps how many packets go out per WriteBatch call when
	// pacing is off (the "syscall-clustering" flag); zero means one call
	// for the whole burst.
	ClusterSize int
}

// Queue is the send-path frame queue for one remote peer.
type Queue struct {
	conn   *transport.Conn
	remote net.Addr
	cfg    Config

	sequence uint16
	sent     uint64

	nextFrame time.Time
}

// New constructs a Queue sending to remote over conn.
func New(conn *transport.Conn, remote net.Addr, cfg Config) *Queue {
	return &Queue{conn: conn, remote: remote, cfg: cfg}
}

// SetFPS updates the frame-rate used by both pacing modes, per
// configure_ctx's FPS numerator/denominator option.
func (q *Queue) SetFPS(numerator, denominator uint32) {
	q.cfg.FPSNumerator = numerator
	q.cfg.FPSDenominator = denominator
}

// SetFrameRatePacing toggles the frame-rate-pacing option.
func (q *Queue) SetFrameRatePacing(enabled bool) { q.cfg.FrameRatePacing = enabled }

// SetFragmentPacing toggles the fragment-pacing option.
func (q *Queue) SetFragmentPacing(enabled bool) { q.cfg.FragmentPacing = enabled }

// SetClusterSize updates the syscall-clustering group size.
func (q *Queue) SetClusterSize(n int) { q.cfg.ClusterSize = n }

func (q *Queue) frameInterval() time.Duration {
	if q.cfg.FPSNumerator == 0 {
		return 0
	}
	seconds := float64(q.cfg.FPSDenominator) / float64(q.cfg.FPSNumerator)
	return time.Duration(seconds * float64(time.Second))
}

type pendingPacket struct {
	buf       []byte
	headerLen int
	index     uint64
}

// Transaction accumulates the packets for one frame between
// InitTransaction and Flush.
type Transaction struct {
	q         *Queue
	timestamp uint32
	packets   []pendingPacket
}

// InitTransaction begins a transaction for one frame at the given RTP
// timestamp.
func (q *Queue) InitTransaction(timestamp uint32) *Transaction {
	return &Transaction{q: q, timestamp: timestamp}
}

// EnqueueMessage prepends a freshly sequenced RTP header to payload,
// incrementing the queue's sequence number and sent-packet counters, per
// section 4.4. The marker bit is decided at Flush, once the last packet in
// the transaction is known.
func (t *Transaction) EnqueueMessage(payload []byte) error {
	q := t.q
	hdr := &wire.Header{
		PayloadType: q.cfg.PayloadType,
		Sequence:    q.sequence,
		Timestamp:   t.timestamp,
		SSRC:        q.cfg.SSRC,
	}
	headerLen := hdr.Len()

	tagReserve := 0
	if q.cfg.SRTP == nil && q.cfg.AuthTagPlaceholder {
		tagReserve = srtp.TagLength
	}

	buf := make([]byte, headerLen+len(payload)+tagReserve)
	w := packet.NewWriter(buf)
	if err := hdr.Encode(w); err != nil {
		return xerrors.Errorf("framequeue: encode header: %w", err)
	}
	if err := w.WriteSlice(payload); err != nil {
		return xerrors.Errorf("framequeue: write payload: %w", err)
	}
	if tagReserve > 0 {
		w.ZeroPad(tagReserve)
	}

	t.packets = append(t.packets, pendingPacket{buf: w.Bytes(), headerLen: headerLen, index: q.sent})
	q.sequence++
	q.sent++
	return nil
}

// Flush implements section 4.4's pacing and delivery policy. On error the
// transaction is abandoned unconditionally; the caller must not reuse it.
func (t *Transaction) Flush(ctx context.Context) (int, error) {
	q := t.q
	if len(t.packets) == 0 {
		return 0, nil
	}
	t.packets[len(t.packets)-1].buf[1] |= 0x80 // marker bit on the frame's last packet

	packets := make([][]byte, len(t.packets))
	for i, p := range t.packets {
		buf := p.buf
		if q.cfg.SRTP != nil {
			sealed, err := q.cfg.SRTP.SealRTP(buf, p.headerLen, q.cfg.SSRC, p.index)
			if err != nil {
				return 0, xerrors.Errorf("framequeue: seal packet %d: %w", i, err)
			}
			buf = sealed
		}
		packets[i] = buf
	}

	switch {
	case q.cfg.FrameRatePacing:
		q.waitFrameBoundary(ctx)
		return q.sendClustered(packets)
	case q.cfg.FragmentPacing:
		return q.sendPaced(ctx, packets)
	default:
		return q.sendClustered(packets)
	}
}

// waitFrameBoundary blocks until the next scheduled frame time, resetting
// the sync point if we're running more than half a frame interval behind
// (section 4.4: "reset the sync point if we are late beyond half a frame
// interval").
func (q *Queue) waitFrameBoundary(ctx context.Context) {
	interval := q.frameInterval()
	if interval <= 0 {
		return
	}
	now := time.Now()
	if q.nextFrame.IsZero() || now.Sub(q.nextFrame) > interval/2 {
		q.nextFrame = now
	}
	if d := q.nextFrame.Sub(now); d > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	q.nextFrame = q.nextFrame.Add(interval)
}

// sendPaced spreads packets evenly across 80% of the frame interval.
func (q *Queue) sendPaced(ctx context.Context, packets [][]byte) (int, error) {
	interval := q.frameInterval()
	if interval <= 0 || len(packets) <= 1 {
		return q.sendClustered(packets)
	}
	step := time.Duration(0.8 * float64(interval) / float64(len(packets)))

	sent := 0
	for i, p := range packets {
		n, err := q.sendClustered([][]byte{p})
		sent += n
		if err != nil {
			return sent, err
		}
		if i == len(packets)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-time.After(step):
		}
	}
	return sent, nil
}

// sendClustered emits packets in groups of at most q.cfg.ClusterSize
// packets, one scatter-gather WriteBatch call per group (the
// "syscall-clustering" flag), or one call for the whole burst when
// ClusterSize is zero.
func (q *Queue) sendClustered(packets [][]byte) (int, error) {
	clusterSize := q.cfg.ClusterSize
	if clusterSize <= 0 {
		clusterSize = len(packets)
	}

	total := 0
	for start := 0; start < len(packets); start += clusterSize {
		end := start + clusterSize
		if end > len(packets) {
			end = len(packets)
		}
		msgs := make([]transport.Message, end-start)
		for i, p := range packets[start:end] {
			msgs[i] = transport.Message{Buffers: [][]byte{p}, Addr: q.remote}
		}
		n, err := q.conn.WriteBatch(msgs)
		total += n
		if err != nil {
			return total, xerrors.Errorf("framequeue: send batch: %w", err)
		}
	}
	return total, nil
}
