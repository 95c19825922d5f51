package ring

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/lanikai/rtpflow/internal/transport"
)

// defaultPollTimeout matches section 5's "polls with a ~100 ms timeout."
const defaultPollTimeout = 100 * time.Millisecond

// Receiver is the per-socket receiver thread: poll, recvfrom into the next
// ring slot, signal the processor. It never touches the handler chain;
// that's dispatch.Processor's job on the other end of the ring.
type Receiver struct {
	conn        *transport.Conn
	buf         *Buffer
	pollTimeout time.Duration
}

// NewReceiver constructs a Receiver reading datagrams from conn into buf.
func NewReceiver(conn *transport.Conn, buf *Buffer) *Receiver {
	return &Receiver{conn: conn, buf: buf, pollTimeout: defaultPollTimeout}
}

// WithPollTimeout overrides the default ~100ms poll timeout.
func (r *Receiver) WithPollTimeout(d time.Duration) *Receiver {
	r.pollTimeout = d
	return r
}

// Run blocks, reading datagrams until ctx is cancelled or the socket
// reports a hard error (other than a poll or read timeout), matching section 5's
// should_stop flag via context.Context instead of a raw bool.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result, err := r.conn.PollRead(r.pollTimeout)
		if err != nil {
			log.Error("poll: %v", err)
			return err
		}
		if result == transport.TimedOut {
			continue
		}

		slot, overtook := r.buf.AcquireWriteSlot()
		if overtook {
			log.Warn("ring buffer full, overwriting oldest unread slot")
		}

		msgs := []transport.Message{{Buffers: [][]byte{slot.Data}}}
		n, err := r.conn.ReadBatch(msgs)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Error("recvfrom: %v", err)
			return err
		}
		if n == 0 {
			continue
		}

		slot.N = msgs[0].N
		slot.Addr = msgs[0].Addr
		r.buf.CommitWrite()
	}
}
