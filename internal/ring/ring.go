// Package ring implements the SPSC datagram ring buffer between a socket's
// receiver thread and its processor thread (section 4.5/5). It is a direct
// port of the original's atomic-index ring: one writer (the receiver
// goroutine), one reader (the processor goroutine), no lock on the hot
// path. Go has no raw condition variable, so the receiver's "signal the
// processor" step is a size-1 buffered channel, the idiomatic substitute
// section 9 calls for.
package ring

import (
	"net"
	"sync/atomic"

	"github.com/lanikai/rtpflow/internal/logging"
)

var log = logging.DefaultLogger.WithTag("ring")

// Slot holds one received datagram. Data is reused across writes; only
// Data[:N] is valid. The processor thread must finish with a slot before
// the receiver wraps back around to it (Buffer's capacity makes that
// structurally true as long as the processor keeps pace).
type Slot struct {
	Data []byte
	N    int
	Addr net.Addr
}

// SlotCountFor returns the number of slots that fit bufferBytes at
// payloadSize each, per section 6's "ring-buffer size" / "MTU/payload
// size" configuration defaults, with a floor of 1 slot.
func SlotCountFor(bufferBytes, payloadSize int) int {
	if payloadSize <= 0 {
		payloadSize = 1452
	}
	n := bufferBytes / payloadSize
	if n < 1 {
		n = 1
	}
	return n
}

// Buffer is a fixed-size SPSC ring of Slots. write and read are monotonic
// counters (not wrapped indices); the slot for counter value v lives at
// v % len(slots). This avoids the usual full/empty ambiguity of a wrapped
// two-index design.
type Buffer struct {
	slots []Slot
	write uint64
	read  uint64
	// notify wakes the processor thread; buffered so a receiver that races
	// ahead of a still-busy processor never blocks on the handoff.
	notify chan struct{}
}

// NewBuffer preallocates n slots of payloadSize bytes each.
func NewBuffer(n, payloadSize int) *Buffer {
	if n < 1 {
		n = 1
	}
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Data = make([]byte, payloadSize)
	}
	return &Buffer{slots: slots, notify: make(chan struct{}, 1)}
}

// Len returns the number of preallocated slots.
func (b *Buffer) Len() int { return len(b.slots) }

// AcquireWriteSlot returns the next slot for the receiver thread to fill.
// If the ring is full (the processor hasn't kept up), it overtakes the
// oldest unread slot and reports true, matching section 4.5's "forcibly
// overtake: increment read, logging a dropped-oldest warning."
func (b *Buffer) AcquireWriteSlot() (slot *Slot, overtookOldest bool) {
	write := atomic.LoadUint64(&b.write)
	read := atomic.LoadUint64(&b.read)
	n := uint64(len(b.slots))
	if write-read >= n {
		atomic.AddUint64(&b.read, 1)
		overtookOldest = true
	}
	return &b.slots[write%n], overtookOldest
}

// CommitWrite publishes the slot most recently returned by
// AcquireWriteSlot and wakes the processor thread.
func (b *Buffer) CommitWrite() {
	atomic.AddUint64(&b.write, 1)
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Notify is the channel the processor thread waits on between drain
// passes.
func (b *Buffer) Notify() <-chan struct{} { return b.notify }

// Pending returns the number of slots written but not yet read.
func (b *Buffer) Pending() int {
	return int(atomic.LoadUint64(&b.write) - atomic.LoadUint64(&b.read))
}

// Next returns the next unread slot, if any, and advances the read
// counter. Only the processor thread calls this.
func (b *Buffer) Next() (*Slot, bool) {
	write := atomic.LoadUint64(&b.write)
	read := atomic.LoadUint64(&b.read)
	if read >= write {
		return nil, false
	}
	slot := &b.slots[read%uint64(len(b.slots))]
	atomic.AddUint64(&b.read, 1)
	return slot, true
}
