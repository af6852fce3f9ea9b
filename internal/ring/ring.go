// Package ring implements the single-producer/single-consumer scancode FIFO
// that sits between the AT receiver and the translation FSM.
package ring

import "sync/atomic"

// Capacity is fixed at 16, matching the hardware's capture buffer: AT
// keyboards clock at roughly 1kHz, so a realistic receive burst comfortably
// fits.
const Capacity = 16

// Buffer is a fixed-capacity ring of received AT bytes. The zero value is
// an empty buffer, ready to use.
//
// Buffer is safe for concurrent use by exactly one producer (the clock-edge
// handler) and one consumer (the FSM goroutine) at a time — head is written
// only by the consumer, tail only by the producer. Both indices are
// free-running counters, reduced modulo Capacity only when indexing data,
// and are updated with atomic stores/loads so
// the producer and consumer can run on different goroutines (the host bench
// target) or different execution contexts (interrupt vs. main loop, on the
// MCU target) without a lock.
type Buffer struct {
	data       [Capacity]byte
	head, tail atomic.Uint32
	overflows  atomic.Uint32
}

// Enqueue appends b. If the buffer is already full, v is dropped rather
// than overwriting the oldest byte — this firmware has no flow control
// path back to the keyboard, so overflow is tolerated rather than
// treated as an error, but counted, so a keyboard that's persistently
// outrunning the FSM shows up in the bridge's counters instead of just
// silently losing bytes. Dropping the newest byte, rather than evicting
// the oldest, keeps head a field the consumer alone ever writes; evicting
// the oldest would need the producer to advance head too, which would
// race with a concurrent Dequeue on the host bench target, where producer and
// consumer are different goroutines.
func (b *Buffer) Enqueue(v byte) {
	t := b.tail.Load()
	h := b.head.Load()
	if t-h >= Capacity {
		b.overflows.Add(1)
		return
	}
	b.data[t%Capacity] = v
	b.tail.Store(t + 1)
}

// Overflows reports the number of bytes enqueued while the buffer was
// already full.
func (b *Buffer) Overflows() uint32 {
	return b.overflows.Load()
}

// Dequeue removes and returns the oldest byte. It reports false if the
// buffer was empty, in which case the returned byte is meaningless.
func (b *Buffer) Dequeue() (byte, bool) {
	h := b.head.Load()
	if h == b.tail.Load() {
		return 0, false
	}
	v := b.data[h%Capacity]
	b.head.Store(h + 1)
	return v, true
}

// Empty reports whether the buffer currently holds no bytes.
func (b *Buffer) Empty() bool {
	return b.head.Load() == b.tail.Load()
}

// Flush discards all buffered bytes. Callers on the MCU target must mask
// the AT clock interrupt for the duration of the call, since it is not
// otherwise safe to race with Enqueue.
func (b *Buffer) Flush() {
	b.head.Store(0)
	b.tail.Store(0)
	for i := range b.data {
		b.data[i] = 0
	}
}
