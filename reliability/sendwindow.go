package reliability

import "time"

// SendSlot is one entry in the Send Window: the bytes sent for a
// sequence number, when they were sent, and how many times they have
// been retransmitted.
type SendSlot struct {
	Seq        uint64
	Payload    []byte
	SentAt     time.Time
	RetryCount uint32
	occupied   bool
}

// SendWindow is a bounded ring of in-flight payloads keyed by sequence
// number. Capacity is fixed at construction and never grows.
type SendWindow struct {
	slots    []SendSlot
	capacity uint64
	base     uint64 // smallest sequence still retained
	next     uint64 // next sequence number to be assigned
}

// NewSendWindow returns a SendWindow that retains at most capacity
// in-flight slots.
func NewSendWindow(capacity int) *SendWindow {
	return &SendWindow{
		slots:    make([]SendSlot, capacity),
		capacity: uint64(capacity),
	}
}

func (w *SendWindow) index(seq uint64) uint64 {
	return seq % w.capacity
}

// Base returns the oldest sequence number still retained.
func (w *SendWindow) Base() uint64 { return w.base }

// Next returns the sequence number that the next Append will assign.
func (w *SendWindow) Next() uint64 { return w.next }

// InFlight returns the count of sequence numbers currently occupying a slot.
func (w *SendWindow) InFlight() int {
	return int(w.next - w.base)
}

// Append assigns the next sequence number to payload and stores it.
// It fails with ErrWindowFull when the ring has no free slot, i.e.
// when the caller-visible window (next-base) has already reached
// capacity or the supplied maxInFlight.
func (w *SendWindow) Append(payload []byte, sentAt time.Time, maxInFlight uint64) (uint64, error) {
	limit := w.capacity
	if maxInFlight > 0 && maxInFlight < limit {
		limit = maxInFlight
	}
	if w.next-w.base >= limit {
		return 0, ErrWindowFull
	}

	seq := w.next
	w.next++

	idx := w.index(seq)
	w.slots[idx] = SendSlot{
		Seq:      seq,
		Payload:  payload,
		SentAt:   sentAt,
		occupied: true,
	}
	return seq, nil
}

// Get returns the still-retained bytes for seq, or ok=false if the
// slot has been evicted or was never occupied.
func (w *SendWindow) Get(seq uint64) (SendSlot, bool) {
	if seq < w.base || seq >= w.next {
		return SendSlot{}, false
	}
	slot := w.slots[w.index(seq)]
	if !slot.occupied || slot.Seq != seq {
		return SendSlot{}, false
	}
	return slot, true
}

// MarkRetransmitted bumps the retry count and send time of the slot
// for seq, if it is still retained.
func (w *SendWindow) MarkRetransmitted(seq uint64, at time.Time) bool {
	if seq < w.base || seq >= w.next {
		return false
	}
	idx := w.index(seq)
	if !w.slots[idx].occupied || w.slots[idx].Seq != seq {
		return false
	}
	w.slots[idx].RetryCount++
	w.slots[idx].SentAt = at
	return true
}

// AdvanceAcked removes every slot with Seq <= upToSeq from the front
// of the ring, returning how many slots were removed.
func (w *SendWindow) AdvanceAcked(upToSeq uint64) int {
	removed := 0
	for w.base <= upToSeq && w.base < w.next {
		idx := w.index(w.base)
		w.slots[idx] = SendSlot{}
		w.base++
		removed++
	}
	return removed
}

// Evict drops the oldest retained slot unconditionally, for the case
// where a shrinking congestion window must free capacity ahead of any
// ACK. It returns the evicted sequence number and whether anything
// was evicted.
func (w *SendWindow) Evict() (uint64, bool) {
	if w.base >= w.next {
		return 0, false
	}
	seq := w.base
	idx := w.index(seq)
	w.slots[idx] = SendSlot{}
	w.base++
	return seq, true
}
