package wire

import (
	"encoding/binary"
	"errors"
	"time"
)

// FragMaxFragments bounds how many pieces a single payload may be cut
// into; it also bounds the memory an in-progress Reassembler will hold
// for one sequence.
const FragMaxFragments = 256

// FragTimeout is how long an incomplete reassembly is kept before it
// is dropped.
const FragTimeout = 30 * time.Second

// fragHeaderSize is the 4-byte sub-header prepended to a fragment's
// payload: frag_id:u16 | total_frags:u16.
const fragHeaderSize = 4

var (
	ErrMTUTooSmall        = errors.New("wire: mtu too small for fragmentation")
	ErrTooManyFragments   = errors.New("wire: payload requires too many fragments")
	ErrFragmentIDInvalid  = errors.New("wire: fragment id out of range")
	ErrFragmentIncomplete = errors.New("wire: not all fragments received")
)

// Fragment is one piece of a fragmented DATA payload, ready to be
// wrapped in a DATA header with FlagFragment set.
type Fragment struct {
	FragID     uint16
	TotalFrags uint16
	Body       []byte // fragHeaderSize-byte sub-header + slice of the original payload
}

// Split cuts payload into fragments sized to fit within mtu minus the
// fixed wire header. Returns nil, nil if no fragmentation is needed.
func Split(payload []byte, mtu int) ([]Fragment, error) {
	maxFragPayload := mtu - HeaderSize - fragHeaderSize
	if maxFragPayload <= 0 {
		return nil, ErrMTUTooSmall
	}
	if len(payload) <= maxFragPayload {
		return nil, nil
	}

	total := (len(payload) + maxFragPayload - 1) / maxFragPayload
	if total > FragMaxFragments {
		return nil, ErrTooManyFragments
	}

	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		offset := i * maxFragPayload
		end := offset + maxFragPayload
		if end > len(payload) {
			end = len(payload)
		}
		body := make([]byte, fragHeaderSize+end-offset)
		binary.LittleEndian.PutUint16(body[0:2], uint16(i))
		binary.LittleEndian.PutUint16(body[2:4], uint16(total))
		copy(body[fragHeaderSize:], payload[offset:end])

		frags = append(frags, Fragment{
			FragID:     uint16(i),
			TotalFrags: uint16(total),
			Body:       body,
		})
	}
	return frags, nil
}

// DecodeFragment splits a DATA body that has FlagFragment set into its
// sub-header and data slice.
func DecodeFragment(body []byte) (Fragment, []byte, error) {
	if len(body) < fragHeaderSize {
		return Fragment{}, nil, ErrMalformedFrame
	}
	fragID := binary.LittleEndian.Uint16(body[0:2])
	total := binary.LittleEndian.Uint16(body[2:4])
	if total == 0 || fragID >= total {
		return Fragment{}, nil, ErrFragmentIDInvalid
	}
	return Fragment{FragID: fragID, TotalFrags: total}, body[fragHeaderSize:], nil
}

// assembly tracks the fragments collected so far for one fragmented
// payload (identified by the sequence number of its first fragment).
type assembly struct {
	total     uint16
	parts     [FragMaxFragments][]byte
	have      uint16
	createdAt time.Time
}

// Reassembler collects fragments across multiple in-order DATA frames
// and reassembles them once complete. It is independent of the Send
// and Receive Window's own sequencing: it only ever sees payloads the
// Receive Window has already delivered in order.
type Reassembler struct {
	bySeq map[uint64]*assembly
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{bySeq: make(map[uint64]*assembly)}
}

// Add feeds one delivered fragment, keyed by seq, the sequence number
// of the DATA frame that carried the group's first fragment; every
// fragment of one payload must be added under that same seq. Returns
// the reassembled payload and true once every fragment has arrived.
func (r *Reassembler) Add(seq uint64, frag Fragment, data []byte, now time.Time) ([]byte, bool, error) {
	a, ok := r.bySeq[seq]
	if !ok {
		a = &assembly{total: frag.TotalFrags, createdAt: now}
		r.bySeq[seq] = a
	}
	if frag.FragID >= a.total {
		return nil, false, ErrFragmentIDInvalid
	}
	if a.parts[frag.FragID] == nil {
		buf := make([]byte, len(data))
		copy(buf, data)
		a.parts[frag.FragID] = buf
		a.have++
	}
	if a.have < a.total {
		return nil, false, nil
	}

	size := 0
	for i := uint16(0); i < a.total; i++ {
		if a.parts[i] == nil {
			return nil, false, ErrFragmentIncomplete
		}
		size += len(a.parts[i])
	}
	out := make([]byte, 0, size)
	for i := uint16(0); i < a.total; i++ {
		out = append(out, a.parts[i]...)
	}
	delete(r.bySeq, seq)
	return out, true, nil
}

// ExpireBefore drops any in-progress assembly older than FragTimeout
// as of now, returning how many were dropped.
func (r *Reassembler) ExpireBefore(now time.Time) int {
	dropped := 0
	for seq, a := range r.bySeq {
		if now.Sub(a.createdAt) > FragTimeout {
			delete(r.bySeq, seq)
			dropped++
		}
	}
	return dropped
}
