// Package reliability implements the sliding-window, congestion, NAK,
// and retransmit state that a Reliable Transport polls on every tick.
// Every type here is single-owner: callers provide their own
// synchronization if a transport is driven from more than one
// goroutine, but the package itself takes no locks on the hot path.
package reliability

import "errors"

var (
	// ErrWindowFull is returned by SendWindow.Append when the ring has
	// no free slot for a new sequence number. It is back-pressure, not
	// a fatal condition.
	ErrWindowFull = errors.New("reliability: send window full")
	// ErrSendFailed names a NAK or retransmit that references a
	// sequence number the SendWindow no longer retains. No function in
	// this package returns it; SendWindow.Get reports that case with
	// ok=false.
	ErrSendFailed = errors.New("reliability: send slot evicted")
	// ErrRetransmitOverflow is returned by RetransmitController.Queue
	// when the pending queue is already at capacity.
	ErrRetransmitOverflow = errors.New("reliability: retransmit queue overflow")
)
