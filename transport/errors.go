// Package transport implements the Reliable Transport: the public
// send/receive_batch/process_acks/retransmit_pending/flush/close
// contract that orchestrates the reliability package's sliding
// windows, congestion controller, NAK controller, and retransmit
// controller over a UDP socket.
package transport

import "errors"

var (
	// ErrClosed is returned by Send once the transport is Closed. Send
	// is the only operation that checks for the Closed state.
	ErrClosed = errors.New("transport: closed")
	// ErrWouldBlock is returned by a non-blocking socket operation that
	// cannot complete immediately. Non-fatal; retry on the next tick.
	ErrWouldBlock = errors.New("transport: would block")
	// ErrSendFailed is returned by RetransmitPending when a queued
	// retransmit references a sequence the Send Window no longer
	// retains.
	ErrSendFailed = errors.New("transport: send slot evicted")
	// ErrPeerUnresponsive is the terminal state reached after no inbound
	// datagram of any kind has been observed for KeepaliveTimeout; ACKs
	// are not tracked separately from other datagrams.
	ErrPeerUnresponsive = errors.New("transport: peer unresponsive")
	// ErrTimedOut marks an expired deadline. No Transport operation
	// takes a deadline, and none returns it.
	ErrTimedOut = errors.New("transport: timed out")
	// ErrNotOpen is returned by Send when the connection has not yet
	// left Handshake, or has moved past Open into Draining.
	ErrNotOpen = errors.New("transport: connection not open")
)
