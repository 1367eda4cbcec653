package transport

import (
	"net"
	"time"

	"github.com/bugthesystem/kaos/metrics"
	"github.com/bugthesystem/kaos/reliability"
	"github.com/bugthesystem/kaos/wire"
)

// recvEntry holds one out-of-order DATA payload until the Receive
// Window's contiguous prefix reaches it.
type recvEntry struct {
	flags   uint8
	payload []byte
}

// Transport is the Reliable Transport: it orchestrates a Send Window,
// Receive Window, Congestion Controller, NAK Controller, and
// Retransmit Controller over one UDP socket. It is single-owner: the
// caller drives it from one goroutine via Send/ReceiveBatch/
// ProcessAcks/RetransmitPending/Flush/CheckTimeouts, matching spec.md §5's
// "polled from a tick loop, no per-operation locking" model.
type Transport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	cfg    Config
	mtu    int

	sendWindow *reliability.SendWindow
	recvWindow *reliability.RecvWindow
	cong       *reliability.Congestion
	nak        *reliability.NakController
	retx       *reliability.RetransmitController

	reassembler         *wire.Reassembler
	fragGroupSeq        uint64
	fragGroupOpen       bool
	fragGroupCompressed bool

	sink    MessageSink
	metrics *metrics.Registry

	state State

	recvBuf         map[uint64]recvEntry
	pendingAcks     []pendingAck
	pendingRetx     map[uint64]bool
	highestReceived uint64
	lastRecvAt      time.Time
}

// pendingAck pairs a decoded ACK body with the header flags it arrived
// with, so ProcessAcks can tell a real cumulative acknowledgement from
// a selective-only one (see wire.FlagNoCumulativeAck).
type pendingAck struct {
	body         wire.AckBody
	noCumulative bool
}

// NewTransport constructs a Transport bound to conn, talking to remote.
// sink and rec may both be nil. The connection starts in Handshake;
// call Open once ready to admit Send calls.
func NewTransport(conn *net.UDPConn, remote *net.UDPAddr, cfg Config, sink MessageSink, rec *metrics.Registry) *Transport {
	return &Transport{
		conn:        conn,
		remote:      remote,
		cfg:         cfg,
		mtu:         detectMTU(conn),
		sendWindow:  reliability.NewSendWindow(cfg.MaxInFlight),
		recvWindow:  reliability.NewRecvWindow(cfg.RecvWindowSize),
		cong:        reliability.NewCongestion(cfg.Congestion),
		nak:         reliability.NewNakController(cfg.Nak),
		retx:        reliability.NewRetransmitController(cfg.RetransmitMaxPending, cfg.RetransmitJitter),
		reassembler: wire.NewReassembler(),
		sink:        sink,
		metrics:     rec,
		state:       StateHandshake,
		recvBuf:     make(map[uint64]recvEntry),
		pendingRetx: make(map[uint64]bool),
	}
}

// State returns the connection's current lifecycle stage.
func (t *Transport) State() State { return t.state }

// Open transitions the connection from Handshake to Open, after which
// Send is permitted.
func (t *Transport) Open() {
	if t.state == StateHandshake {
		t.state = StateOpen
	}
}

// BeginDraining moves an Open connection to Draining: ACKs continue to
// be processed and retransmits continue to drain, but Send fails.
func (t *Transport) BeginDraining() {
	if t.state == StateOpen {
		t.state = StateDraining
	}
}

// DrainComplete reports whether every sent payload has been
// acknowledged, the condition under which a caller in Draining should
// call Close.
func (t *Transport) DrainComplete() bool {
	return t.sendWindow.InFlight() == 0
}

// Send assigns the next sequence number to payload, transmits it (or
// its fragments, if it exceeds the path MTU), and if a MessageSink was
// configured, appends it there too.
func (t *Transport) Send(payload []byte) (uint64, error) {
	if t.state == StateClosed {
		return 0, ErrClosed
	}
	if t.state != StateOpen {
		return 0, ErrNotOpen
	}

	body, compressed := wire.MaybeCompress(payload)
	var flags uint8
	if compressed {
		flags |= wire.FlagCompressed
	}

	frags, err := wire.Split(body, t.mtu)
	if err != nil {
		return 0, err
	}
	if frags == nil {
		return t.sendOne(body, flags)
	}

	var firstSeq uint64
	for i, f := range frags {
		seq, err := t.sendOne(f.Body, flags|wire.FlagFragment)
		if err != nil {
			return firstSeq, err
		}
		if i == 0 {
			firstSeq = seq
		}
	}
	return firstSeq, nil
}

func (t *Transport) sendOne(payload []byte, flags uint8) (uint64, error) {
	limit := uint64(t.cong.Cwnd())
	if uint64(t.cfg.MaxInFlight) < limit {
		limit = uint64(t.cfg.MaxInFlight)
	}

	now := time.Now()
	seq, err := t.sendWindow.Append(payload, now, limit)
	if err != nil {
		return 0, err
	}
	t.cong.OnSend()

	hdr := wire.Header{Kind: wire.KindData, Flags: flags, Seq: seq}
	datagram := wire.Encode(hdr, payload)
	if err := writeDatagram(t.conn, datagram, t.remote, 0); err != nil {
		if err == ErrWouldBlock {
			t.queueRetransmit(seq, now)
			return seq, ErrWouldBlock
		}
		t.state = StateClosed
		return seq, err
	}
	t.metrics.IncPacketsSent()

	if t.sink != nil {
		if _, err := t.sink.Append(payload); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

func (t *Transport) queueRetransmit(seq uint64, now time.Time) {
	if t.pendingRetx[seq] {
		return
	}
	if err := t.retx.Queue(seq, now); err != nil {
		t.metrics.IncRetransmitOverflow()
		return
	}
	t.pendingRetx[seq] = true
}

// ReceiveBatch drains up to max datagrams without blocking, decoding
// and dispatching each by kind. Newly in-order DATA payloads are
// passed to handler in sequence order; it returns how many were
// delivered.
func (t *Transport) ReceiveBatch(max int, handler func(seq uint64, payload []byte) error) (int, error) {
	delivered := 0
	for i := 0; i < max; i++ {
		datagram, addr, err := readDatagram(t.conn, 0)
		if err != nil {
			if err == ErrWouldBlock {
				break
			}
			t.state = StateClosed
			return delivered, err
		}
		if t.remote != nil && addr.String() != t.remote.String() {
			continue
		}
		t.metrics.IncPacketsReceived()
		t.lastRecvAt = time.Now()

		hdr, body, err := wire.Decode(datagram)
		if err != nil {
			continue
		}

		switch hdr.Kind {
		case wire.KindData:
			n, err := t.handleData(hdr, body, handler)
			delivered += n
			if err != nil {
				return delivered, err
			}
		case wire.KindACK:
			ack, err := wire.DecodeACKBody(body)
			if err == nil {
				t.pendingAcks = append(t.pendingAcks, pendingAck{
					body:         ack,
					noCumulative: hdr.Flags&wire.FlagNoCumulativeAck != 0,
				})
			}
		case wire.KindNAK:
			nak, err := wire.DecodeNAKBody(body)
			if err == nil {
				t.handleNak(nak, time.Now())
			}
		case wire.KindStatus:
			// Peer flow-control info; spec.md leaves consumption of
			// receiver_window_bytes to the caller's send pacing.
		case wire.KindHeartbeat:
			// lastRecvAt already refreshed above.
		}
	}
	return delivered, nil
}

func (t *Transport) handleData(hdr wire.Header, body []byte, handler func(seq uint64, payload []byte) error) (int, error) {
	if hdr.Seq > t.highestReceived {
		t.highestReceived = hdr.Seq
	}

	now := time.Now()
	result, delivered := t.recvWindow.Record(hdr.Seq, now)
	switch result {
	case reliability.OutOfWindow:
		t.metrics.IncDroppedFarFuture()
		return 0, nil
	case reliability.Duplicate:
		t.metrics.IncDroppedDuplicate()
		return 0, nil
	}

	t.recvBuf[hdr.Seq] = recvEntry{flags: hdr.Flags, payload: body}
	t.nak.Resolve(hdr.Seq)

	count := 0
	for _, seq := range delivered {
		ent := t.recvBuf[seq]
		delete(t.recvBuf, seq)

		payload, ok, err := t.reassemble(seq, ent)
		if err != nil || !ok {
			continue
		}
		if err := handler(seq, payload); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// reassemble resolves one delivered entry into a final payload,
// handling fragmentation and decompression. ok is false when the
// entry is a fragment still awaiting the rest of its group.
func (t *Transport) reassemble(seq uint64, ent recvEntry) (payload []byte, ok bool, err error) {
	payload = ent.payload

	if ent.flags&wire.FlagFragment != 0 {
		frag, data, err := wire.DecodeFragment(payload)
		if err != nil {
			return nil, false, nil
		}
		if frag.FragID == 0 {
			t.fragGroupSeq = seq
			t.fragGroupOpen = true
			t.fragGroupCompressed = ent.flags&wire.FlagCompressed != 0
		}
		if !t.fragGroupOpen {
			return nil, false, nil
		}
		full, done, err := t.reassembler.Add(t.fragGroupSeq, frag, data, time.Now())
		if err != nil || !done {
			return nil, false, err
		}
		t.fragGroupOpen = false
		payload = full
		if t.fragGroupCompressed {
			payload, err = wire.Decompress(payload)
			if err != nil {
				return nil, false, nil
			}
		}
		return payload, true, nil
	}

	if ent.flags&wire.FlagCompressed != 0 {
		payload, err = wire.Decompress(payload)
		if err != nil {
			return nil, false, nil
		}
	}
	return payload, true, nil
}

func (t *Transport) handleNak(nak wire.NakBody, now time.Time) {
	queued := false
	for seq := nak.GapStart; seq <= nak.GapEnd; seq++ {
		if _, ok := t.sendWindow.Get(seq); !ok {
			continue
		}
		t.queueRetransmit(seq, now)
		queued = true
	}
	if queued {
		t.cong.OnLoss()
	}
}

// ProcessAcks folds every ACK received since the last call into the
// Send Window and Congestion Controller: advances the cumulative
// acked sequence, credits one on_ack per newly acknowledged packet,
// and samples RTT from the corresponding slot's send time.
func (t *Transport) ProcessAcks() error {
	now := time.Now()
	for _, pending := range t.pendingAcks {
		ack := pending.body

		if !pending.noCumulative {
			if slot, ok := t.sendWindow.Get(ack.HighestSeq); ok && slot.RetryCount == 0 {
				t.cong.UpdateRTT(now.Sub(slot.SentAt))
			}
			removed := t.sendWindow.AdvanceAcked(ack.HighestSeq)
			for i := 0; i < removed; i++ {
				t.cong.OnAck()
			}
			delete(t.pendingRetx, ack.HighestSeq)
		}

		for bit := 0; bit < 64; bit++ {
			if ack.SelectiveBitmap&(1<<uint(bit)) == 0 {
				continue
			}
			// The receiver anchors bit 0 at its base+1 (see
			// RecvWindow.SelectiveBitmap); base is HighestSeq+1 for a
			// cumulative ACK and 0 otherwise.
			anchor := ack.HighestSeq + 2
			if pending.noCumulative {
				anchor = 1
			}
			seq := anchor + uint64(bit)
			delete(t.pendingRetx, seq)
		}
	}
	t.pendingAcks = nil

	t.metrics.SetCongestion(
		float64(t.cong.Cwnd()),
		float64(t.cong.InFlight()),
		float64(t.cong.SRTT())/float64(time.Millisecond),
		float64(t.cong.RTO())/float64(time.Millisecond),
	)
	return nil
}

// RetransmitPending drains the Retransmit Controller and re-sends
// each ready sequence's still-retained bytes. A seq whose slot is no
// longer in the Send Window is skipped while the rest are re-sent, and
// the call then returns ErrSendFailed.
func (t *Transport) RetransmitPending() error {
	now := time.Now()
	ready := t.retx.DrainReady(now)
	evicted := false
	for _, seq := range ready {
		delete(t.pendingRetx, seq)

		slot, ok := t.sendWindow.Get(seq)
		if !ok {
			evicted = true
			continue
		}
		t.sendWindow.MarkRetransmitted(seq, now)

		hdr := wire.Header{Kind: wire.KindData, Flags: wire.FlagRetransmit, Seq: seq}
		datagram := wire.Encode(hdr, slot.Payload)
		if err := writeDatagram(t.conn, datagram, t.remote, 0); err != nil {
			if err == ErrWouldBlock {
				t.queueRetransmit(seq, now)
				continue
			}
			t.state = StateClosed
			return err
		}
		t.metrics.IncRetransmitted()
	}
	if evicted {
		return ErrSendFailed
	}
	return nil
}

// CheckTimeouts scans the Send Window for slots whose RTO has
// elapsed without an ACK and queues them for retransmission, crediting
// exactly one congestion-loss event for this pass regardless of how
// many slots timed out. It also drops the connection to Closed with
// ErrPeerUnresponsive once KeepaliveTimeout has elapsed since the last
// inbound datagram; before the first inbound datagram it never does.
func (t *Transport) CheckTimeouts(now time.Time) error {
	rto := t.cong.RTO()
	base, next := t.sendWindow.Base(), t.sendWindow.Next()
	queued := false
	for seq := base; seq < next; seq++ {
		slot, ok := t.sendWindow.Get(seq)
		if !ok || t.pendingRetx[seq] {
			continue
		}
		if now.Sub(slot.SentAt) >= rto {
			t.queueRetransmit(seq, now)
			queued = true
		}
	}
	if queued {
		t.cong.OnLoss()
	}

	if !t.lastRecvAt.IsZero() && now.Sub(t.lastRecvAt) > t.cfg.KeepaliveTimeout {
		t.state = StateClosed
		return ErrPeerUnresponsive
	}
	return nil
}

// Flush issues any pending ACK, backlog of due NAKs, and a STATUS
// datagram reflecting current receive-side flow control.
func (t *Transport) Flush() error {
	now := time.Now()
	if err := t.sendAck(now); err != nil && err != ErrWouldBlock {
		return err
	}
	if err := t.emitNaks(now); err != nil && err != ErrWouldBlock {
		return err
	}
	if err := t.sendStatus(now); err != nil && err != ErrWouldBlock {
		return err
	}
	t.reassembler.ExpireBefore(now)
	return nil
}

func (t *Transport) sendAck(now time.Time) error {
	base := t.recvWindow.Base()
	bitmap := t.recvWindow.SelectiveBitmap()
	if base == 0 && bitmap == 0 {
		return nil
	}

	flags := wire.FlagHasSelective
	var highest uint64
	if base > 0 {
		highest = base - 1
	} else {
		// Nothing has been contiguously delivered yet; highest_seq == 0
		// here would otherwise be indistinguishable from "seq 0 acked".
		flags |= wire.FlagNoCumulativeAck
	}
	body := wire.EncodeACKBody(wire.AckBody{HighestSeq: highest, SelectiveBitmap: bitmap})
	hdr := wire.Header{Kind: wire.KindACK, Flags: flags}
	return writeDatagram(t.conn, wire.Encode(hdr, body), t.remote, 0)
}

func (t *Transport) emitNaks(now time.Time) error {
	gaps := t.recvWindow.Gaps(now, t.highestReceived)
	srtt := t.cong.SRTT()
	for _, seq := range gaps {
		if !t.nak.ShouldNak(seq, now, srtt) {
			continue
		}
		body := wire.EncodeNAKBody(wire.NakBody{GapStart: seq, GapEnd: seq})
		hdr := wire.Header{Kind: wire.KindNAK}
		if err := writeDatagram(t.conn, wire.Encode(hdr, body), t.remote, 0); err != nil {
			if err == ErrWouldBlock {
				continue
			}
			return err
		}
		t.metrics.IncNakEmitted()
	}
	return nil
}

func (t *Transport) sendStatus(now time.Time) error {
	body := wire.EncodeStatusBody(wire.StatusBody{
		ReceiverWindowBytes: uint32(t.cfg.RecvWindowSize),
		HighestReceivedSeq:  t.highestReceived,
		LastSendTimeEcho:    uint64(now.UnixNano()),
	})
	hdr := wire.Header{Kind: wire.KindStatus}
	return writeDatagram(t.conn, wire.Encode(hdr, body), t.remote, 0)
}

// Close marks the transport Closed. Idempotent.
func (t *Transport) Close() error {
	t.state = StateClosed
	return nil
}
