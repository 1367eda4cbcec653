// Package metrics exposes the Prometheus collectors shared by every
// Reliable Transport and Archive in the process: counters for the
// per-datagram and per-frame outcomes spec.md calls out as
// "exposed for observability" or "accounted in metrics", plus gauges
// for the live congestion and archive state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every kaos_* collector behind one struct so a
// transport or archive can be constructed with a single optional
// dependency. A nil *Registry is valid everywhere it's accepted: every
// method degrades to a no-op so metrics remain entirely optional.
type Registry struct {
	PacketsSent         prometheus.Counter
	PacketsReceived     prometheus.Counter
	PacketsRetransmitted prometheus.Counter
	DroppedFarFuture    prometheus.Counter
	DroppedDuplicate    prometheus.Counter
	NakEmitted          prometheus.Counter
	RetransmitOverflow  prometheus.Counter

	Cwnd     prometheus.Gauge
	InFlight prometheus.Gauge
	SRTTMs   prometheus.Gauge
	RTOMs    prometheus.Gauge

	ArchiveFramesAppended   prometheus.Counter
	ArchiveFlushTotal       prometheus.Counter
	ArchiveChecksumMismatch prometheus.Counter

	ArchiveWritePosBytes prometheus.Gauge
	ArchiveMsgCount      prometheus.Gauge
}

// NewRegistry builds a Registry and registers every collector with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_packets_sent_total",
			Help: "Datagrams written to the socket.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_packets_received_total",
			Help: "Datagrams read from the socket.",
		}),
		PacketsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_retransmitted_total",
			Help: "Datagrams re-sent by the retransmit controller.",
		}),
		DroppedFarFuture: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_dropped_far_future_total",
			Help: "Inbound sequences at or beyond base_seq+window, dropped.",
		}),
		DroppedDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_dropped_duplicate_total",
			Help: "Inbound sequences already recorded, dropped.",
		}),
		NakEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_nak_emitted_total",
			Help: "NAK datagrams sent for a detected gap.",
		}),
		RetransmitOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_transport_retransmit_overflow_total",
			Help: "Retransmit requests dropped because the pending queue was full.",
		}),
		Cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_transport_cwnd",
			Help: "Current congestion window, in packets.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_transport_in_flight",
			Help: "Packets sent but not yet acknowledged.",
		}),
		SRTTMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_transport_srtt_ms",
			Help: "Smoothed round-trip time, in milliseconds.",
		}),
		RTOMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_transport_rto_ms",
			Help: "Current retransmission timeout, in milliseconds.",
		}),
		ArchiveFramesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_archive_frames_appended_total",
			Help: "Frames written to the archive log.",
		}),
		ArchiveFlushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_archive_flush_total",
			Help: "Completed archive Flush calls.",
		}),
		ArchiveChecksumMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kaos_archive_checksum_mismatch_total",
			Help: "ReadChecked calls that found a CRC32 mismatch.",
		}),
		ArchiveWritePosBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_archive_write_pos_bytes",
			Help: "Current archive write offset, in bytes.",
		}),
		ArchiveMsgCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kaos_archive_msg_count",
			Help: "Current archive durable message count.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.PacketsSent, r.PacketsReceived, r.PacketsRetransmitted,
			r.DroppedFarFuture, r.DroppedDuplicate,
			r.NakEmitted, r.RetransmitOverflow,
			r.Cwnd, r.InFlight, r.SRTTMs, r.RTOMs,
			r.ArchiveFramesAppended, r.ArchiveFlushTotal, r.ArchiveChecksumMismatch,
			r.ArchiveWritePosBytes, r.ArchiveMsgCount,
		)
	}
	return r
}

// Every method below is nil-receiver safe, so a *Registry is an
// entirely optional dependency for transport.Transport and archive.Archive.

func (r *Registry) IncPacketsSent() {
	if r != nil {
		r.PacketsSent.Inc()
	}
}

func (r *Registry) IncPacketsReceived() {
	if r != nil {
		r.PacketsReceived.Inc()
	}
}

func (r *Registry) IncRetransmitted() {
	if r != nil {
		r.PacketsRetransmitted.Inc()
	}
}

func (r *Registry) IncDroppedFarFuture() {
	if r != nil {
		r.DroppedFarFuture.Inc()
	}
}

func (r *Registry) IncDroppedDuplicate() {
	if r != nil {
		r.DroppedDuplicate.Inc()
	}
}

func (r *Registry) IncNakEmitted() {
	if r != nil {
		r.NakEmitted.Inc()
	}
}

func (r *Registry) IncRetransmitOverflow() {
	if r != nil {
		r.RetransmitOverflow.Inc()
	}
}

func (r *Registry) SetCongestion(cwnd, inFlight, srttMs, rtoMs float64) {
	if r == nil {
		return
	}
	r.Cwnd.Set(cwnd)
	r.InFlight.Set(inFlight)
	r.SRTTMs.Set(srttMs)
	r.RTOMs.Set(rtoMs)
}

func (r *Registry) IncArchiveFramesAppended() {
	if r != nil {
		r.ArchiveFramesAppended.Inc()
	}
}

func (r *Registry) IncArchiveFlush() {
	if r != nil {
		r.ArchiveFlushTotal.Inc()
	}
}

func (r *Registry) IncArchiveChecksumMismatch() {
	if r != nil {
		r.ArchiveChecksumMismatch.Inc()
	}
}

func (r *Registry) SetArchiveState(writePos, msgCount float64) {
	if r == nil {
		return
	}
	r.ArchiveWritePosBytes.Set(writePos)
	r.ArchiveMsgCount.Set(msgCount)
}
