package reliability

import "time"

// CongestionConfig bounds the controller's AIMD window and RTO clamp.
type CongestionConfig struct {
	CwndInit     uint32
	CwndMax      uint32
	SsthreshInit uint32
	RTOMin       time.Duration
	RTOMax       time.Duration
	InitialRTT   time.Duration
}

// DefaultCongestionConfig matches the teacher's observed defaults:
// cwnd starts small and grows in slow start toward a generous ceiling.
func DefaultCongestionConfig() CongestionConfig {
	return CongestionConfig{
		CwndInit:     4,
		CwndMax:      256,
		SsthreshInit: 32,
		RTOMin:       50 * time.Millisecond,
		RTOMax:       10 * time.Second,
		InitialRTT:   100 * time.Millisecond,
	}
}

// Congestion maintains cwnd, ssthresh, and the smoothed RTT/RTO used
// to pace retransmission.
type Congestion struct {
	cfg CongestionConfig

	cwnd     float64
	ssthresh float64
	inFlight uint32

	srtt   time.Duration
	rttvar time.Duration
	rto    time.Duration

	gotSample bool
}

// NewCongestion constructs a Congestion controller from cfg.
func NewCongestion(cfg CongestionConfig) *Congestion {
	c := &Congestion{
		cfg:      cfg,
		cwnd:     float64(cfg.CwndInit),
		ssthresh: float64(cfg.SsthreshInit),
		srtt:     cfg.InitialRTT,
		rttvar:   cfg.InitialRTT / 2,
	}
	c.rto = clampDuration(c.srtt+4*c.rttvar, cfg.RTOMin, cfg.RTOMax)
	return c
}

// Cwnd returns the current congestion window, in packet units.
func (c *Congestion) Cwnd() uint32 { return uint32(c.cwnd) }

// InFlight returns the number of packets currently unacknowledged.
func (c *Congestion) InFlight() uint32 { return c.inFlight }

// RTO returns the current retransmission timeout.
func (c *Congestion) RTO() time.Duration { return c.rto }

// SRTT returns the current smoothed round-trip time.
func (c *Congestion) SRTT() time.Duration { return c.srtt }

// CanSend reports whether another packet may be sent without
// exceeding cwnd.
func (c *Congestion) CanSend() bool {
	return uint64(c.inFlight) < uint64(c.cwnd)
}

// OnSend records that one more packet is now in flight.
func (c *Congestion) OnSend() {
	c.inFlight++
}

// OnAck is called once per newly acknowledged packet. In slow start
// (cwnd below ssthresh) cwnd grows by one packet per ACK; in
// congestion avoidance it grows by 1/cwnd, clamped to CwndMax.
func (c *Congestion) OnAck() {
	if c.inFlight > 0 {
		c.inFlight--
	}
	if c.cwnd < c.ssthresh {
		c.cwnd++
	} else {
		c.cwnd += 1 / c.cwnd
	}
	if max := float64(c.cfg.CwndMax); c.cwnd > max {
		c.cwnd = max
	}
}

// OnLoss halves cwnd (floor 2) and sets ssthresh to the new cwnd, per
// standard AIMD multiplicative decrease.
func (c *Congestion) OnLoss() {
	c.cwnd /= 2
	if c.cwnd < 2 {
		c.cwnd = 2
	}
	c.ssthresh = c.cwnd
}

// UpdateRTT folds a new RTT sample into the smoothed estimate using
// the standard EWMA (RFC 6298-style) formulas.
func (c *Congestion) UpdateRTT(sample time.Duration) {
	if !c.gotSample {
		c.srtt = sample
		c.rttvar = sample / 2
		c.gotSample = true
	} else {
		delta := sample - c.srtt
		if delta < 0 {
			delta = -delta
		}
		c.rttvar = c.rttvar*3/4 + delta/4
		c.srtt = c.srtt*7/8 + sample/8
	}
	c.rto = clampDuration(c.srtt+4*c.rttvar, c.cfg.RTOMin, c.cfg.RTOMax)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
