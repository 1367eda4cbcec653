package reliability

import (
	"math/rand"
	"time"
)

// NakConfig controls how aggressively gaps are re-NAKed.
type NakConfig struct {
	BaseDelay  time.Duration
	MaxBackoff time.Duration
	Jitter     time.Duration
}

// DefaultNakConfig seeds the base delay from a typical RTT; callers
// should override BaseDelay once a real SRTT sample is available.
func DefaultNakConfig() NakConfig {
	return NakConfig{
		BaseDelay:  100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
		Jitter:     20 * time.Millisecond,
	}
}

type nakEntry struct {
	firstSeenAt time.Time
	lastNakedAt time.Time
	nakCount    int
}

// NakController throttles NAK emission per gap so a long-missing
// sequence number does not trigger a NAK storm: each gap gets at most
// one NAK per exponentially-backed-off interval, jittered to avoid
// synchronized retransmit requests from multiple receivers.
type NakController struct {
	cfg     NakConfig
	entries map[uint64]*nakEntry
	rand    *rand.Rand
}

// NewNakController constructs a NakController from cfg.
func NewNakController(cfg NakConfig) *NakController {
	return &NakController{
		cfg:     cfg,
		entries: make(map[uint64]*nakEntry),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShouldNak reports whether a NAK should be emitted now for seq,
// given a gap first observed at now (if new). It registers the gap on
// first call and records the NAK time when it returns true.
func (n *NakController) ShouldNak(seq uint64, now time.Time, srtt time.Duration) bool {
	e, ok := n.entries[seq]
	if !ok {
		e = &nakEntry{firstSeenAt: now}
		n.entries[seq] = e
	}

	baseDelay := n.cfg.BaseDelay
	if srtt > 0 {
		baseDelay = srtt
	}
	for i := 0; i < e.nakCount; i++ {
		baseDelay *= 2
		if baseDelay > n.cfg.MaxBackoff {
			baseDelay = n.cfg.MaxBackoff
			break
		}
	}

	jitter := time.Duration(0)
	if n.cfg.Jitter > 0 {
		jitter = time.Duration(n.rand.Int63n(int64(n.cfg.Jitter)))
	}

	if e.nakCount > 0 && now.Sub(e.lastNakedAt) < baseDelay+jitter {
		return false
	}

	e.lastNakedAt = now
	e.nakCount++
	return true
}

// Resolve discards the tracked state for seq once it has been
// received, so a later gap reusing the same sequence starts fresh.
func (n *NakController) Resolve(seq uint64) {
	delete(n.entries, seq)
}

// NakCount reports how many times a NAK has been emitted for seq (0 if untracked).
func (n *NakController) NakCount(seq uint64) int {
	if e, ok := n.entries[seq]; ok {
		return e.nakCount
	}
	return 0
}
