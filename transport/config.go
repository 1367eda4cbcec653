package transport

import (
	"time"

	"github.com/bugthesystem/kaos/reliability"
)

// Config is the exhaustive set of tunables a Transport is constructed
// with; every field maps directly to a row of spec.md §6's
// configuration table.
type Config struct {
	// MaxInFlight bounds the Send Window's capacity in packets.
	MaxInFlight int
	// RecvWindowSize is the Receive Window's bitmap width; must be a
	// power of two.
	RecvWindowSize int

	Congestion reliability.CongestionConfig
	Nak        reliability.NakConfig

	RetransmitMaxPending int
	RetransmitJitter     time.Duration

	// KeepaliveTimeout drops the connection to Closed with
	// ErrPeerUnresponsive after this long without an inbound datagram.
	KeepaliveTimeout time.Duration
}

// DefaultConfig returns the spec's described initial values.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:          32,
		RecvWindowSize:       64,
		Congestion:           reliability.DefaultCongestionConfig(),
		Nak:                  reliability.DefaultNakConfig(),
		RetransmitMaxPending: 256,
		RetransmitJitter:     time.Millisecond,
		KeepaliveTimeout:     30 * time.Second,
	}
}
