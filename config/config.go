// Package config loads the exhaustive tunable surface for a Kaos
// deployment from YAML, matching spec.md §6's configuration table
// plus the ambient logging and metrics settings SPEC_FULL.md adds.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/bugthesystem/kaos/archive"
	"github.com/bugthesystem/kaos/metrics"
	"github.com/bugthesystem/kaos/reliability"
	"github.com/bugthesystem/kaos/transport"
	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-loadable configuration for a kaosd
// process: one Transport, one Archive, and the ambient Logging/Metrics
// settings that surround them.
type Config struct {
	Listen string `yaml:"listen"`

	MaxInFlight    int `yaml:"max_in_flight"`
	RecvWindowSize int `yaml:"recv_window_size"`

	CwndInit     uint32        `yaml:"cwnd_init"`
	CwndMax      uint32        `yaml:"cwnd_max"`
	SsthreshInit uint32        `yaml:"ssthresh_init"`
	RTOMin       time.Duration `yaml:"rto_min"`
	RTOMax       time.Duration `yaml:"rto_max"`
	InitialRTT   time.Duration `yaml:"initial_rtt"`

	NakBaseDelay  time.Duration `yaml:"nak_base_delay"`
	NakMaxBackoff time.Duration `yaml:"nak_max_backoff"`
	NakJitter     time.Duration `yaml:"nak_jitter"`

	RetransmitMaxPending int           `yaml:"retransmit_max_pending"`
	RetransmitJitter     time.Duration `yaml:"retransmit_jitter"`

	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`

	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ArchiveConfig is the YAML form of spec.md §6's `archive.*` options.
type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	Name     string `yaml:"name"`
	Capacity uint64 `yaml:"capacity"`
	// Sync is "buffered" or "synchronous"; see archive.Sync.
	Sync string `yaml:"sync"`
}

// LoggingConfig controls the logrus root logger. Ambient per
// SPEC_FULL.md §9 — carried regardless of any spec Non-goal.
type LoggingConfig struct {
	// Level is one of logrus's level names (panic, fatal, error, warn,
	// info, debug, trace). Defaults to "info".
	Level string `yaml:"level"`
	// Format is "text" or "json". Defaults to "text".
	Format string `yaml:"format"`
}

// MetricsConfig controls the optional Prometheus HTTP exporter.
type MetricsConfig struct {
	// ListenAddr, if non-empty, serves /metrics on this address.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the spec's documented initial values.
func Default() Config {
	cc := reliability.DefaultCongestionConfig()
	nc := reliability.DefaultNakConfig()
	return Config{
		Listen:               ":9710",
		MaxInFlight:          32,
		RecvWindowSize:       64,
		CwndInit:             cc.CwndInit,
		CwndMax:              cc.CwndMax,
		SsthreshInit:         cc.SsthreshInit,
		RTOMin:               cc.RTOMin,
		RTOMax:               cc.RTOMax,
		InitialRTT:           cc.InitialRTT,
		NakBaseDelay:         nc.BaseDelay,
		NakMaxBackoff:        nc.MaxBackoff,
		NakJitter:            nc.Jitter,
		RetransmitMaxPending: 256,
		RetransmitJitter:     time.Millisecond,
		KeepaliveTimeout:     30 * time.Second,
		Archive: ArchiveConfig{
			Dir:      "./data",
			Name:     "kaos",
			Capacity: 256 << 20,
			Sync:     "buffered",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{ListenAddr: ":9711"},
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so any field the file omits keeps its documented default.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := LoadInto(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadInto reads path and unmarshals onto cfg, leaving fields the file
// doesn't mention at whatever value cfg already held.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// TransportConfig projects the relevant fields into a
// transport.Config for Transport construction.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		MaxInFlight:    c.MaxInFlight,
		RecvWindowSize: c.RecvWindowSize,
		Congestion: reliability.CongestionConfig{
			CwndInit:     c.CwndInit,
			CwndMax:      c.CwndMax,
			SsthreshInit: c.SsthreshInit,
			RTOMin:       c.RTOMin,
			RTOMax:       c.RTOMax,
			InitialRTT:   c.InitialRTT,
		},
		Nak: reliability.NakConfig{
			BaseDelay:  c.NakBaseDelay,
			MaxBackoff: c.NakMaxBackoff,
			Jitter:     c.NakJitter,
		},
		RetransmitMaxPending: c.RetransmitMaxPending,
		RetransmitJitter:     c.RetransmitJitter,
		KeepaliveTimeout:     c.KeepaliveTimeout,
	}
}

// OpenArchive opens the configured archive, wiring in reg (which may
// be nil) so appended/flushed frames are reflected in its gauges.
func (c Config) OpenArchive(reg *metrics.Registry) (*archive.Archive, error) {
	sync := archive.Buffered
	if c.Archive.Sync == "synchronous" {
		sync = archive.Synchronous
	}
	return archive.Open(c.Archive.Dir, c.Archive.Name, archive.Config{
		Capacity: c.Archive.Capacity,
		Sync:     sync,
		Metrics:  reg,
	})
}
