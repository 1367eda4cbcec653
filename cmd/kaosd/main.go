// Command kaosd runs a single Kaos reliable-transport endpoint backed
// by an mmap archive, polling both on a fixed tick.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bugthesystem/kaos/config"
	"github.com/bugthesystem/kaos/metrics"
	"github.com/bugthesystem/kaos/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a kaos.yml config file (optional)")
		listen     = flag.String("listen", "", "override config's listen address, host:port")
		peer       = flag.String("peer", "", "peer address to send to, host:port")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logrus.WithError(err).Fatal("kaosd: load config")
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	log := newLogger(cfg.Logging)

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(cfg.Metrics.ListenAddr, log)
	}

	arc, err := cfg.OpenArchive(reg)
	if err != nil {
		log.WithError(err).Fatal("kaosd: open archive")
	}
	defer arc.Close()

	_, portStr, err := net.SplitHostPort(cfg.Listen)
	if err != nil {
		log.WithError(err).Fatal("kaosd: parse listen address")
	}
	port, err := parsePort(portStr)
	if err != nil {
		log.WithError(err).Fatal("kaosd: parse listen port")
	}

	conn, err := transport.Bind(port)
	if err != nil {
		log.WithError(err).Fatal("kaosd: bind")
	}
	defer conn.Close()

	var remote *net.UDPAddr
	if *peer != "" {
		remote, err = net.ResolveUDPAddr("udp", *peer)
		if err != nil {
			log.WithError(err).Fatal("kaosd: resolve peer")
		}
	}

	tr := transport.NewTransport(conn, remote, cfg.TransportConfig(), arc, reg)
	tr.Open()
	defer tr.Close()

	log.WithFields(logrus.Fields{"listen": cfg.Listen, "peer": *peer}).Info("kaosd: transport open")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			log.Info("kaosd: shutting down")
			tr.BeginDraining()
			if err := arc.Flush(); err != nil {
				log.WithError(err).Warn("kaosd: flush on shutdown")
			}
			return

		case now := <-ticker.C:
			if _, err := tr.ReceiveBatch(64, func(seq uint64, payload []byte) error {
				log.WithFields(logrus.Fields{"seq": seq, "len": len(payload)}).Debug("kaosd: delivered")
				return nil
			}); err != nil {
				log.WithError(err).Warn("kaosd: receive")
			}
			if err := tr.ProcessAcks(); err != nil {
				log.WithError(err).Warn("kaosd: process acks")
			}
			if err := tr.RetransmitPending(); err != nil {
				log.WithError(err).Warn("kaosd: retransmit")
			}
			if err := tr.CheckTimeouts(now); err != nil {
				log.WithError(err).Warn("kaosd: peer unresponsive")
				return
			}
		}
	}
}

func newLogger(lc config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(lc.Level); err == nil {
		log.SetLevel(level)
	}
	if lc.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func serveMetrics(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", addr).Info("kaosd: serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("kaosd: metrics server exited")
	}
}

func parsePort(s string) (uint16, error) {
	var port uint16
	_, err := fmt.Sscan(s, &port)
	return port, err
}
