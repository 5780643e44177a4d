// Command sentinel runs a standalone failover monitor process: it watches
// one configured primary and its replicas, gossips with peer monitors over
// NATS, and drives quorum-based election and promotion when the primary is
// objectively down. It carries no keyspace of its own -- kvengine's data
// plane lives entirely in cmd/server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/kvengine/internal/config"
	"github.com/adred-codev/kvengine/internal/failover"
	"github.com/adred-codev/kvengine/internal/logging"
	"github.com/adred-codev/kvengine/internal/pubsub"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides KV_LOG_LEVEL)")
	flag.Parse()

	bootLogger := log.New(os.Stdout, "[sentinel] ", log.LstdFlags)

	cfg, err := config.Load(nil)
	if err != nil {
		bootLogger.Fatalf("failed to load configuration: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if !cfg.FailoverEnabled {
		bootLogger.Fatalf("KV_FAILOVER_ENABLED must be true to run the sentinel process")
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	bus, err := pubsub.NewBus(pubsub.Config{URL: cfg.NATSURL}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect gossip transport")
	}
	defer bus.Close()

	state := failover.NewPrimaryState(cfg.FailoverPrimaryName, cfg.FailoverPrimaryAddr)
	for _, addr := range splitCSV(cfg.FailoverReplicaAddrs) {
		state.Replicas[addr] = &failover.ReplicaState{Addr: addr}
	}

	selfRunID := newRunID()
	dial := failover.NewWireDialer(cfg.FailoverDialTimeout)
	monitor := failover.NewMonitor(state, bus, dial, failover.Config{
		SelfRunID:       selfRunID,
		DownAfter:       cfg.FailoverDownAfter,
		HelloInterval:   cfg.HeartbeatPeriod,
		Quorum:          cfg.FailoverQuorum,
		FailoverTimeout: cfg.FailoverTimeout,
	}, logger)

	logger.Info().
		Str("primary", cfg.FailoverPrimaryName).
		Str("addr", cfg.FailoverPrimaryAddr).
		Str("self_run_id", selfRunID).
		Msg("starting failover monitor")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	reconcile := time.NewTicker(cfg.HeartbeatPeriod * 5)
	defer reconcile.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reconcile.C:
				monitor.ReconcileStaleReplicas(ctx)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down failover monitor")
	cancel()
	<-done
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func newRunID() string {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
