// Package server wires one engine process end to end: the client-facing
// command port, the optional replication listener/follower client, AOF
// replay and fsync ticker, the pub/sub bus, the CPU monitor, and the
// metrics/ops-dashboard HTTP endpoints. cmd/server's main is the thin
// flag-and-signal shell around this package, the way the corpus keeps its
// own process entrypoint thin and puts the actual server lifecycle in one
// struct with Start/Shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/config"
	"github.com/adred-codev/kvengine/internal/engine"
	"github.com/adred-codev/kvengine/internal/metrics"
	"github.com/adred-codev/kvengine/internal/opsview"
	"github.com/adred-codev/kvengine/internal/persistence"
	"github.com/adred-codev/kvengine/internal/pubsub"
	"github.com/adred-codev/kvengine/internal/replication"
	"github.com/adred-codev/kvengine/internal/store"
	"github.com/adred-codev/kvengine/internal/stream"
	"github.com/adred-codev/kvengine/internal/sysinfo"
)

// Server owns every process-lifetime collaborator and the two listeners
// (client command port, replication port) a primary-capable node runs.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	Engine *engine.Engine

	clientListener net.Listener
	replListener   net.Listener
	metricsHTTP    *http.Server
	opsHTTP        *http.Server
	opsDash        *opsview.Dashboard

	aof     *persistence.Log
	backlog *replication.Backlog
	feeder  *replication.Feeder
	bus     *pubsub.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server and every optional collaborator cfg enables, but
// does not start accepting connections yet -- that's Start's job, mirroring
// the corpus's NewServer/Start split.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}

	s.Engine = engine.New(engine.Config{
		NumShards:      cfg.NumShards,
		MaxMemoryBytes: cfg.MaxMemoryBytes,
		EvictionPolicy: evictionPolicyFor(cfg.EvictionPolicy),
	}, logger)

	s.Engine.AttachCPUMonitor(sysinfo.NewMonitor(logger))

	if cfg.AOFEnabled {
		aof, err := persistence.Open(cfg.AOFPath, fsyncPolicyFor(cfg.AOFFsync), logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open aof log: %w", err)
		}
		if err := s.replayAOF(); err != nil {
			cancel()
			return nil, fmt.Errorf("replay aof log: %w", err)
		}
		s.aof = aof
		s.Engine.AttachAOF(aof)
	}

	if cfg.PubSubEnabled {
		bus, err := pubsub.NewBus(pubsub.Config{URL: cfg.NATSURL}, logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("pub/sub bus unavailable, continuing without it")
		} else {
			s.bus = bus
			s.Engine.AttachPubSub(bus)
		}
	}

	if cfg.ReplicationEnabled {
		if err := s.setupReplication(); err != nil {
			cancel()
			return nil, fmt.Errorf("setup replication: %w", err)
		}
	}

	if cfg.OpsViewAddr != "" {
		s.opsDash = opsview.New(time.Second, s.opsSnapshot, logger)
	}

	return s, nil
}

// replayAOF replays every logged command against a fresh session on
// startup, before the server accepts any client connection.
func (s *Server) replayAOF() error {
	sess := s.Engine.NewSession()
	n, err := persistence.Replay(s.cfg.AOFPath, s.Engine.LoadSnapshot, func(args [][]byte) error {
		cmd, err := command.Parse(s.Engine.Registry, args)
		if err != nil {
			return err
		}
		return s.Engine.ReplayOne(sess, cmd)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int("commands", n).Msg("replayed persistence log")
	return nil
}

// runAOFRewriteTicker periodically compacts the persistence log to a
// snapshot of current state, the same policy-driven background ticker
// shape as the fsync ticker. A zero interval disables periodic rewrite;
// callers can still be wired to trigger one on demand later.
func (s *Server) runAOFRewriteTicker() {
	if s.cfg.AOFRewriteInterval <= 0 {
		<-s.ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.AOFRewriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.rewriteAOF(); err != nil {
				s.logger.Error().Err(err).Msg("aof rewrite failed")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// rewriteAOF builds a fresh snapshot of current state and hands it to the
// log to install in place of the accumulated command history.
func (s *Server) rewriteAOF() error {
	blob, err := s.Engine.Snapshot()
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}
	if err := s.aof.Rewrite(blob); err != nil {
		return fmt.Errorf("install rewritten log: %w", err)
	}
	s.logger.Info().Int("snapshot_bytes", len(blob)).Msg("compacted persistence log")
	return nil
}

func (s *Server) setupReplication() error {
	s.backlog = replication.NewBacklog(s.cfg.BacklogBytes)

	var relay replication.Relay
	if s.cfg.KafkaRelayEnabled {
		kr, err := replication.NewKafkaRelay(splitCSV(s.cfg.KafkaBrokers), s.cfg.KafkaTopic, s.logger)
		if err != nil {
			return fmt.Errorf("kafka relay: %w", err)
		}
		relay = kr
	}

	s.feeder = replication.NewFeeder(s.backlog, replication.FeederConfig{
		MinReplicas:     s.cfg.MinReplicas,
		MaxLag:          s.cfg.MaxReplicaLag,
		MaxFramesPerSec: s.cfg.MaxPropagationRate,
	}, relay, s.logger)
	s.Engine.AttachFeeder(s.feeder)

	switch s.cfg.ReplicationRole {
	case "follower":
		s.Engine.Role = "slave"
		s.Engine.MasterAddr = s.cfg.ReplicaOfAddr
	default:
		s.Engine.Role = "master"
	}
	return nil
}

// Start opens every listener and HTTP endpoint and returns once they are
// accepting; all serving loops run in background goroutines tracked by s.wg.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.clientListener = listener
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("client command port listening")

	s.wg.Add(1)
	go s.acceptClients()

	if s.cfg.ReplicationEnabled && s.cfg.ReplicationRole != "follower" {
		replListener, err := net.Listen("tcp", s.cfg.ReplListenAddr)
		if err != nil {
			return fmt.Errorf("listen on replication port %s: %w", s.cfg.ReplListenAddr, err)
		}
		s.replListener = replListener
		s.logger.Info().Str("addr", s.cfg.ReplListenAddr).Msg("replication port listening")
		s.wg.Add(1)
		go s.acceptFollowers()
	}

	if s.cfg.ReplicationEnabled && s.cfg.ReplicationRole == "follower" {
		s.wg.Add(1)
		go s.runFollowerClient()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	s.metricsHTTP = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	if s.opsDash != nil {
		opsMux := http.NewServeMux()
		opsMux.HandleFunc("/ops", s.opsDash.ServeHTTP)
		s.opsHTTP = &http.Server{Addr: s.cfg.OpsViewAddr, Handler: opsMux}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.opsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("ops dashboard server error")
			}
		}()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.opsDash.Run(s.ctx.Done())
		}()
	}

	s.wg.Add(1)
	go s.runExpiryWorkers()

	if s.aof != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.aof.RunFsyncTicker(s.ctx.Done())
		}()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runAOFRewriteTicker()
		}()
	}

	s.wg.Add(1)
	go s.sampleMetrics()

	return nil
}

// Shutdown stops every listener and background goroutine and waits for
// them to exit, closing the AOF log and pub/sub bus last.
func (s *Server) Shutdown() error {
	s.cancel()
	if s.clientListener != nil {
		s.clientListener.Close()
	}
	if s.replListener != nil {
		s.replListener.Close()
	}
	if s.metricsHTTP != nil {
		s.metricsHTTP.Close()
	}
	if s.opsHTTP != nil {
		s.opsHTTP.Close()
	}
	s.wg.Wait()

	var err error
	if s.aof != nil {
		if cerr := s.aof.Close(); cerr != nil {
			err = cerr
		}
	}
	if s.bus != nil {
		if cerr := s.bus.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func evictionPolicyFor(name string) store.EvictionPolicy {
	switch name {
	case "ttl-first":
		return store.TTLFirst{}
	case "random":
		return store.Random{}
	case "lfu-approx":
		return store.LFUApprox{}
	default:
		return store.ApproximateLRU{}
	}
}

func fsyncPolicyFor(name string) persistence.FsyncPolicy {
	switch name {
	case "always":
		return persistence.FsyncAlways
	case "never":
		return persistence.FsyncNever
	default:
		return persistence.FsyncEverySecond
	}
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

// runExpiryWorkers runs one ExpiryWorker per database, incrementing the
// expired-keys counter as its onExpired callback.
func (s *Server) runExpiryWorkers() {
	defer s.wg.Done()
	var workerWG sync.WaitGroup
	for _, db := range s.Engine.DBs {
		w := store.NewExpiryWorker(db.KS, s.cfg.ExpirySamplesPerCycle, s.cfg.ExpiryCycleInterval, func(int, string) {
			metrics.ExpiredKeysTotal.Inc()
		})
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			w.Run(s.ctx.Done())
		}()
	}
	workerWG.Wait()
}

// sampleMetrics periodically refreshes the gauges that reflect point-in-time
// state rather than counted events: memory usage, replication health, and
// consumer-group backlog depth.
func (s *Server) sampleMetrics() {
	defer s.wg.Done()
	interval := s.cfg.MetricsInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Server) sampleOnce() {
	var total int64
	for _, db := range s.Engine.DBs {
		for i := 0; i < db.KS.NumShards(); i++ {
			shard := db.KS.GetShard(i)
			mem := shard.MemBytes()
			total += mem
			metrics.ShardMemoryBytes.WithLabelValues(strconv.Itoa(i)).Set(float64(mem))

			shard.Mu.Lock()
			for _, key := range shard.Keys() {
				entry, ok := shard.Peek(key)
				if !ok {
					continue
				}
				strm, ok := entry.Value.(*stream.Stream)
				if !ok {
					continue
				}
				for name, g := range strm.Groups {
					metrics.ConsumerGroupPending.WithLabelValues(key, name).Set(float64(g.PendingCount()))
				}
			}
			shard.Mu.Unlock()
		}
	}
	metrics.MemoryUsedBytes.Set(float64(total))

	if s.feeder != nil {
		metrics.ReplicationFollowers.Set(float64(s.feeder.FollowerCount()))
		metrics.ReplicationLagBytes.Set(float64(s.feeder.MaxLagBytes()))
	}
}

func (s *Server) opsSnapshot() opsview.Snapshot {
	role := s.Engine.Role
	followers := 0
	var offset uint64
	if s.feeder != nil {
		followers = s.feeder.FollowerCount()
		offset = s.feeder.NextOffset()
	}
	return opsview.Snapshot{
		Role:                 role,
		RunID:                s.Engine.RunID,
		ReplicationOffset:    offset,
		ReplicationFollowers: followers,
	}
}

// acceptClients runs the client command port's accept loop, spawning one
// connection goroutine per accepted socket.
func (s *Server) acceptClients() {
	defer s.wg.Done()
	for {
		conn, err := s.clientListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn().Err(err).Msg("accept error on client port")
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveClient(conn)
		}()
	}
}

// acceptFollowers runs the replication port's accept loop: every connected
// follower gets its own PrimarySession handshake plus a streaming loop.
func (s *Server) acceptFollowers() {
	defer s.wg.Done()
	for {
		conn, err := s.replListener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warn().Err(err).Msg("accept error on replication port")
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveFollower(conn)
		}()
	}
}

// runFollowerClient dials the configured primary and keeps applying its
// frame stream, reconnecting with backoff on failure until shutdown.
func (s *Server) runFollowerClient() {
	defer s.wg.Done()
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		conn, err := net.Dial("tcp", s.cfg.ReplicaOfAddr)
		if err != nil {
			s.logger.Warn().Err(err).Str("primary", s.cfg.ReplicaOfAddr).Msg("dial primary failed, retrying")
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		client := replication.NewClient(conn, s.Engine, s.logger)
		if err := client.Connect(0, s.ctx.Done()); err != nil {
			s.logger.Warn().Err(err).Msg("replication link dropped, reconnecting")
		}
		conn.Close()
	}
}
