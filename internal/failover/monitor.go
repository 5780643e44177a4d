package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes one Monitor's timing and quorum requirements.
type Config struct {
	SelfRunID string

	TickInterval       time.Duration
	DownAfter          time.Duration
	HelloInterval      time.Duration
	Quorum             int
	FailoverTimeout    time.Duration
	PromotionTimeout   time.Duration
	PromotionPollEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DownAfter <= 0 {
		c.DownAfter = 5 * time.Second
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = 2 * time.Second
	}
	if c.Quorum <= 0 {
		c.Quorum = 2
	}
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = 3 * time.Minute
	}
	if c.PromotionTimeout <= 0 {
		c.PromotionTimeout = 15 * time.Second
	}
	if c.PromotionPollEvery <= 0 {
		c.PromotionPollEvery = time.Second
	}
	return c
}

// Monitor runs one monitored primary's health probe, peer gossip, and
// failover orchestration loop. One Monitor per watched primary; a single
// process can run several.
type Monitor struct {
	state  *PrimaryState
	gossip Gossip
	dial   Dialer
	cfg    Config
	logger zerolog.Logger

	reconfigMu       sync.Mutex
	reconfigInFlight map[string]bool
}

func NewMonitor(state *PrimaryState, gossip Gossip, dial Dialer, cfg Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		state:            state,
		gossip:           gossip,
		dial:             dial,
		cfg:              cfg.withDefaults(),
		logger:           logger.With().Str("component", "failover_monitor").Str("master", state.Name).Logger(),
		reconfigInFlight: make(map[string]bool),
	}
}

// Run subscribes to gossip channels and ticks the monitor loop until ctx
// is canceled. A failed tick is logged and the loop continues; only the
// loop's own exit (ctx cancellation) ends the monitor's role.
func (m *Monitor) Run(ctx context.Context) {
	m.gossip.Subscribe("monitor:"+m.cfg.SelfRunID, helloChannel(m.state.Name), func(payload []byte) {
		hello, ok := unmarshalHello(payload)
		if !ok || hello.RunID == m.cfg.SelfRunID {
			return
		}
		m.state.UpsertPeer(hello.RunID, hello.Addr, hello.Epoch, time.Now())
	})

	m.gossip.Subscribe("monitor:"+m.cfg.SelfRunID, voteReqChannel(m.state.Name), func(payload []byte) {
		req, ok := unmarshalVoteRequest(payload)
		if !ok {
			return
		}
		m.handleVoteRequest(req)
	})

	m.gossip.Subscribe("monitor:"+m.cfg.SelfRunID, voteAckChannel(m.state.Name), func(payload []byte) {
		ack, ok := unmarshalVoteAck(payload)
		if !ok {
			return
		}
		m.state.RecordVote(ack.VoterRunID, ack.Epoch, time.Now())
	})

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	helloTicker := time.NewTicker(m.cfg.HelloInterval)
	defer helloTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor loop exiting")
			return
		case <-helloTicker.C:
			m.announceHello()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error().Err(err).Msg("monitor tick failed")
			}
		}
	}
}

func (m *Monitor) announceHello() {
	msg := helloMsg{RunID: m.cfg.SelfRunID, Epoch: m.state.ConfigEpoch, SentAt: unixMillis(time.Now())}
	_, _ = m.gossip.Publish(helloChannel(m.state.Name), marshal(msg))
}

// handleVoteRequest is step 4's peer side: vote at most once per epoch.
func (m *Monitor) handleVoteRequest(req voteRequestMsg) {
	if req.CandidateRunID == m.cfg.SelfRunID {
		return
	}
	if !m.state.TryCastVote(req.Epoch) {
		return
	}
	ack := voteAckMsg{VoterRunID: m.cfg.SelfRunID, Epoch: req.Epoch}
	_, _ = m.gossip.Publish(voteAckChannel(m.state.Name), marshal(ack))
}

// Tick runs one health-probe/quorum/election/promotion cycle, per §4.L.
func (m *Monitor) Tick(ctx context.Context) error {
	m.probePrimary(ctx)

	m.state.ExpirePeers(time.Now(), m.cfg.HelloInterval)

	if m.state.Status != StatusSubjectiveDown {
		return nil
	}
	if !m.state.HasQuorum(m.cfg.Quorum) {
		return nil
	}

	m.state.mu.Lock()
	m.state.Status = StatusObjectiveDown
	m.state.mu.Unlock()

	epoch, ok := m.state.BeginElection(m.cfg.SelfRunID, time.Now(), m.cfg.FailoverTimeout)
	if !ok {
		return nil
	}

	req := voteRequestMsg{CandidateRunID: m.cfg.SelfRunID, MasterName: m.state.Name, Epoch: epoch}
	if _, err := m.gossip.Publish(voteReqChannel(m.state.Name), marshal(req)); err != nil {
		return fmt.Errorf("publish vote request: %w", err)
	}

	if m.state.VoteCount() < m.cfg.Quorum {
		// Election not yet won; a future tick re-checks after more ACKs
		// arrive, bounded by FailoverTimeout before the epoch can retry.
		return nil
	}

	return m.runFailover(ctx)
}

func (m *Monitor) probePrimary(ctx context.Context) {
	client, err := m.dial(ctx, m.state.Addr)
	if err != nil {
		m.state.MarkProbeFailed(time.Now(), m.cfg.DownAfter)
		return
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		m.state.MarkProbeFailed(time.Now(), m.cfg.DownAfter)
		return
	}
	m.state.TouchPong(time.Now())
}

// runFailover executes steps 5-7: select, promote, demote, reconfigure.
func (m *Monitor) runFailover(ctx context.Context) error {
	candidate, ok := m.state.BestReplica()
	if !ok {
		m.logger.Warn().Msg("no healthy replica available for promotion, aborting failover")
		m.state.AbortFailover()
		return nil
	}

	client, err := m.dial(ctx, candidate)
	if err != nil {
		m.logger.Warn().Err(err).Str("candidate", candidate).Msg("promotion candidate unreachable, aborting")
		m.state.AbortFailover()
		return nil
	}
	if err := client.ReplicaOfNoOne(ctx); err != nil {
		client.Close()
		m.logger.Warn().Err(err).Str("candidate", candidate).Msg("REPLICAOF NO ONE failed, aborting")
		m.state.AbortFailover()
		return nil
	}
	client.Close()

	newRunID, ok := m.waitForPromotion(ctx, candidate)
	if !ok {
		m.logger.Warn().Str("candidate", candidate).Msg("candidate did not transition to primary in time, aborting")
		m.state.AbortFailover()
		return nil
	}

	oldAddr, oldRunID := m.state.Addr, m.state.RunID
	if oldClient, err := m.dial(ctx, oldAddr); err == nil {
		_ = oldClient.ReplicaOf(ctx, candidate)
		oldClient.Close()
	}

	others := m.state.RemainingReplicas(candidate)
	m.state.CompletePromotion(candidate, newRunID, time.Now())

	var wg sync.WaitGroup
	for _, addr := range others {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.dial(ctx, addr)
			if err != nil {
				m.logger.Warn().Err(err).Str("replica", addr).Msg("unreachable for post-failover reconfiguration")
				return
			}
			defer c.Close()
			if err := c.ReplicaOf(ctx, candidate); err != nil {
				m.logger.Warn().Err(err).Str("replica", addr).Msg("REPLICAOF to new primary failed")
			}
			if err := c.FailoverPoison(ctx, oldRunID, 60); err != nil {
				m.logger.Warn().Err(err).Str("replica", addr).Msg("FAILOVER POISON failed")
			}
		}()
	}
	wg.Wait()

	m.logger.Info().Str("new_primary", candidate).Msg("failover complete")
	return nil
}

func (m *Monitor) waitForPromotion(ctx context.Context, addr string) (runID string, ok bool) {
	deadline := time.Now().Add(m.cfg.PromotionTimeout)
	for time.Now().Before(deadline) {
		client, err := m.dial(ctx, addr)
		if err == nil {
			info, err := client.InfoReplication(ctx)
			client.Close()
			if err == nil && info.Role == "primary" {
				return info.RunID, true
			}
		}
		select {
		case <-time.After(m.cfg.PromotionPollEvery):
		case <-ctx.Done():
			return "", false
		}
	}
	return "", false
}

// ReconcileStaleReplicas proactively sends REPLICAOF(current primary) to
// any replica whose INFO replication reports a stale primary run-id, outside
// of an active failover. A per-replica lock prevents duplicate concurrent
// reconfiguration attempts against the same address.
func (m *Monitor) ReconcileStaleReplicas(ctx context.Context) {
	if m.state.Phase != PhaseNone {
		return
	}
	currentAddr, currentRunID := m.state.Addr, m.state.RunID

	for _, addr := range m.state.RemainingReplicas("") {
		addr := addr
		m.reconfigMu.Lock()
		if m.reconfigInFlight[addr] {
			m.reconfigMu.Unlock()
			continue
		}
		m.reconfigInFlight[addr] = true
		m.reconfigMu.Unlock()

		go func() {
			defer func() {
				m.reconfigMu.Lock()
				delete(m.reconfigInFlight, addr)
				m.reconfigMu.Unlock()
			}()

			client, err := m.dial(ctx, addr)
			if err != nil {
				return
			}
			defer client.Close()

			info, err := client.InfoReplication(ctx)
			if err != nil || info.Role != "replica" {
				return
			}
			if info.MasterRunID == currentRunID {
				return
			}
			if err := client.ReplicaOf(ctx, currentAddr); err != nil {
				m.logger.Warn().Err(err).Str("replica", addr).Msg("stale-replica reconfiguration failed")
			}
		}()
	}
}
