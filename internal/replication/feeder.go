package replication

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
)

// Relay mirrors accepted write frames to an external system (a Kafka
// topic, say) in addition to the in-process backlog. Feeder calls it
// best-effort: a relay failure is logged, never propagated to the client.
type Relay interface {
	Relay(offset uint64, frame []byte) error
}

// followerState is the feeder's bookkeeping for one connected follower.
type followerState struct {
	notify    chan struct{}
	ackOffset uint64
	lastAckAt time.Time
	healthy   bool
}

// FeederConfig tunes admission and rate behavior.
type FeederConfig struct {
	// MinReplicas, when > 0, gates writes on at least this many healthy
	// followers whose last ack arrived within MaxLag and whose acked offset
	// trails the backlog head by no more than the backlog's capacity.
	MinReplicas int
	MaxLag      time.Duration

	// MaxFramesPerSec throttles how fast the feeder accepts propagation,
	// independent of client command rate; 0 disables the limiter.
	MaxFramesPerSec int
}

// Feeder serializes executed write commands into frames, assigns
// replication offsets via the backlog, and wakes connected follower
// sessions so they can drain new frames.
type Feeder struct {
	backlog *Backlog
	cfg     FeederConfig
	relay   Relay
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	followers map[string]*followerState
}

func NewFeeder(backlog *Backlog, cfg FeederConfig, relay Relay, logger zerolog.Logger) *Feeder {
	var limiter *rate.Limiter
	if cfg.MaxFramesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxFramesPerSec), cfg.MaxFramesPerSec)
	}
	return &Feeder{
		backlog:   backlog,
		cfg:       cfg,
		relay:     relay,
		logger:    logger.With().Str("component", "replication_feeder").Logger(),
		limiter:   limiter,
		followers: make(map[string]*followerState),
	}
}

// RegisterFollower adds a follower to the notification set and returns its
// wake channel plus a cancel function to call on disconnect.
func (f *Feeder) RegisterFollower(id string) (notify <-chan struct{}, cancel func()) {
	f.mu.Lock()
	st := &followerState{notify: make(chan struct{}, 1), healthy: true, lastAckAt: time.Now()}
	f.followers[id] = st
	f.mu.Unlock()
	return st.notify, func() {
		f.mu.Lock()
		delete(f.followers, id)
		f.mu.Unlock()
	}
}

// NextOffset reports the backlog offset the next propagated write will be
// assigned, for ROLE/INFO replication reporting.
func (f *Feeder) NextOffset() uint64 { return f.backlog.NextOffset() }

// FollowerCount reports how many followers are currently registered, for
// the replication_followers gauge.
func (f *Feeder) FollowerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.followers)
}

// MaxLagBytes reports the largest ack gap among registered followers, for
// the replication_lag_bytes gauge.
func (f *Feeder) MaxLagBytes() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.backlog.NextOffset()
	var max uint64
	for _, st := range f.followers {
		if head < st.ackOffset {
			continue
		}
		if lag := head - st.ackOffset; lag > max {
			max = lag
		}
	}
	return max
}

// Ack records a follower's reported offset and liveness timestamp.
func (f *Feeder) Ack(id string, offset uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.followers[id]; ok {
		st.ackOffset = offset
		st.lastAckAt = time.Now()
		st.healthy = true
	}
}

// healthyWithinLag counts healthy followers whose last ack is within
// MaxLag of now and whose ack offset trails head by no more than the
// backlog's capacity. Caller must hold f.mu.
func (f *Feeder) healthyWithinLag(head uint64) int {
	n := 0
	for _, st := range f.followers {
		if !st.healthy {
			continue
		}
		if time.Since(st.lastAckAt) > f.cfg.MaxLag {
			continue
		}
		if head >= st.ackOffset && head-st.ackOffset <= uint64(f.backlog.capacityBytes) {
			n++
		}
	}
	return n
}

// Admit applies the min-replicas gate to cmd before it executes. Callers
// that write must check this ahead of running the command's handler --
// checking only at propagation time, after the handler already mutated
// the shard, would let a write through even though the gate refused it.
// Commands flagged NoPropagate are exempt, matching Propagate.
func (f *Feeder) Admit(cmd *command.Command) error {
	if cmd.Desc.Flags.Has(command.NoPropagate) {
		return nil
	}
	return f.admit()
}

// admit applies the min-replicas gate ahead of accepting a write into the
// backlog. Returns a ReadOnly error when the gate refuses the write.
func (f *Feeder) admit() error {
	if f.cfg.MinReplicas <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.backlog.NextOffset()
	if f.healthyWithinLag(head) < f.cfg.MinReplicas {
		return kverrors.Newf(kverrors.ReadOnly, "insufficient healthy replicas (need %d)", f.cfg.MinReplicas)
	}
	return nil
}

// Propagate admits, frames, and backlogs a write command, then wakes every
// connected follower. Commands flagged NoPropagate (transaction control
// commands, reads) are skipped and return offset 0 with no error.
func (f *Feeder) Propagate(cmd *command.Command) (offset uint64, err error) {
	if cmd.Desc.Flags.Has(command.NoPropagate) {
		return 0, nil
	}
	if err := f.admit(); err != nil {
		return 0, err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(context.Background()); err != nil {
			return 0, err
		}
	}

	frame, err := encodeFrame(cmd)
	if err != nil {
		return 0, kverrors.Newf(kverrors.Internal, "encode replication frame: %v", err)
	}
	rec := f.backlog.Add(frame)

	if f.relay != nil {
		if err := f.relay.Relay(rec.Offset, frame); err != nil {
			f.logger.Warn().Err(err).Uint64("offset", rec.Offset).Msg("relay mirror failed")
		}
	}

	f.mu.Lock()
	for _, st := range f.followers {
		select {
		case st.notify <- struct{}{}:
		default:
		}
	}
	f.mu.Unlock()

	return rec.Offset, nil
}

func encodeFrame(cmd *command.Command) ([]byte, error) {
	var buf rawBuffer
	if err := protocol.WriteFrame(&buf, cmd.ToArgs()); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// rawBuffer is a tiny io.Writer sink; protocol.WriteFrame wants an
// io.Writer and the feeder wants the encoded bytes, not a network socket.
type rawBuffer struct{ b []byte }

func (r *rawBuffer) Write(p []byte) (int, error) {
	r.b = append(r.b, p...)
	return len(p), nil
}
