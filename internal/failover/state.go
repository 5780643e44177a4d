// Package failover implements a sentinel-style monitor: it watches a
// configured primary's health, gossips with peer monitors over NATS, and
// runs a quorum-based election and promotion sequence when the primary is
// objectively down.
package failover

import (
	"sync"
	"time"
)

// Status is a monitor's perceived health of the primary it watches.
type Status int

const (
	StatusOk Status = iota
	StatusSubjectiveDown
	StatusObjectiveDown
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusSubjectiveDown:
		return "sdown"
	case StatusObjectiveDown:
		return "odown"
	default:
		return "unknown"
	}
}

// Phase tracks progress through an in-flight election/promotion.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseVoting
	PhasePromoting
	PhaseReconfiguring
)

// ReplicaState is one monitor's view of a replica of the watched primary.
type ReplicaState struct {
	Addr              string
	RunID             string
	ReplicationOffset uint64
	DownSince         time.Time // zero means up
	LastPong          time.Time
}

// PeerState is a discovered peer monitor watching the same primary.
type PeerState struct {
	RunID        string
	AnnounceAddr string
	Epoch        uint64
	LastHello    time.Time
}

// PrimaryState holds everything one Monitor tracks about the primary and
// its replicas for a single monitored name.
type PrimaryState struct {
	mu sync.Mutex

	Name   string
	Addr   string
	RunID  string
	Status Status

	DownSince time.Time

	Replicas map[string]*ReplicaState // keyed by addr
	Peers    map[string]*PeerState    // keyed by peer run-id

	ConfigEpoch    uint64
	LastVotedEpoch uint64
	Votes          map[string]time.Time // voter run-id -> vote timestamp, this epoch

	Phase              Phase
	PromotionCandidate string
	LastFailoverAt     time.Time
}

func NewPrimaryState(name, addr string) *PrimaryState {
	return &PrimaryState{
		Name:     name,
		Addr:     addr,
		RunID:    "?",
		Status:   StatusOk,
		Replicas: make(map[string]*ReplicaState),
		Peers:    make(map[string]*PeerState),
		Votes:    make(map[string]time.Time),
	}
}

// TouchPong records a successful health probe, clearing any down_since.
func (s *PrimaryState) TouchPong(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DownSince = time.Time{}
	s.Status = StatusOk
}

// MarkProbeFailed records a failed probe. It sets down_since on the first
// failure and transitions to SDown once downAfter has elapsed.
func (s *PrimaryState) MarkProbeFailed(now time.Time, downAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DownSince.IsZero() {
		s.DownSince = now
		return
	}
	if s.Status == StatusOk && now.Sub(s.DownSince) > downAfter {
		s.Status = StatusSubjectiveDown
	}
}

// UpsertPeer records or refreshes a peer's hello announcement.
func (s *PrimaryState) UpsertPeer(runID, addr string, epoch uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Peers[runID] = &PeerState{RunID: runID, AnnounceAddr: addr, Epoch: epoch, LastHello: now}
}

// ExpirePeers drops peers whose last hello is older than 5x the hello
// interval.
func (s *PrimaryState) ExpirePeers(now time.Time, helloInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := 5 * helloInterval
	for id, p := range s.Peers {
		if now.Sub(p.LastHello) > cutoff {
			delete(s.Peers, id)
		}
	}
}

// PeerCount returns the number of currently-live peers.
func (s *PrimaryState) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Peers)
}

// HasQuorum reports whether (live peers + self) meets quorum.
func (s *PrimaryState) HasQuorum(quorum int) bool {
	return s.PeerCount()+1 >= quorum
}

// BeginElection bumps the config epoch, records a self-vote, and returns
// the new epoch, iff the objective-down gate and the per-primary
// failover-timeout window both allow starting one.
func (s *PrimaryState) BeginElection(selfRunID string, now time.Time, failoverTimeout time.Duration) (epoch uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusObjectiveDown {
		return 0, false
	}
	if !s.LastFailoverAt.IsZero() && now.Sub(s.LastFailoverAt) < failoverTimeout {
		return 0, false
	}
	s.ConfigEpoch++
	s.Votes = map[string]time.Time{selfRunID: now}
	s.Phase = PhaseVoting
	return s.ConfigEpoch, true
}

// RecordVote registers one peer's vote for epoch, rejecting a peer who has
// already voted this epoch (LastVotedEpoch tracks *this* monitor's own
// vote-casting, separate from the tally here, which tracks votes received
// as a candidate).
func (s *PrimaryState) RecordVote(voterRunID string, epoch uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.ConfigEpoch {
		return
	}
	if _, already := s.Votes[voterRunID]; already {
		return
	}
	s.Votes[voterRunID] = now
}

// VoteCount returns the number of votes tallied for the current epoch.
func (s *PrimaryState) VoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Votes)
}

// TryCastVote records that this monitor cast its own vote for epoch,
// refusing a repeat vote within the same epoch (at most one vote per
// epoch, per §4.L step 4).
func (s *PrimaryState) TryCastVote(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch <= s.LastVotedEpoch {
		return false
	}
	s.LastVotedEpoch = epoch
	return true
}

// BestReplica picks the promotion candidate: highest replication_offset
// among replicas not marked down, run-id as tiebreak.
func (s *PrimaryState) BestReplica() (addr string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *ReplicaState
	for _, r := range s.Replicas {
		if !r.DownSince.IsZero() {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		if r.ReplicationOffset > best.ReplicationOffset {
			best = r
		} else if r.ReplicationOffset == best.ReplicationOffset && r.RunID > best.RunID {
			best = r
		}
	}
	if best == nil {
		return "", false
	}
	return best.Addr, true
}

// CompletePromotion records the new primary address/run-id and clears
// failover state, per §4.L step 7.
func (s *PrimaryState) CompletePromotion(newAddr, newRunID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Replicas, newAddr)
	s.Addr = newAddr
	s.RunID = newRunID
	s.Status = StatusOk
	s.DownSince = time.Time{}
	s.LastFailoverAt = now
	s.Phase = PhaseNone
	s.PromotionCandidate = ""
}

// AbortFailover resets in-flight failover bookkeeping without promoting
// anyone, e.g. when no healthy replica is available.
func (s *PrimaryState) AbortFailover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = PhaseNone
	s.PromotionCandidate = ""
}

// RemainingReplicas returns every replica address other than exclude,
// for the reconfiguration fan-out in step 6.
func (s *PrimaryState) RemainingReplicas(exclude string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Replicas))
	for addr := range s.Replicas {
		if addr != exclude {
			out = append(out, addr)
		}
	}
	return out
}
