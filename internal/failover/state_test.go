package failover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarkProbeFailedTransitionsToSubjectiveDownAfterThreshold(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	now := time.Now()
	s.MarkProbeFailed(now, 5*time.Second)
	require.Equal(t, StatusOk, s.Status)

	s.MarkProbeFailed(now.Add(6*time.Second), 5*time.Second)
	require.Equal(t, StatusSubjectiveDown, s.Status)
}

func TestTouchPongClearsDownSince(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	now := time.Now()
	s.MarkProbeFailed(now, 5*time.Second)
	s.TouchPong(now.Add(time.Second))
	require.Equal(t, StatusOk, s.Status)
	require.True(t, s.DownSince.IsZero())
}

func TestHasQuorumCountsSelfPlusPeers(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	require.False(t, s.HasQuorum(2))
	s.UpsertPeer("peer1", "10.0.0.2:9999", 0, time.Now())
	require.True(t, s.HasQuorum(2))
}

func TestExpirePeersDropsStaleEntries(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	now := time.Now()
	s.UpsertPeer("peer1", "addr", 0, now.Add(-20*time.Second))
	s.ExpirePeers(now, 2*time.Second)
	require.Equal(t, 0, s.PeerCount())
}

func TestTryCastVoteRejectsRepeatWithinEpoch(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	require.True(t, s.TryCastVote(1))
	require.False(t, s.TryCastVote(1))
	require.True(t, s.TryCastVote(2))
}

func TestBestReplicaPrefersHighestOffsetThenRunIDTiebreak(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	s.Replicas["a"] = &ReplicaState{Addr: "a", RunID: "aaa", ReplicationOffset: 10}
	s.Replicas["b"] = &ReplicaState{Addr: "b", RunID: "bbb", ReplicationOffset: 20}
	s.Replicas["c"] = &ReplicaState{Addr: "c", RunID: "ccc", ReplicationOffset: 20}

	best, ok := s.BestReplica()
	require.True(t, ok)
	require.Equal(t, "c", best) // tie on offset, "ccc" > "bbb"
}

func TestBestReplicaExcludesDownReplicas(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	s.Replicas["a"] = &ReplicaState{Addr: "a", RunID: "aaa", ReplicationOffset: 100, DownSince: time.Now()}
	s.Replicas["b"] = &ReplicaState{Addr: "b", RunID: "bbb", ReplicationOffset: 1}

	best, ok := s.BestReplica()
	require.True(t, ok)
	require.Equal(t, "b", best)
}

func TestBeginElectionRequiresObjectiveDown(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	_, ok := s.BeginElection("self", time.Now(), time.Minute)
	require.False(t, ok)

	s.Status = StatusObjectiveDown
	epoch, ok := s.BeginElection("self", time.Now(), time.Minute)
	require.True(t, ok)
	require.Equal(t, uint64(1), epoch)
}

func TestBeginElectionRespectsFailoverTimeoutWindow(t *testing.T) {
	s := NewPrimaryState("m1", "10.0.0.1:6380")
	s.Status = StatusObjectiveDown
	now := time.Now()
	_, ok := s.BeginElection("self", now, time.Minute)
	require.True(t, ok)

	s.CompletePromotion("new-addr", "new-run-id", now)
	s.Status = StatusObjectiveDown

	_, ok = s.BeginElection("self", now.Add(time.Second), time.Minute)
	require.False(t, ok, "must wait out the failover-timeout window before another election")
}
