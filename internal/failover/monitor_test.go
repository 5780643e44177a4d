package failover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeGossip is an in-process Gossip that delivers synchronously to every
// subscriber of a channel, enough to exercise the monitor's wiring without
// a real NATS connection.
type fakeGossip struct {
	mu   sync.Mutex
	subs map[string]map[string]func([]byte)
}

func newFakeGossip() *fakeGossip {
	return &fakeGossip{subs: make(map[string]map[string]func([]byte))}
}

func (g *fakeGossip) Subscribe(subscriberID, channel string, cb func([]byte)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subs[channel] == nil {
		g.subs[channel] = make(map[string]func([]byte))
	}
	g.subs[channel][subscriberID] = cb
}

func (g *fakeGossip) Publish(channel string, payload []byte) (int, error) {
	g.mu.Lock()
	cbs := make([]func([]byte), 0, len(g.subs[channel]))
	for _, cb := range g.subs[channel] {
		cbs = append(cbs, cb)
	}
	g.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
	return len(cbs), nil
}

type fakeInstanceClient struct {
	pingErr        error
	role           string
	runID          string
	masterRunID    string
	replicaOfCalls []string
	noOneCalled    bool
	poisonCalls    []string
}

func (f *fakeInstanceClient) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeInstanceClient) ReplicaOfNoOne(ctx context.Context) error {
	f.noOneCalled = true
	f.role = "primary"
	return nil
}
func (f *fakeInstanceClient) ReplicaOf(ctx context.Context, addr string) error {
	f.replicaOfCalls = append(f.replicaOfCalls, addr)
	return nil
}
func (f *fakeInstanceClient) InfoReplication(ctx context.Context) (InfoReplication, error) {
	return InfoReplication{Role: f.role, RunID: f.runID, MasterRunID: f.masterRunID}, nil
}
func (f *fakeInstanceClient) FailoverPoison(ctx context.Context, oldRunID string, grace int) error {
	f.poisonCalls = append(f.poisonCalls, oldRunID)
	return nil
}
func (f *fakeInstanceClient) Close() error { return nil }

func TestHandleVoteRequestAcksOncePerEpoch(t *testing.T) {
	state := NewPrimaryState("m1", "primary:1")
	gossip := newFakeGossip()
	mon := NewMonitor(state, gossip, nil, Config{SelfRunID: "self"}, zerolog.Nop())

	var acks int
	gossip.Subscribe("watcher", voteAckChannel("m1"), func(b []byte) { acks++ })

	mon.handleVoteRequest(voteRequestMsg{CandidateRunID: "candidate", Epoch: 1})
	mon.handleVoteRequest(voteRequestMsg{CandidateRunID: "candidate", Epoch: 1})
	require.Equal(t, 1, acks, "must not vote twice in the same epoch")
}

func TestTickPromotesBestReplicaWhenPrimaryIsObjectivelyDown(t *testing.T) {
	state := NewPrimaryState("m1", "primary:1")
	state.RunID = "old-run-id"
	state.Replicas["replica:1"] = &ReplicaState{Addr: "replica:1", RunID: "r1", ReplicationOffset: 5}
	state.Replicas["replica:2"] = &ReplicaState{Addr: "replica:2", RunID: "r2", ReplicationOffset: 9}

	primaryClient := &fakeInstanceClient{pingErr: context.DeadlineExceeded}
	candidate := &fakeInstanceClient{role: "replica", runID: "r2"}
	other := &fakeInstanceClient{role: "replica"}
	oldPrimary := &fakeInstanceClient{role: "primary"}

	dial := func(ctx context.Context, addr string) (InstanceClient, error) {
		switch addr {
		case "primary:1":
			return primaryClient, nil
		case "replica:2":
			candidate.role = "primary" // simulate REPLICAOF NO ONE having taken effect by poll time
			return candidate, nil
		case "replica:1":
			return other, nil
		}
		return oldPrimary, nil
	}

	gossip := newFakeGossip()
	cfg := Config{
		SelfRunID:          "self",
		Quorum:             1,
		DownAfter:          time.Nanosecond,
		FailoverTimeout:    time.Minute,
		PromotionTimeout:   time.Second,
		PromotionPollEvery: time.Millisecond,
	}
	mon := NewMonitor(state, gossip, dial, cfg, zerolog.Nop())

	// first probe sets down_since
	require.NoError(t, mon.Tick(context.Background()))
	require.Equal(t, StatusOk, state.Status) // a 1ns downAfter still needs a second failed probe to flip

	// second probe flips to down and runs the failover; CompletePromotion
	// resets the status to Ok for the newly promoted primary
	require.NoError(t, mon.Tick(context.Background()))
	require.Equal(t, StatusOk, state.Status)

	require.Equal(t, "replica:2", state.Addr)
	require.Equal(t, "r2", state.RunID)
	require.True(t, candidate.noOneCalled)
	require.Contains(t, other.replicaOfCalls, "replica:2")
}

func TestReconcileStaleReplicasSkipsReplicaAlreadyFollowingCurrentPrimary(t *testing.T) {
	state := NewPrimaryState("m1", "primary:1")
	state.RunID = "current-run-id"
	state.Replicas["replica:1"] = &ReplicaState{Addr: "replica:1", RunID: "r1"}

	fresh := &fakeInstanceClient{role: "replica", masterRunID: "current-run-id"}
	dial := func(ctx context.Context, addr string) (InstanceClient, error) { return fresh, nil }

	mon := NewMonitor(state, newFakeGossip(), dial, Config{SelfRunID: "self"}, zerolog.Nop())
	mon.ReconcileStaleReplicas(context.Background())
	time.Sleep(20 * time.Millisecond) // reconcile fans out in goroutines

	require.Empty(t, fresh.replicaOfCalls)
}

func TestReconcileStaleReplicasReconfiguresStaleFollower(t *testing.T) {
	state := NewPrimaryState("m1", "primary:1")
	state.RunID = "current-run-id"
	state.Replicas["replica:1"] = &ReplicaState{Addr: "replica:1", RunID: "r1"}

	stale := &fakeInstanceClient{role: "replica", masterRunID: "stale-run-id"}
	dial := func(ctx context.Context, addr string) (InstanceClient, error) { return stale, nil }

	mon := NewMonitor(state, newFakeGossip(), dial, Config{SelfRunID: "self"}, zerolog.Nop())
	mon.ReconcileStaleReplicas(context.Background())
	require.Eventually(t, func() bool { return len(stale.replicaOfCalls) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "primary:1", stale.replicaOfCalls[0])
}
