package replication

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvengine/internal/command"
)

func mustParse(t *testing.T, reg *command.Registry, args ...string) *command.Command {
	t.Helper()
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	cmd, err := command.Parse(reg, raw)
	require.NoError(t, err)
	return cmd
}

func TestFeederPropagateAssignsOffsetAndBacklogsFrame(t *testing.T) {
	reg := command.NewDefaultRegistry()
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop())

	cmd := mustParse(t, reg, "SET", "k", "v")
	offset, err := feeder.Propagate(cmd)
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)

	recs, ok := backlog.GetSince(0)
	require.True(t, ok)
	require.Len(t, recs, 1)
}

func TestFeederSkipsNoPropagateCommands(t *testing.T) {
	reg := command.NewDefaultRegistry()
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop())

	cmd := mustParse(t, reg, "PUBLISH", "ch", "hi")
	offset, err := feeder.Propagate(cmd)
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)

	recs, _ := backlog.GetSince(0)
	require.Empty(t, recs)
}

func TestFeederMinReplicasGateRejectsWithNoFollowers(t *testing.T) {
	reg := command.NewDefaultRegistry()
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{MinReplicas: 1, MaxLag: time.Second}, nil, zerolog.Nop())

	cmd := mustParse(t, reg, "SET", "k", "v")
	_, err := feeder.Propagate(cmd)
	require.Error(t, err)
}

func TestFeederMinReplicasGateAdmitsOnceFollowerAcks(t *testing.T) {
	reg := command.NewDefaultRegistry()
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{MinReplicas: 1, MaxLag: time.Minute}, nil, zerolog.Nop())

	_, cancel := feeder.RegisterFollower("f1")
	defer cancel()
	feeder.Ack("f1", 0)

	cmd := mustParse(t, reg, "SET", "k", "v")
	_, err := feeder.Propagate(cmd)
	require.NoError(t, err)
}

func TestFeederNotifiesRegisteredFollowers(t *testing.T) {
	reg := command.NewDefaultRegistry()
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop())

	notify, cancel := feeder.RegisterFollower("f1")
	defer cancel()

	cmd := mustParse(t, reg, "SET", "k", "v")
	_, err := feeder.Propagate(cmd)
	require.NoError(t, err)

	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("follower was not notified")
	}
}
