package txn

import (
	"testing"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/store"
	"github.com/stretchr/testify/require"
)

func TestMultiNestingRejected(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Multi())
	require.Error(t, s.Multi())
}

func TestDiscardWithoutMultiErrors(t *testing.T) {
	s := NewSession()
	require.Error(t, s.Discard())
}

func TestDiscardClearsQueueAndWatches(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Watch([]string{"k"}, func(string) uint64 { return 0 }))
	require.NoError(t, s.Multi())
	reg := command.NewDefaultRegistry()
	cmd, err := command.Parse(reg, [][]byte{[]byte("GET"), []byte("k")})
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(cmd, nil))

	require.NoError(t, s.Discard())
	require.False(t, s.InMulti())
	require.Empty(t, s.Queue())
	require.Empty(t, s.WatchedKeys())
}

func TestWatchInsideMultiRejected(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Multi())
	err := s.Watch([]string{"k"}, func(string) uint64 { return 0 })
	require.Error(t, err)
}

func TestEnqueueWithoutMultiRejected(t *testing.T) {
	s := NewSession()
	reg := command.NewDefaultRegistry()
	cmd, err := command.Parse(reg, [][]byte{[]byte("GET"), []byte("k")})
	require.NoError(t, err)
	err = s.Enqueue(cmd, nil)
	require.Error(t, err)
}

func TestEnqueueQueueErrorMarksDirtyButDoesNotAbortEnqueue(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Multi())
	err := s.Enqueue(nil, require.AnError)
	require.Error(t, err) // surfaced to the client immediately
	require.True(t, s.dirty)
}

// TestWatchThenExternalWriteAbortsExec mirrors: WATCH k; (another session
// writes k); EXEC observes the version mismatch and must abort with a
// null result instead of running the (empty) queue.
func TestWatchThenExternalWriteAbortsExec(t *testing.T) {
	ks := store.NewKeyspace(4, 0, nil)
	read := VersionReader(ks)

	s := NewSession()
	require.NoError(t, s.Watch([]string{"k"}, read))

	// GET k before the write observes nothing -- key never existed.
	shard := ks.GetShard(ks.GetShardIndex("k"))
	shard.Mu.Lock()
	_, ok := shard.Peek("k")
	shard.Mu.Unlock()
	require.False(t, ok)

	// A second session's SET k x.
	shard.Mu.Lock()
	shard.Insert("k", &store.Entry{Value: ds.NewString([]byte("x")), SizeBytes: 2})
	shard.Mu.Unlock()

	require.NoError(t, s.Multi())
	require.True(t, s.Aborted(read))
	s.Exec()
	require.False(t, s.InMulti())
}

func TestWatchUnchangedKeyExecRuns(t *testing.T) {
	ks := store.NewKeyspace(4, 0, nil)
	read := VersionReader(ks)

	s := NewSession()
	require.NoError(t, s.Watch([]string{"k"}, read))
	require.NoError(t, s.Multi())
	require.False(t, s.Aborted(read))
}

func TestUnwatchClearsWatchSet(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Watch([]string{"k"}, func(string) uint64 { return 0 }))
	s.Unwatch()
	require.Empty(t, s.WatchedKeys())
}

func TestQueuedKeysDedupesAcrossCommands(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.Multi())
	reg := command.NewDefaultRegistry()
	c1, err := command.Parse(reg, [][]byte{[]byte("SET"), []byte("k"), []byte("1")})
	require.NoError(t, err)
	c2, err := command.Parse(reg, [][]byte{[]byte("GET"), []byte("k")})
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(c1, nil))
	require.NoError(t, s.Enqueue(c2, nil))
	require.Equal(t, []string{"k"}, s.QueuedKeys())
}
