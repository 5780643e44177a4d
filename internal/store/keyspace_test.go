package store

import (
	"testing"
	"time"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/stretchr/testify/require"
)

func TestShardInsertGetMemoryAccounting(t *testing.T) {
	s := NewShard(0)
	val := ds.NewString([]byte("hello"))
	e := &Entry{Value: val, SizeBytes: int64(len("k")) + val.MemSize()}
	s.Insert("k", e)
	require.Equal(t, e.SizeBytes, s.MemBytes())

	got, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, val, got.Value)

	s.Remove("k")
	require.Equal(t, int64(0), s.MemBytes())
}

func TestShardPeekDoesNotTouchLRU(t *testing.T) {
	s := NewShard(0)
	s.Insert("a", &Entry{Value: ds.NewString([]byte("1")), SizeBytes: 2})
	s.Insert("b", &Entry{Value: ds.NewString([]byte("2")), SizeBytes: 2})

	// Peek "a" shouldn't move it to front; LRU victim should still be "a"
	// (least recently used) since only inserts happened.
	_, _ = s.Peek("a")
	victim, ok := s.LRUVictim()
	require.True(t, ok)
	require.Equal(t, "a", victim)

	// Get "a" should bump it to front, leaving "b" as the victim.
	_, _ = s.Get("a")
	victim, ok = s.LRUVictim()
	require.True(t, ok)
	require.Equal(t, "b", victim)
}

func TestKeyspaceShardIndexStableAcrossCalls(t *testing.T) {
	ks := NewKeyspace(8, 0, nil)
	idx1 := ks.GetShardIndex("mykey")
	idx2 := ks.GetShardIndex("mykey")
	require.Equal(t, idx1, idx2)
	require.GreaterOrEqual(t, idx1, 0)
	require.Less(t, idx1, ks.NumShards())
}

func TestKeyspaceMemoryAccountingInvariant(t *testing.T) {
	ks := NewKeyspace(4, 0, nil)
	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	var expected int64
	for _, k := range keys {
		idx := ks.GetShardIndex(k)
		shard := ks.GetShard(idx)
		val := ds.NewString([]byte(k))
		size := int64(len(k)) + val.MemSize()
		shard.Mu.Lock()
		shard.Insert(k, &Entry{Value: val, SizeBytes: size})
		shard.Mu.Unlock()
		expected += size
	}
	require.Equal(t, expected, ks.TotalMemBytes())
}

func TestExpiryWorkerRemovesExpiredKeys(t *testing.T) {
	ks := NewKeyspace(2, 0, nil)
	idx := ks.GetShardIndex("expiring")
	shard := ks.GetShard(idx)
	shard.Mu.Lock()
	shard.Insert("expiring", &Entry{
		Value:            ds.NewString([]byte("x")),
		SizeBytes:        1,
		ExpireAtUnixNano: time.Now().Add(-time.Second).UnixNano(),
	})
	shard.Mu.Unlock()

	worker := NewExpiryWorker(ks, 10, time.Millisecond, nil)
	removed := worker.RunCycle(time.Now().UnixNano())
	require.Equal(t, 1, removed)

	shard.Mu.Lock()
	_, ok := shard.Peek("expiring")
	shard.Mu.Unlock()
	require.False(t, ok)
}

func TestShardVersionSurvivesDeleteRecreate(t *testing.T) {
	s := NewShard(0)
	require.Equal(t, uint64(0), s.Version("k"))

	s.Insert("k", &Entry{Value: ds.NewString([]byte("1")), SizeBytes: 2})
	v1 := s.Version("k")
	require.Equal(t, uint64(1), v1)

	s.Remove("k")
	v2 := s.Version("k")
	require.NotEqual(t, v1, v2)

	s.Insert("k", &Entry{Value: ds.NewString([]byte("2")), SizeBytes: 2})
	v3 := s.Version("k")
	require.NotEqual(t, v2, v3)
}

func TestEvictOneKeyApproximateLRU(t *testing.T) {
	ks := NewKeyspace(1, 0, ApproximateLRU{})
	shard := ks.GetShard(0)
	shard.Mu.Lock()
	shard.Insert("first", &Entry{Value: ds.NewString([]byte("1")), SizeBytes: 1})
	shard.Insert("second", &Entry{Value: ds.NewString([]byte("2")), SizeBytes: 1})
	shard.Mu.Unlock()

	evicted, key := ks.EvictOneKey(1)
	require.True(t, evicted)
	require.Equal(t, "first", key)
}
