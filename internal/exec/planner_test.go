package exec

import (
	"testing"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/store"
	"github.com/stretchr/testify/require"
)

func TestPlanSingleKeyLocksOneShard(t *testing.T) {
	ks := store.NewKeyspace(8, 0, nil)
	r := command.NewDefaultRegistry()
	cmd, err := command.Parse(r, [][]byte{[]byte("GET"), []byte("k")})
	require.NoError(t, err)

	planner := NewPlanner(ks)
	locks := planner.Plan(cmd)
	defer locks.Unlock()

	require.Equal(t, store.LockSingle, locks.Kind)
	require.Len(t, locks.Shards(), 1)
}

func TestPlanAscendingCanonicalOrder(t *testing.T) {
	ks := store.NewKeyspace(32, 0, nil)
	r := command.NewDefaultRegistry()

	// Find keys that land on different shards so we get a Multi plan.
	var keys [][]byte
	seen := map[int]bool{}
	for i := 0; len(seen) < 3; i++ {
		k := []byte{'k', byte('a' + i)}
		idx := ks.GetShardIndex(string(k))
		if !seen[idx] {
			seen[idx] = true
			keys = append(keys, k)
		}
	}
	args := append([][]byte{[]byte("MGET")}, keys...)
	cmd, err := command.Parse(r, args)
	require.NoError(t, err)

	planner := NewPlanner(ks)
	locks := planner.Plan(cmd)
	defer locks.Unlock()

	require.Equal(t, store.LockMulti, locks.Kind)
	shards := locks.Shards()
	for i := 1; i < len(shards); i++ {
		require.Less(t, shards[i-1].Index, shards[i].Index)
	}
}

func TestPlanNoKeysReturnsNone(t *testing.T) {
	ks := store.NewKeyspace(4, 0, nil)
	r := command.NewDefaultRegistry()
	cmd, err := command.Parse(r, [][]byte{[]byte("MULTI")})
	require.NoError(t, err)

	planner := NewPlanner(ks)
	locks := planner.Plan(cmd)
	defer locks.Unlock()
	require.Equal(t, store.LockNone, locks.Kind)
}

func TestPlanAllShardsLocksEverything(t *testing.T) {
	ks := store.NewKeyspace(6, 0, nil)
	r := command.NewDefaultRegistry()
	cmd, err := command.Parse(r, [][]byte{[]byte("FLUSHDB")})
	require.NoError(t, err)

	planner := NewPlanner(ks)
	locks := planner.Plan(cmd)
	defer locks.Unlock()
	require.Equal(t, store.LockAll, locks.Kind)
	require.Len(t, locks.Shards(), ks.NumShards())
}
