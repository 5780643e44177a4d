// Package exec implements the Lock Planner and Execution
// Context: deriving and acquiring the shard locks a command
// needs, in canonical (ascending) order, so that deadlock freedom holds
// across every code path.
package exec

import (
	"sort"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/store"
)

// Locks is the outcome of a lock plan: None, Single, Multi, or All,
// always already acquired by the time a Planner returns one.
type Locks struct {
	Kind   store.LockKind
	shards []*store.Shard // held in ascending Index order
}

// Shards returns the locked shards in acquisition order.
func (l *Locks) Shards() []*store.Shard { return l.shards }

// Single returns the lone shard for a Single-kind plan.
func (l *Locks) Single() *store.Shard {
	if len(l.shards) == 0 {
		return nil
	}
	return l.shards[0]
}

// Unlock releases every held shard lock, in reverse acquisition order.
// Safe to call on a Kind==LockNone plan (no-op).
func (l *Locks) Unlock() {
	for i := len(l.shards) - 1; i >= 0; i-- {
		l.shards[i].Mu.Unlock()
	}
}

// Planner derives and acquires shard locks for a command.
type Planner struct {
	ks *store.Keyspace
}

func NewPlanner(ks *store.Keyspace) *Planner { return &Planner{ks: ks} }

// Plan derives the required shard indices from cmd's declared key
// positions, then acquires them in ascending numeric order -- the single
// canonical order every code path in the engine uses, which is what makes
// the system deadlock-free.
func (p *Planner) Plan(cmd *command.Command) *Locks {
	if cmd.Desc.AllShards {
		return p.planAll()
	}

	keys := cmd.Keys()
	if len(keys) == 0 {
		return &Locks{Kind: store.LockNone}
	}

	indexSet := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		indexSet[p.ks.GetShardIndex(k)] = struct{}{}
	}

	indices := make([]int, 0, len(indexSet))
	for idx := range indexSet {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	if len(indices) == 1 {
		shard := p.ks.GetShard(indices[0])
		shard.Mu.Lock()
		return &Locks{Kind: store.LockSingle, shards: []*store.Shard{shard}}
	}

	shards := make([]*store.Shard, 0, len(indices))
	for _, idx := range indices {
		shard := p.ks.GetShard(idx)
		shard.Mu.Lock()
		shards = append(shards, shard)
	}
	return &Locks{Kind: store.LockMulti, shards: shards}
}

func (p *Planner) planAll() *Locks {
	n := p.ks.NumShards()
	shards := make([]*store.Shard, n)
	for i := 0; i < n; i++ {
		shard := p.ks.GetShard(i)
		shard.Mu.Lock()
		shards[i] = shard
	}
	return &Locks{Kind: store.LockAll, shards: shards}
}

// PlanForKeys is the same canonical-order acquisition as Plan, but driven
// directly by an explicit key set -- used by WATCH/EXEC, which
// must lock the union of a session's watched keys rather than one
// command's declared keys.
func (p *Planner) PlanForKeys(keys []string) *Locks {
	if len(keys) == 0 {
		return &Locks{Kind: store.LockNone}
	}
	indexSet := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		indexSet[p.ks.GetShardIndex(k)] = struct{}{}
	}
	indices := make([]int, 0, len(indexSet))
	for idx := range indexSet {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	shards := make([]*store.Shard, 0, len(indices))
	for _, idx := range indices {
		shard := p.ks.GetShard(idx)
		shard.Mu.Lock()
		shards = append(shards, shard)
	}
	kind := store.LockMulti
	if len(shards) == 1 {
		kind = store.LockSingle
	}
	return &Locks{Kind: kind, shards: shards}
}
