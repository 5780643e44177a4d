package store

import (
	"hash/maphash"
	"math/rand"
	"sync/atomic"
	"time"
)

// LockKind tags which shape of lock plan a command needs.
type LockKind int

const (
	LockNone LockKind = iota
	LockSingle
	LockMulti
	LockAll
)

// Keyspace is one database's fixed array of shards.
type Keyspace struct {
	shards []*Shard
	seed   maphash.Seed

	evictionPolicy EvictionPolicy
	maxMemoryBytes int64 // 0 == unbounded

	expiryCursor atomic.Uint64 // round-robin cursor across shards for the expiry worker
}

// NumShardsDefault is a sane power-of-two shard count when the caller
// doesn't size it to the host's core count.
const NumShardsDefault = 16

func NewKeyspace(numShards int, maxMemoryBytes int64, policy EvictionPolicy) *Keyspace {
	if numShards <= 0 {
		numShards = NumShardsDefault
	}
	ks := &Keyspace{
		shards:         make([]*Shard, numShards),
		seed:           maphash.MakeSeed(),
		evictionPolicy: policy,
		maxMemoryBytes: maxMemoryBytes,
	}
	for i := range ks.shards {
		ks.shards[i] = NewShard(i)
	}
	if ks.evictionPolicy == nil {
		ks.evictionPolicy = ApproximateLRU{}
	}
	return ks
}

func (ks *Keyspace) NumShards() int { return len(ks.shards) }

// GetShard returns the shard at index.
func (ks *Keyspace) GetShard(index int) *Shard { return ks.shards[index] }

// GetShardIndex hashes key's bytes to a shard via a stable (process
// lifetime) seeded hash -- seeding once per process, not once per call,
// guarantees keys never migrate between shards at runtime.
func (ks *Keyspace) GetShardIndex(key string) int {
	var h maphash.Hash
	h.SetSeed(ks.seed)
	h.WriteString(key)
	return int(h.Sum64() % uint64(len(ks.shards)))
}

// TotalMemBytes sums the per-shard memory counters.
func (ks *Keyspace) TotalMemBytes() int64 {
	var total int64
	for _, s := range ks.shards {
		total += s.MemBytes()
	}
	return total
}

// MaxMemoryBytes returns the configured cap, or 0 if unbounded.
func (ks *Keyspace) MaxMemoryBytes() int64 { return ks.maxMemoryBytes }

// OverMemoryCap reports whether total memory exceeds the configured cap.
func (ks *Keyspace) OverMemoryCap() bool {
	return ks.maxMemoryBytes > 0 && ks.TotalMemBytes() > ks.maxMemoryBytes
}

// EvictOneKey runs the configured eviction policy against a bounded number
// of candidate shards (round-robin across the keyspace) and reports
// whether anything was evicted. Called, under DenyOOM, *before* the
// write's own shard lock is acquired.
func (ks *Keyspace) EvictOneKey(maxShardsTried int) (evicted bool, evictedKey string) {
	n := len(ks.shards)
	if maxShardsTried <= 0 || maxShardsTried > n {
		maxShardsTried = n
	}
	start := int(ks.expiryCursor.Add(1)) % n
	for i := 0; i < maxShardsTried; i++ {
		idx := (start + i) % n
		shard := ks.shards[idx]
		shard.Mu.Lock()
		key, ok := ks.evictionPolicy.Evict(shard)
		if ok {
			shard.Remove(key)
		}
		shard.Mu.Unlock()
		if ok {
			return true, key
		}
	}
	return false, ""
}

// EvictionPolicy picks a victim key within one already-locked shard, or
// reports "nothing to evict". Pluggable so callers can trade off eviction
// quality against bookkeeping cost.
type EvictionPolicy interface {
	Evict(shard *Shard) (key string, ok bool)
}

// ApproximateLRU evicts the shard's current least-recently-used key.
type ApproximateLRU struct{}

func (ApproximateLRU) Evict(shard *Shard) (string, bool) { return shard.LRUVictim() }

// TTLFirst evicts the key with the nearest expiry, falling back to LRU
// when no key has one.
type TTLFirst struct{}

func (TTLFirst) Evict(shard *Shard) (string, bool) {
	var (
		bestKey string
		bestAt  int64
		found   bool
	)
	for _, k := range shard.ExpiringKeys() {
		e, ok := shard.Peek(k)
		if !ok {
			continue
		}
		if !found || e.ExpireAtUnixNano < bestAt {
			bestKey, bestAt, found = k, e.ExpireAtUnixNano, true
		}
	}
	if found {
		return bestKey, true
	}
	return ApproximateLRU{}.Evict(shard)
}

// Random evicts an arbitrary live key.
type Random struct{}

func (Random) Evict(shard *Shard) (string, bool) {
	keys := shard.Keys()
	if len(keys) == 0 {
		return "", false
	}
	return keys[rand.Intn(len(keys))], true
}

// LFUApprox evicts the key with the oldest LRU touch as a stand-in for
// frequency: the shard tracks recency, not per-access counters, so this is
// deliberately the same signal ApproximateLRU uses. A true LFU would need
// a frequency sketch per entry.
type LFUApprox struct{ ApproximateLRU }

// ExpiryWorker cycles shards at a bounded rate, removing expired keys
// under each shard's lock.
type ExpiryWorker struct {
	ks              *Keyspace
	samplesPerCycle int
	interval        time.Duration
	onExpired       func(shardIndex int, key string)
}

func NewExpiryWorker(ks *Keyspace, samplesPerCycle int, interval time.Duration, onExpired func(int, string)) *ExpiryWorker {
	if samplesPerCycle <= 0 {
		samplesPerCycle = 20
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ExpiryWorker{ks: ks, samplesPerCycle: samplesPerCycle, interval: interval, onExpired: onExpired}
}

// RunCycle samples up to samplesPerCycle candidate keys per shard and
// removes any that are expired, returning the total removed.
func (w *ExpiryWorker) RunCycle(nowUnixNano int64) int {
	removed := 0
	for _, shard := range w.ks.shards {
		shard.Mu.Lock()
		candidates := shard.ExpiringKeys()
		if len(candidates) > w.samplesPerCycle {
			candidates = candidates[:w.samplesPerCycle]
		}
		for _, k := range candidates {
			e, ok := shard.Peek(k)
			if ok && e.ExpiredAt(nowUnixNano) {
				shard.Remove(k)
				removed++
				if w.onExpired != nil {
					w.onExpired(shard.Index, k)
				}
			}
		}
		shard.Mu.Unlock()
	}
	return removed
}

// Run cycles continuously until ctxDone is closed.
func (w *ExpiryWorker) Run(ctxDone <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.RunCycle(time.Now().UnixNano())
		case <-ctxDone:
			return
		}
	}
}
