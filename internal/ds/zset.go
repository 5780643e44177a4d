package ds

import "sort"

// ZMember is one (member, score) pair, ordered by (score, member):
// identical scores break ties lexicographically on member bytes.
type ZMember struct {
	Member string
	Score  float64
}

// SortedSetValue is the SortedSet variant: members with f64 score ordered
// by (score, member). Backed by a score-sorted slice plus a lookup map,
// not a skip list -- ZADD/ZREM are O(n) but the engine's budget is
// correctness under concurrency, not micro-benchmarked throughput.
type SortedSetValue struct {
	byScore []ZMember // sorted by (Score, Member)
	byMem   map[string]float64
	size    int64
}

func NewSortedSet() *SortedSetValue {
	return &SortedSetValue{byMem: make(map[string]float64)}
}

func (v *SortedSetValue) Kind() Kind     { return KindSortedSet }
func (v *SortedSetValue) MemSize() int64 { return v.size }
func (v *SortedSetValue) Len() int       { return len(v.byMem) }

func less(a, b ZMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

func (v *SortedSetValue) find(m ZMember) int {
	return sort.Search(len(v.byScore), func(i int) bool {
		return !less(v.byScore[i], m)
	})
}

// Add inserts or updates a member's score, returning whether it was newly
// added (as opposed to re-scored).
func (v *SortedSetValue) Add(member string, score float64) (created bool) {
	if oldScore, ok := v.byMem[member]; ok {
		if oldScore == score {
			return false
		}
		v.removeFromSorted(ZMember{Member: member, Score: oldScore})
		v.byMem[member] = score
		v.insertSorted(ZMember{Member: member, Score: score})
		return false
	}
	v.byMem[member] = score
	v.insertSorted(ZMember{Member: member, Score: score})
	v.size += int64(len(member))
	return true
}

func (v *SortedSetValue) insertSorted(m ZMember) {
	i := v.find(m)
	v.byScore = append(v.byScore, ZMember{})
	copy(v.byScore[i+1:], v.byScore[i:])
	v.byScore[i] = m
}

func (v *SortedSetValue) removeFromSorted(m ZMember) {
	i := v.find(m)
	if i < len(v.byScore) && v.byScore[i] == m {
		v.byScore = append(v.byScore[:i], v.byScore[i+1:]...)
	}
}

func (v *SortedSetValue) Score(member string) (float64, bool) {
	s, ok := v.byMem[member]
	return s, ok
}

func (v *SortedSetValue) IncrBy(member string, delta float64) float64 {
	newScore := delta
	if old, ok := v.byMem[member]; ok {
		newScore = old + delta
	}
	v.Add(member, newScore)
	return newScore
}

func (v *SortedSetValue) Remove(member string) bool {
	score, ok := v.byMem[member]
	if !ok {
		return false
	}
	delete(v.byMem, member)
	v.removeFromSorted(ZMember{Member: member, Score: score})
	v.size -= int64(len(member))
	return true
}

// Range returns members ordered by (score, member) for Redis-style
// (possibly negative) indices, inclusive.
func (v *SortedSetValue) Range(start, stop int) []ZMember {
	n := len(v.byScore)
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	out := make([]ZMember, stop-start+1)
	copy(out, v.byScore[start:stop+1])
	return out
}

// RangeByScore returns members with min <= score <= max (or strict per
// minExcl/maxExcl), matching ZRANGEBYSCORE's "(a (b" exclusion semantics.
func (v *SortedSetValue) RangeByScore(min, max float64, minExcl, maxExcl bool) []ZMember {
	var out []ZMember
	for _, m := range v.byScore {
		if m.Score < min || (minExcl && m.Score == min) {
			continue
		}
		if m.Score > max || (maxExcl && m.Score == max) {
			break
		}
		out = append(out, m)
	}
	return out
}

// RemoveRangeByScore removes members in [min,max] (or strict per
// minExcl/maxExcl) and returns the removed count.
func (v *SortedSetValue) RemoveRangeByScore(min, max float64, minExcl, maxExcl bool) int {
	victims := v.RangeByScore(min, max, minExcl, maxExcl)
	for _, m := range victims {
		v.Remove(m.Member)
	}
	return len(victims)
}

// All returns every member in sorted order.
func (v *SortedSetValue) All() []ZMember {
	out := make([]ZMember, len(v.byScore))
	copy(out, v.byScore)
	return out
}
