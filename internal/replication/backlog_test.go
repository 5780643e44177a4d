package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBacklogAddAssignsIncreasingOffsets(t *testing.T) {
	b := NewBacklog(1024)
	r1 := b.Add([]byte("abc"))
	r2 := b.Add([]byte("defgh"))
	require.Equal(t, uint64(0), r1.Offset)
	require.Equal(t, uint64(3), r2.Offset)
	require.Equal(t, uint64(8), b.NextOffset())
}

func TestBacklogGetSinceHitReturnsTail(t *testing.T) {
	b := NewBacklog(1024)
	b.Add([]byte("aa"))
	b.Add([]byte("bb"))
	b.Add([]byte("cc"))

	recs, ok := b.GetSince(2)
	require.True(t, ok)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(2), recs[0].Offset)
	require.Equal(t, uint64(4), recs[1].Offset)
}

func TestBacklogGetSinceEmptyBacklogAtHeadHits(t *testing.T) {
	b := NewBacklog(1024)
	recs, ok := b.GetSince(0)
	require.True(t, ok)
	require.Empty(t, recs)
}

func TestBacklogEvictsOldestWhenOverCapacity(t *testing.T) {
	b := NewBacklog(5)
	b.Add([]byte("aaa")) // offset 0, len 3
	b.Add([]byte("bbb")) // offset 3, len 3, total 6 > 5, evicts first
	_, ok := b.GetSince(0)
	require.False(t, ok, "offset 0 should have been evicted")

	recs, ok := b.GetSince(3)
	require.True(t, ok)
	require.Len(t, recs, 1)
}

func TestBacklogGetSinceBelowLowestRetainedMisses(t *testing.T) {
	b := NewBacklog(3)
	b.Add([]byte("aaa"))
	b.Add([]byte("bbb")) // evicts the first record

	_, ok := b.GetSince(0)
	require.False(t, ok)
}
