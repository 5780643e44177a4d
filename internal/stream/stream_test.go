package stream

import (
	"testing"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/stretchr/testify/require"
)

func fields(kv ...string) *ds.HashValue {
	h := ds.NewHash()
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], []byte(kv[i+1]))
	}
	return h
}

func TestAddEntryAutoIDMonotonic(t *testing.T) {
	s := New()
	id1, err := s.AddEntry(nil, 100, fields("f", "v"))
	require.NoError(t, err)
	require.Equal(t, ID{Ms: 100, Seq: 0}, id1)

	// Same clock reading bumps sequence instead of colliding.
	id2, err := s.AddEntry(nil, 100, fields("f", "v2"))
	require.NoError(t, err)
	require.Equal(t, ID{Ms: 100, Seq: 1}, id2)
	require.Equal(t, uint64(2), s.Length)
}

func TestAddEntryClockRegressionBumpsForward(t *testing.T) {
	s := New()
	_, err := s.AddEntry(nil, 500, fields("f", "v"))
	require.NoError(t, err)

	// Clock went backwards relative to last_generated_id.
	id, err := s.AddEntry(nil, 100, fields("f", "v2"))
	require.NoError(t, err)
	require.Equal(t, uint64(500), id.Ms)
	require.Equal(t, uint64(1), id.Seq)
}

func TestAddEntryExplicitIDNotGreaterFails(t *testing.T) {
	s := New()
	id := ID{Ms: 10, Seq: 0}
	_, err := s.AddEntry(&id, 10, fields("f", "v"))
	require.NoError(t, err)

	_, err = s.AddEntry(&id, 10, fields("f", "v2"))
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.InvalidState))
}

func TestAddEntryZeroZeroRejected(t *testing.T) {
	s := New()
	zero := ID{}
	_, err := s.AddEntry(&zero, 10, fields("f", "v"))
	require.Error(t, err)
}

func TestScenario2XAddThenXLen(t *testing.T) {
	s := New()
	id1, err := s.AddEntry(nil, 1000, fields("f", "v"))
	require.NoError(t, err)
	require.Equal(t, "1000-0", id1.String())

	id2, err := s.AddEntry(nil, 1000, fields("f", "v2"))
	require.NoError(t, err)
	require.Equal(t, "1000-1", id2.String())
	require.Equal(t, uint64(2), s.Length)
}

func TestScenario3ConsumerGroupLifecycle(t *testing.T) {
	s := New()
	entryID, err := s.AddEntry(nil, 1, fields("f", "v"))
	require.NoError(t, err)

	require.NoError(t, s.CreateGroup("g", ID{}))

	entries, err := s.ReadNew("g", "c1", 1, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entryID, entries[0].ID)

	g := s.Groups["g"]
	require.Equal(t, 1, g.PendingCount())
	_, hasC1Pending := g.Consumers["c1"].PendingIDs[entryID]
	require.True(t, hasC1Pending)

	n, err := s.Ack("g", []ID{entryID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	summary, err := s.PendingSummary("g")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Count)
	require.False(t, summary.HasRange)
	require.Empty(t, summary.PerConsumer)
}

func TestTrimRemovesOldest(t *testing.T) {
	s := New()
	for i := uint64(1); i <= 5; i++ {
		id := ID{Ms: i}
		_, err := s.AddEntry(&id, i, fields("f", "v"))
		require.NoError(t, err)
	}
	removed := s.Trim(2, false)
	require.Equal(t, 3, removed)
	require.Equal(t, uint64(2), s.Length)
	_, ok := s.Get(ID{Ms: 1})
	require.False(t, ok)
	_, ok = s.Get(ID{Ms: 5})
	require.True(t, ok)
}

func TestClaimReassignsAfterMinIdle(t *testing.T) {
	s := New()
	id, err := s.AddEntry(nil, 1, fields("f", "v"))
	require.NoError(t, err)
	require.NoError(t, s.CreateGroup("g", ID{}))
	_, err = s.ReadNew("g", "c1", 10, 1000, false)
	require.NoError(t, err)

	// Not idle enough yet.
	claimed, err := s.Claim("g", "c2", []ID{id}, 1500, ClaimOptions{MinIdleMs: 1000})
	require.NoError(t, err)
	require.Empty(t, claimed)

	claimed, err = s.Claim("g", "c2", []ID{id}, 5000, ClaimOptions{MinIdleMs: 1000})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	g := s.Groups["g"]
	_, c1Has := g.Consumers["c1"].PendingIDs[id]
	require.False(t, c1Has)
	_, c2Has := g.Consumers["c2"].PendingIDs[id]
	require.True(t, c2Has)
}

func TestAutoClaimScansFromCursor(t *testing.T) {
	s := New()
	var ids []ID
	for i := uint64(1); i <= 3; i++ {
		id, err := s.AddEntry(nil, i, fields("f", "v"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, s.CreateGroup("g", ID{}))
	_, err := s.ReadNew("g", "c1", 10, 10, false)
	require.NoError(t, err)

	claimed, next, err := s.AutoClaim("g", "c2", ID{}, 0, 20, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, ids[2], next)
}

func TestNoGroupError(t *testing.T) {
	s := New()
	_, err := s.ReadNew("missing", "c1", 1, 1, false)
	require.Error(t, err)
	require.True(t, kverrors.Is(err, kverrors.ConsumerGroupNotFound))
}

func TestCreateGroupBusyGroup(t *testing.T) {
	s := New()
	require.NoError(t, s.CreateGroup("g", ID{}))
	err := s.CreateGroup("g", ID{})
	require.Error(t, err)
}
