package bloom

import (
	"testing"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/stretchr/testify/require"
)

func TestParseReserveOptionsNonScaling(t *testing.T) {
	opts, err := ParseReserveOptions([][]byte{[]byte("NONSCALING")})
	require.NoError(t, err)
	require.True(t, opts.NonScaling)
	require.Equal(t, 0, opts.Expansion)
}

func TestParseReserveOptionsExpansion(t *testing.T) {
	opts, err := ParseReserveOptions([][]byte{[]byte("EXPANSION"), []byte("4")})
	require.NoError(t, err)
	require.Equal(t, 4, opts.Expansion)
}

func TestReserveRejectsBadErrorRate(t *testing.T) {
	_, err := Reserve(0, 100, ReserveOptions{})
	require.True(t, kverrors.Is(err, kverrors.SyntaxError))
}

func TestAddAndMExists(t *testing.T) {
	v, err := Reserve(0.01, 100, ReserveOptions{Expansion: DefaultExpansion})
	require.NoError(t, err)

	added, err := Add(v, []byte("a"))
	require.NoError(t, err)
	require.True(t, added)

	added, err = Add(v, []byte("a"))
	require.NoError(t, err)
	require.False(t, added, "re-adding an existing item is not new")

	exists := MExists(v, [][]byte{[]byte("a"), []byte("b")})
	require.Equal(t, []bool{true, false}, exists)
}

func TestNonScalingFilterRejectsWhenFull(t *testing.T) {
	v := ds.NewBloom(4, 0.1, 0) // NONSCALING
	for i := 0; i < 4; i++ {
		_, err := Add(v, []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := Add(v, []byte("overflow"))
	require.True(t, kverrors.Is(err, kverrors.InvalidState))
}

func TestMAddStopsAtFirstCapacityError(t *testing.T) {
	v := ds.NewBloom(2, 0.1, 0)
	results, err := MAdd(v, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.Error(t, err)
	require.True(t, results[0])
	require.True(t, results[1])
}

func TestGetInfoReportsCapacityAndInserted(t *testing.T) {
	v := ds.NewBloom(100, 0.01, DefaultExpansion)
	_, _ = Add(v, []byte("x"))
	info := GetInfo(v)
	require.Equal(t, uint64(100), info.Capacity)
	require.Equal(t, uint64(1), info.NumItemsInserted)
	require.Equal(t, 1, info.NumFilters)
}

func TestParseInsertOptionsParsesItemsTail(t *testing.T) {
	opts, items, err := ParseInsertOptions([][]byte{
		[]byte("CAPACITY"), []byte("50"),
		[]byte("ERROR"), []byte("0.02"),
		[]byte("ITEMS"), []byte("x"), []byte("y"),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(50), opts.Capacity)
	require.Equal(t, 0.02, opts.ErrorRate)
	require.Equal(t, [][]byte{[]byte("x"), []byte("y")}, items)
}

func TestParseInsertOptionsRequiresItems(t *testing.T) {
	_, _, err := ParseInsertOptions([][]byte{[]byte("CAPACITY"), []byte("50")})
	require.Error(t, err)
}
