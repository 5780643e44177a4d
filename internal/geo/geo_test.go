package geo

import (
	"testing"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeScoreRoundTripsApproximately(t *testing.T) {
	lon, lat := -122.27652, 37.80574 // Oakland
	score := EncodeScore(lon, lat)
	dlon, dlat := DecodeScore(score)
	require.InDelta(t, lon, dlon, 0.001)
	require.InDelta(t, lat, dlat, 0.001)
}

func TestAddRejectsOutOfRangeCoordinates(t *testing.T) {
	z := ds.NewSortedSet()
	_, err := Add(z, "x", 200, 0)
	require.Error(t, err)
}

func TestPosReturnsStoredCoordinates(t *testing.T) {
	z := ds.NewSortedSet()
	_, err := Add(z, "sf", -122.4194, 37.7749)
	require.NoError(t, err)

	lon, lat, ok := Pos(z, "sf")
	require.True(t, ok)
	require.InDelta(t, -122.4194, lon, 0.001)
	require.InDelta(t, 37.7749, lat, 0.001)
}

func TestDistBetweenKnownPointsIsApproximatelyCorrect(t *testing.T) {
	z := ds.NewSortedSet()
	_, _ = Add(z, "sf", -122.4194, 37.7749)
	_, _ = Add(z, "oakland", -122.27652, 37.80574)

	km, err := Dist(z, "sf", "oakland", "km")
	require.NoError(t, err)
	require.InDelta(t, 13, km, 2) // roughly 13km apart
}

func TestSearchByRadiusReturnsAscendingByDistance(t *testing.T) {
	z := ds.NewSortedSet()
	_, _ = Add(z, "near", -122.4190, 37.7750)
	_, _ = Add(z, "far", -122.2000, 37.9000)

	results := SearchByRadius(z, -122.4194, 37.7749, 5000)
	require.Len(t, results, 1)
	require.Equal(t, "near", results[0].Member)
}

func TestSearchByBoxFiltersOutsideBounds(t *testing.T) {
	z := ds.NewSortedSet()
	_, _ = Add(z, "center", -122.4194, 37.7749)
	_, _ = Add(z, "outside", -121.0, 38.5)

	results := SearchByBox(z, -122.4194, 37.7749, 10000, 10000)
	require.Len(t, results, 1)
	require.Equal(t, "center", results[0].Member)
}
