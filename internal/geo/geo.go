package geo

import (
	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
)

// Add stores (member, lon, lat) in the backing sorted set using the
// interleaved geohash as the member's score, returning whether the
// member was newly added.
func Add(z *ds.SortedSetValue, member string, lon, lat float64) (bool, error) {
	if lon < lonMin || lon > lonMax || lat < latMin || lat > latMax {
		return false, kverrors.Newf(kverrors.InvalidState, "invalid longitude,latitude pair %f,%f", lon, lat)
	}
	score := EncodeScore(lon, lat)
	return z.Add(member, float64(score)), nil
}

// Pos returns the decoded (lon, lat) for member, or ok=false if absent.
func Pos(z *ds.SortedSetValue, member string) (lon, lat float64, ok bool) {
	score, exists := z.Score(member)
	if !exists {
		return 0, 0, false
	}
	lon, lat = DecodeScore(uint64(score))
	return lon, lat, true
}

// Dist returns the distance between two members in the requested unit.
func Dist(z *ds.SortedSetValue, member1, member2, unit string) (float64, error) {
	mult, ok := UnitMultiplier(unit)
	if !ok {
		return 0, kverrors.Newf(kverrors.SyntaxError, "unsupported unit %q", unit)
	}
	lon1, lat1, ok1 := Pos(z, member1)
	lon2, lat2, ok2 := Pos(z, member2)
	if !ok1 || !ok2 {
		return 0, kverrors.New(kverrors.KeyNotFound, "one or both members not found")
	}
	return HaversineMeters(lon1, lat1, lon2, lat2) / mult, nil
}

// SearchResult is one GEOSEARCH match.
type SearchResult struct {
	Member    string
	DistanceM float64
	Lon, Lat  float64
}

// SearchByRadius returns every member within radiusM meters of (lon, lat),
// ascending by distance.
func SearchByRadius(z *ds.SortedSetValue, lon, lat, radiusM float64) []SearchResult {
	var out []SearchResult
	for _, m := range z.All() {
		mlon, mlat := DecodeScore(uint64(m.Score))
		d := HaversineMeters(lon, lat, mlon, mlat)
		if d <= radiusM {
			out = append(out, SearchResult{Member: m.Member, DistanceM: d, Lon: mlon, Lat: mlat})
		}
	}
	sortByDistance(out)
	return out
}

// SearchByBox returns every member within a width x height (meters)
// bounding box centered on (lon, lat), approximated via equirectangular
// projection around the center -- adequate for the box widths GEOSEARCH
// is used for, not for antimeridian-spanning boxes.
func SearchByBox(z *ds.SortedSetValue, lon, lat, widthM, heightM float64) []SearchResult {
	var out []SearchResult
	for _, m := range z.All() {
		mlon, mlat := DecodeScore(uint64(m.Score))
		dx := HaversineMeters(lon, mlat, mlon, mlat)
		dy := HaversineMeters(mlon, lat, mlon, mlat)
		if dx <= widthM/2 && dy <= heightM/2 {
			d := HaversineMeters(lon, lat, mlon, mlat)
			out = append(out, SearchResult{Member: m.Member, DistanceM: d, Lon: mlon, Lat: mlat})
		}
	}
	sortByDistance(out)
	return out
}

func sortByDistance(res []SearchResult) {
	for i := 1; i < len(res); i++ {
		for j := i; j > 0 && res[j].DistanceM < res[j-1].DistanceM; j-- {
			res[j], res[j-1] = res[j-1], res[j]
		}
	}
}
