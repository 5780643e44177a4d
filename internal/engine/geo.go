// Geospatial commands are layered directly over the SortedSet variant
// (§6): a geohash-encoded score per member, exactly the storage GEOADD et
// al use on the real protocol, so no separate stored-value kind is needed.
package engine

import (
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/geo"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("GEOADD", cmdGeoAdd)
	register("GEOPOS", cmdGeoPos)
	register("GEODIST", cmdGeoDist)
	register("GEOSEARCH", cmdGeoSearch)
}

func cmdGeoAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	triples := ctx.Cmd.Args[2:]
	if len(triples)%3 != 0 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for GEOADD")
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, true)
	if err != nil {
		return nil, err
	}
	added := int64(0)
	for i := 0; i < len(triples); i += 3 {
		lon, err := parseFloat(triples[i])
		if err != nil {
			return nil, err
		}
		lat, err := parseFloat(triples[i+1])
		if err != nil {
			return nil, err
		}
		member := string(triples[i+2])
		created, err := geo.Add(z, member, lon, lat)
		if err != nil {
			return nil, err
		}
		if created {
			added++
		}
	}
	resize(shard, key, z)
	return protocol.Int(added), nil
}

func cmdGeoPos(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	for _, a := range ctx.Cmd.Args[2:] {
		if z == nil {
			out = append(out, protocol.Null())
			continue
		}
		lon, lat, ok := geo.Pos(z, string(a))
		if !ok {
			out = append(out, protocol.Null())
			continue
		}
		out = append(out, protocol.Array(
			protocol.Bulk([]byte(formatFloat(lon))),
			protocol.Bulk([]byte(formatFloat(lat))),
		))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdGeoDist(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	m1, m2 := string(ctx.Cmd.Args[2]), string(ctx.Cmd.Args[3])
	unit := "m"
	if len(ctx.Cmd.Args) > 4 {
		unit = string(ctx.Cmd.Args[4])
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return protocol.Null(), nil
	}
	dist, err := geo.Dist(z, m1, m2, unit)
	if err != nil {
		return protocol.Null(), nil
	}
	return protocol.Bulk([]byte(formatFloat(dist))), nil
}

// cmdGeoSearch implements a FROMLONLAT/BYRADIUS-only subset of GEOSEARCH:
// <key> FROMLONLAT <lon> <lat> BYRADIUS <radius> <unit>.
func cmdGeoSearch(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return &protocol.Reply{Kind: protocol.ReplyArray}, nil
	}
	args := ctx.Cmd.Args[2:]
	var lon, lat, radius float64
	unit := "m"
	for i := 0; i < len(args); i++ {
		switch string(args[i]) {
		case "FROMLONLAT":
			lon, _ = parseFloat(args[i+1])
			lat, _ = parseFloat(args[i+2])
			i += 2
		case "BYRADIUS":
			radius, _ = parseFloat(args[i+1])
			unit = string(args[i+2])
			i += 2
		}
	}
	mult, ok := geo.UnitMultiplier(unit)
	if !ok {
		mult = 1
	}
	results := geo.SearchByRadius(z, lon, lat, radius*mult)
	out := make([]*protocol.Reply, len(results))
	for i, r := range results {
		out[i] = protocol.Bulk([]byte(r.Member))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}
