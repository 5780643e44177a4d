package engine

import (
	"math"
	"strings"

	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("ZADD", cmdZAdd)
	register("ZINCRBY", cmdZIncrBy)
	register("ZSCORE", cmdZScore)
	register("ZRANGE", cmdZRange)
	register("ZRANGEBYSCORE", cmdZRangeByScore)
	register("ZREMRANGEBYSCORE", cmdZRemRangeByScore)
}

func cmdZAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	pairs := ctx.Cmd.Args[2:]
	if len(pairs)%2 != 0 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for ZADD")
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, true)
	if err != nil {
		return nil, err
	}
	added := int64(0)
	for i := 0; i < len(pairs); i += 2 {
		score, err := parseFloat(pairs[i])
		if err != nil {
			return nil, err
		}
		if z.Add(string(pairs[i+1]), score) {
			added++
		}
	}
	resize(shard, key, z)
	return protocol.Int(added), nil
}

func cmdZIncrBy(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	delta, err := parseFloat(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	member := string(ctx.Cmd.Args[3])
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, true)
	if err != nil {
		return nil, err
	}
	newScore := z.IncrBy(member, delta)
	resize(shard, key, z)
	return protocol.Bulk([]byte(formatFloat(newScore))), nil
}

func cmdZScore(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return protocol.Null(), nil
	}
	score, ok := z.Score(string(ctx.Cmd.Args[2]))
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk([]byte(formatFloat(score))), nil
}

func cmdZRange(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	start, err := parseInt(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	stop, err := parseInt(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	withScores := false
	for _, a := range ctx.Cmd.Args[4:] {
		if strings.EqualFold(string(a), "WITHSCORES") {
			withScores = true
		}
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	if z != nil {
		for _, m := range z.Range(int(start), int(stop)) {
			out = append(out, protocol.Bulk([]byte(m.Member)))
			if withScores {
				out = append(out, protocol.Bulk([]byte(formatFloat(m.Score))))
			}
		}
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

// parseScoreBound parses ZRANGEBYSCORE-style bounds: "-inf"/"+inf" and a
// leading "(" for exclusive (§8 "(a (b excludes both ends").
func parseScoreBound(b []byte) (value float64, exclusive bool, err error) {
	s := string(b)
	if strings.HasPrefix(s, "(") {
		exclusive = true
		s = s[1:]
	}
	switch s {
	case "-inf":
		return negInf, exclusive, nil
	case "+inf", "inf":
		return posInf, exclusive, nil
	}
	value, perr := parseFloatStr(s)
	if perr != nil {
		return 0, false, kverrors.New(kverrors.NotAFloat, "min or max is not a float")
	}
	return value, exclusive, nil
}

func parseFloatStr(s string) (float64, error) { return parseFloat([]byte(s)) }

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)

func cmdZRangeByScore(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	min, minExcl, err := parseScoreBound(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	max, maxExcl, err := parseScoreBound(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	withScores := false
	for _, a := range ctx.Cmd.Args[4:] {
		if strings.EqualFold(string(a), "WITHSCORES") {
			withScores = true
		}
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	if z != nil {
		for _, m := range z.RangeByScore(min, max, minExcl, maxExcl) {
			out = append(out, protocol.Bulk([]byte(m.Member)))
			if withScores {
				out = append(out, protocol.Bulk([]byte(formatFloat(m.Score))))
			}
		}
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdZRemRangeByScore(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	min, minExcl, err := parseScoreBound(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	max, maxExcl, err := parseScoreBound(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return protocol.Int(0), nil
	}
	removed := z.RemoveRangeByScore(min, max, minExcl, maxExcl)
	if z.Len() == 0 {
		shard.Remove(key)
	} else {
		resize(shard, key, z)
	}
	return protocol.Int(int64(removed)), nil
}
