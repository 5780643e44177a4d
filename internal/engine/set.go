package engine

import (
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("SADD", cmdSAdd)
	register("SREM", cmdSRem)
	register("SMEMBERS", cmdSMembers)
	register("SCARD", cmdSCard)
}

func cmdSAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getSet(shard, key, true)
	if err != nil {
		return nil, err
	}
	added := int64(0)
	for _, m := range ctx.Cmd.Args[2:] {
		if s.Add(string(m)) {
			added++
		}
	}
	resize(shard, key, s)
	return protocol.Int(added), nil
}

func cmdSRem(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	removed := int64(0)
	for _, m := range ctx.Cmd.Args[2:] {
		if s.Remove(string(m)) {
			removed++
		}
	}
	if s.Len() == 0 {
		shard.Remove(key)
	} else {
		resize(shard, key, s)
	}
	return protocol.Int(removed), nil
}

func cmdSMembers(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	if s != nil {
		for _, m := range s.Members() {
			out = append(out, protocol.Bulk([]byte(m)))
		}
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdSCard(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getSet(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(s.Len())), nil
}
