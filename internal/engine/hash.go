package engine

import (
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("HSET", cmdHSet)
	register("HGET", cmdHGet)
	register("HDEL", cmdHDel)
	register("HGETALL", cmdHGetAll)
	register("HLEN", cmdHLen)
}

func cmdHSet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	fields := ctx.Cmd.Args[2:]
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, true)
	if err != nil {
		return nil, err
	}
	created := int64(0)
	for i := 0; i+1 < len(fields); i += 2 {
		if h.Set(string(fields[i]), append([]byte{}, fields[i+1]...)) {
			created++
		}
	}
	resize(shard, key, h)
	return protocol.Int(created), nil
}

func cmdHGet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, false)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return protocol.Null(), nil
	}
	v, ok := h.Get(string(ctx.Cmd.Args[2]))
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk(v), nil
}

func cmdHDel(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, false)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return protocol.Int(0), nil
	}
	removed := int64(0)
	for _, f := range ctx.Cmd.Args[2:] {
		if h.Del(string(f)) {
			removed++
		}
	}
	if h.Len() == 0 {
		shard.Remove(key)
	} else {
		resize(shard, key, h)
	}
	return protocol.Int(removed), nil
}

func cmdHGetAll(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	if h != nil {
		for _, f := range h.Fields() {
			v, _ := h.Get(f)
			out = append(out, protocol.Bulk([]byte(f)), protocol.Bulk(v))
		}
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdHLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, false)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(h.Len())), nil
}
