package engine

import (
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("LPUSH", cmdLPush)
	register("RPUSH", cmdRPush)
	register("LPOP", cmdLPop)
	register("RPOP", cmdRPop)
	register("LLEN", cmdLLen)
	register("LRANGE", cmdLRange)
}

func cmdLPush(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return pushCmd(e, ctx, true) }
func cmdRPush(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return pushCmd(e, ctx, false) }

func pushCmd(e *Engine, ctx *exec.Context, left bool) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	l, err := getList(shard, key, true)
	if err != nil {
		return nil, err
	}
	values := ctx.Cmd.Args[2:]
	if left {
		l.PushLeft(values...)
	} else {
		l.PushRight(values...)
	}
	resize(shard, key, l)
	// notify blocked readers waiting on this key (§4.G)
	e.Blocker.Notify(key)
	return protocol.Int(int64(l.Len())), nil
}

func cmdLPop(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return popCmd(ctx, true) }
func cmdRPop(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return popCmd(ctx, false) }

func popCmd(ctx *exec.Context, left bool) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	l, err := getList(shard, key, false)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return protocol.Null(), nil
	}
	var (
		v  []byte
		ok bool
	)
	if left {
		v, ok = l.PopLeft()
	} else {
		v, ok = l.PopRight()
	}
	if !ok {
		return protocol.Null(), nil
	}
	if l.Len() == 0 {
		shard.Remove(key)
	} else {
		resize(shard, key, l)
	}
	return protocol.Bulk(v), nil
}

func cmdLLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	l, err := getList(shard, key, false)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(l.Len())), nil
}

func cmdLRange(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	start, err := parseInt(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	stop, err := parseInt(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	l, err := getList(shard, key, false)
	if err != nil {
		return nil, err
	}
	var out []*protocol.Reply
	if l != nil {
		for _, v := range l.Range(int(start), int(stop)) {
			out = append(out, protocol.Bulk(v))
		}
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}
