package engine

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/store"
)

func init() {
	register("GET", cmdGet)
	register("SET", cmdSet)
	register("INCR", cmdIncr)
	register("DECR", cmdDecr)
	register("INCRBY", cmdIncrBy)
	register("INCRBYFLOAT", cmdIncrByFloat)
	register("APPEND", cmdAppend)
	register("STRLEN", cmdStrlen)
	register("GETRANGE", cmdGetRange)
	register("SETRANGE", cmdSetRange)
	register("MGET", cmdMGet)
	register("MSET", cmdMSet)
	register("MSETNX", cmdMSetNX)
	register("GETSET", cmdGetSet)
	register("GETDEL", cmdGetDel)
	register("GETEX", cmdGetEx)
}

func cmdGet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk(s.Data), nil
}

// cmdSet implements SET with NX/XX/EX/PX/EXAT/PXAT/KEEPTTL/GET.
func cmdSet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args
	key, value := string(args[1]), args[2]
	shard := ctx.ShardFor(key)

	var (
		nx, xx, keepTTL, getOld bool
		expireAt                int64 // 0 == no expiry
	)
	now := time.Now()
	for i := 3; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "KEEPTTL":
			keepTTL = true
		case "GET":
			getOld = true
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return nil, kverrors.New(kverrors.SyntaxError, "syntax error")
			}
			n, err := parseInt(args[i+1])
			if err != nil {
				return nil, err
			}
			i++
			switch opt {
			case "EX":
				expireAt = now.Add(time.Duration(n) * time.Second).UnixNano()
			case "PX":
				expireAt = now.Add(time.Duration(n) * time.Millisecond).UnixNano()
			case "EXAT":
				expireAt = time.Unix(n, 0).UnixNano()
			case "PXAT":
				expireAt = time.UnixMilli(n).UnixNano()
			}
		default:
			return nil, kverrors.New(kverrors.SyntaxError, "syntax error")
		}
	}

	existing, existed, err := getString(shard, key)
	if err != nil && !getOld {
		return nil, err
	}

	var oldReply *protocol.Reply
	if getOld {
		if err != nil {
			return nil, err
		}
		if existed {
			oldReply = protocol.Bulk(existing.Data)
		} else {
			oldReply = protocol.Null()
		}
	}

	if (nx && existed) || (xx && !existed) {
		if getOld {
			return oldReply, nil
		}
		return protocol.Null(), nil
	}

	newEntry := &store.Entry{Value: ds.NewString(append([]byte{}, value...))}
	if keepTTL && existed {
		prevEntry, _ := shard.Peek(key)
		newEntry.ExpireAtUnixNano = prevEntry.ExpireAtUnixNano
	} else if expireAt != 0 {
		newEntry.ExpireAtUnixNano = expireAt
	}
	newEntry.SizeBytes = entrySize(key, newEntry.Value)
	shard.Insert(key, newEntry)

	if getOld {
		return oldReply, nil
	}
	return protocol.Simple("OK"), nil
}

func cmdIncr(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return incrBy(ctx, 1) }
func cmdDecr(e *Engine, ctx *exec.Context) (*protocol.Reply, error) { return incrBy(ctx, -1) }

func cmdIncrBy(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	n, err := parseInt(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	return incrBy(ctx, n)
}

func incrBy(ctx *exec.Context, delta int64) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	cur := int64(0)
	if ok {
		cur, err = parseInt(s.Data)
		if err != nil {
			return nil, err
		}
	}
	sum := cur + delta
	if (delta > 0 && sum < cur) || (delta < 0 && sum > cur) {
		return nil, kverrors.New(kverrors.Overflow, "increment or decrement would overflow")
	}
	nv := ds.NewString([]byte(formatInt(sum)))
	shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	return protocol.Int(sum), nil
}

func cmdIncrByFloat(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	delta, err := parseFloat(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	cur := float64(0)
	if ok {
		cur, err = parseFloat(s.Data)
		if err != nil {
			return nil, err
		}
	}
	sum := cur + delta
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, kverrors.New(kverrors.Overflow, "increment would produce NaN or Infinity")
	}
	nv := ds.NewString([]byte(formatFloat(sum)))
	shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	return protocol.Bulk(nv.Data), nil
}

func cmdAppend(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	suffix := ctx.Cmd.Args[2]
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	var data []byte
	if ok {
		data = append(append([]byte{}, s.Data...), suffix...)
	} else {
		data = append([]byte{}, suffix...)
	}
	nv := ds.NewString(data)
	shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	return protocol.Int(int64(len(data))), nil
}

func cmdStrlen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(len(s.Data))), nil
}

func cmdGetRange(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
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
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Bulk([]byte{}), nil
	}
	n := len(s.Data)
	lo := normalizeIdx(int(start), n)
	hi := normalizeIdx(int(stop), n)
	if hi >= n {
		hi = n - 1
	}
	if lo > hi || n == 0 {
		return protocol.Bulk([]byte{}), nil
	}
	return protocol.Bulk(append([]byte{}, s.Data[lo:hi+1]...)), nil
}

func normalizeIdx(idx, n int) int {
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// cmdSetRange zero-pads when offset+value extends beyond the current
// length (§8 boundary behavior).
func cmdSetRange(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	offset, err := parseInt(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	value := ctx.Cmd.Args[3]
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	var data []byte
	if ok {
		data = append([]byte{}, s.Data...)
	}
	need := int(offset) + len(value)
	if need > len(data) {
		data = append(data, make([]byte, need-len(data))...)
	}
	copy(data[offset:], value)
	nv := ds.NewString(data)
	shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	return protocol.Int(int64(len(data))), nil
}

func cmdMGet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	var out []*protocol.Reply
	for _, a := range ctx.Cmd.Args[1:] {
		key := string(a)
		shard := ctx.ShardFor(key)
		s, ok, err := getString(shard, key)
		if err != nil || !ok {
			out = append(out, protocol.Null())
			continue
		}
		out = append(out, protocol.Bulk(s.Data))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdMSet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	if len(args)%2 != 0 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for MSET")
	}
	for i := 0; i < len(args); i += 2 {
		key := string(args[i])
		shard := ctx.ShardFor(key)
		nv := ds.NewString(append([]byte{}, args[i+1]...))
		shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	}
	return protocol.Simple("OK"), nil
}

func cmdMSetNX(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	if len(args)%2 != 0 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for MSETNX")
	}
	for i := 0; i < len(args); i += 2 {
		key := string(args[i])
		shard := ctx.ShardFor(key)
		if _, ok := shard.Peek(key); ok {
			return protocol.Int(0), nil
		}
	}
	for i := 0; i < len(args); i += 2 {
		key := string(args[i])
		shard := ctx.ShardFor(key)
		nv := ds.NewString(append([]byte{}, args[i+1]...))
		shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	}
	return protocol.Int(1), nil
}

func cmdGetSet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	old, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	nv := ds.NewString(append([]byte{}, ctx.Cmd.Args[2]...))
	shard.Insert(key, &store.Entry{Value: nv, SizeBytes: entrySize(key, nv)})
	if !ok {
		return protocol.Null(), nil
	}
	return protocol.Bulk(old.Data), nil
}

func cmdGetDel(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Null(), nil
	}
	shard.Remove(key)
	return protocol.Bulk(s.Data), nil
}

func cmdGetEx(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, ok, err := getString(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Null(), nil
	}
	args := ctx.Cmd.Args[2:]
	now := time.Now()
	for i := 0; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		entry, _ := shard.Peek(key)
		switch opt {
		case "PERSIST":
			entry.ExpireAtUnixNano = 0
			shard.Touch(key)
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return nil, kverrors.New(kverrors.SyntaxError, "syntax error")
			}
			n, err := parseInt(args[i+1])
			if err != nil {
				return nil, err
			}
			i++
			switch opt {
			case "EX":
				entry.ExpireAtUnixNano = now.Add(time.Duration(n) * time.Second).UnixNano()
			case "PX":
				entry.ExpireAtUnixNano = now.Add(time.Duration(n) * time.Millisecond).UnixNano()
			case "EXAT":
				entry.ExpireAtUnixNano = time.Unix(n, 0).UnixNano()
			case "PXAT":
				entry.ExpireAtUnixNano = time.UnixMilli(n).UnixNano()
			}
			shard.Touch(key)
		}
	}
	return protocol.Bulk(s.Data), nil
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
