package engine

import (
	"github.com/adred-codev/kvengine/internal/bloom"
	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/store"
)

func init() {
	register("BF.RESERVE", cmdBFReserve)
	register("BF.ADD", cmdBFAdd)
	register("BF.MADD", cmdBFMAdd)
	register("BF.EXISTS", cmdBFExists)
	register("BF.MEXISTS", cmdBFMExists)
	register("BF.CARD", cmdBFCard)
	register("BF.INFO", cmdBFInfo)
	register("BF.INSERT", cmdBFInsert)
}

func getBloom(shard *store.Shard, key string) (*ds.BloomValue, bool, error) {
	return typedValue[*ds.BloomValue](shard, key)
}

func cmdBFReserve(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	errRate, err := parseFloat(ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	capacity, err := parseInt(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	opts, err := bloom.ParseReserveOptions(ctx.Cmd.Args[4:])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	if _, ok := shard.Peek(key); ok {
		return nil, kverrors.New(kverrors.InvalidState, "item exists")
	}
	bf, err := bloom.Reserve(errRate, uint64(capacity), opts)
	if err != nil {
		return nil, err
	}
	shard.Insert(key, &store.Entry{Value: bf, SizeBytes: entrySize(key, bf)})
	return protocol.Simple("OK"), nil
}

func cmdBFAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		bf = ds.NewBloom(100, 0.01, 2)
		shard.Insert(key, &store.Entry{Value: bf, SizeBytes: entrySize(key, bf)})
	}
	added, err := bloom.Add(bf, ctx.Cmd.Args[2])
	if err != nil {
		return nil, err
	}
	resize(shard, key, bf)
	if added {
		return protocol.Int(1), nil
	}
	return protocol.Int(0), nil
}

func cmdBFMAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		bf = ds.NewBloom(100, 0.01, 2)
		shard.Insert(key, &store.Entry{Value: bf, SizeBytes: entrySize(key, bf)})
	}
	results, err := bloom.MAdd(bf, ctx.Cmd.Args[2:])
	if err != nil {
		return nil, err
	}
	resize(shard, key, bf)
	out := make([]*protocol.Reply, len(results))
	for i, r := range results {
		out[i] = protocol.Int(boolToInt(r))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func cmdBFExists(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Int(0), nil
	}
	return protocol.Int(boolToInt(bf.Exists(ctx.Cmd.Args[2]))), nil
}

func cmdBFMExists(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	out := make([]*protocol.Reply, len(ctx.Cmd.Args[2:]))
	for i, item := range ctx.Cmd.Args[2:] {
		if !ok {
			out[i] = protocol.Int(0)
			continue
		}
		out[i] = protocol.Int(boolToInt(bf.Exists(item)))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdBFCard(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(bf.Cardinality())), nil
}

func cmdBFInfo(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	info := bloom.GetInfo(bf)
	return protocol.Array(
		protocol.Simple("Capacity"), protocol.Int(int64(info.Capacity)),
		protocol.Simple("Size"), protocol.Int(info.Size),
		protocol.Simple("Number of filters"), protocol.Int(int64(info.NumFilters)),
		protocol.Simple("Number of items inserted"), protocol.Int(int64(info.NumItemsInserted)),
		protocol.Simple("Expansion rate"), protocol.Int(int64(info.ExpansionRate)),
	), nil
}

func cmdBFInsert(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	opts, items, err := bloom.ParseInsertOptions(ctx.Cmd.Args[2:])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	bf, ok, err := getBloom(shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		if opts.NoCreate {
			return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
		}
		bf, err = bloom.Reserve(opts.ErrorRate, opts.Capacity, bloom.ReserveOptions{
			Expansion:  opts.Expansion,
			NonScaling: opts.NonScaling,
		})
		if err != nil {
			return nil, err
		}
		shard.Insert(key, &store.Entry{Value: bf, SizeBytes: entrySize(key, bf)})
	}
	results := make([]*protocol.Reply, len(items))
	for i, item := range items {
		added, err := bloom.Add(bf, item)
		if err != nil {
			return nil, err
		}
		results[i] = protocol.Int(boolToInt(added))
	}
	resize(shard, key, bf)
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: results}, nil
}
