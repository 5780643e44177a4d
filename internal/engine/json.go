package engine

import (
	"encoding/json"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/jsonval"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/store"
)

func init() {
	register("JSON.SET", cmdJSONSet)
	register("JSON.GET", cmdJSONGet)
	register("JSON.DEL", cmdJSONDel)
	register("JSON.TYPE", cmdJSONType)
	register("JSON.ARRLEN", cmdJSONArrLen)
	register("JSON.ARRAPPEND", cmdJSONArrAppend)
	register("JSON.ARRINSERT", cmdJSONArrInsert)
	register("JSON.ARRPOP", cmdJSONArrPop)
	register("JSON.ARRINDEX", cmdJSONArrIndex)
	register("JSON.ARRTRIM", cmdJSONArrTrim)
	register("JSON.OBJKEYS", cmdJSONObjKeys)
	register("JSON.OBJLEN", cmdJSONObjLen)
	register("JSON.STRLEN", cmdJSONStrLen)
	register("JSON.STRAPPEND", cmdJSONStrAppend)
	register("JSON.NUMINCRBY", cmdJSONNumIncrBy)
	register("JSON.NUMMULTBY", cmdJSONNumMultBy)
	register("JSON.TOGGLE", cmdJSONToggle)
	register("JSON.CLEAR", cmdJSONClear)
	register("JSON.MGET", cmdJSONMGet)
	register("JSON.MERGE", cmdJSONMerge)
}

func getJSON(shard *store.Shard, key string, create bool) (*ds.JSONValue, error) {
	v, ok, err := typedValue[*ds.JSONValue](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		j := ds.NewJSON(nil)
		shard.Insert(key, &store.Entry{Value: j, SizeBytes: entrySize(key, j)})
		return j, nil
	}
	return v, nil
}

func pathArg(args [][]byte, i int, def string) (jsonval.Path, error) {
	raw := def
	if i < len(args) {
		raw = string(args[i])
	}
	return jsonval.ParsePath(raw)
}

func decodeJSONArg(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, kverrors.New(kverrors.SyntaxError, "invalid JSON value")
	}
	return v, nil
}

func encodeJSONReply(v any) (*protocol.Reply, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, kverrors.New(kverrors.Internal, "failed to encode JSON reply")
	}
	return protocol.Bulk(b), nil
}

func cmdJSONSet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	newValue, err := decodeJSONArg(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	nx, xx := false, false
	for _, a := range ctx.Cmd.Args[4:] {
		switch string(a) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		}
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	existed := j != nil
	if path.IsRoot() {
		if nx && existed {
			return protocol.Null(), nil
		}
		if xx && !existed {
			return protocol.Null(), nil
		}
		if j == nil {
			j = ds.NewJSON(newValue)
			shard.Insert(key, &store.Entry{Value: j, SizeBytes: entrySize(key, j)})
		} else {
			j.Doc = newValue
			j.Recompute()
			resize(shard, key, j)
		}
		return protocol.Simple("OK"), nil
	}
	if j == nil {
		if xx {
			return protocol.Null(), nil
		}
		j = ds.NewJSON(map[string]any{})
		shard.Insert(key, &store.Entry{Value: j, SizeBytes: entrySize(key, j)})
	}
	_, count, err := jsonval.Set(j.Doc, path, newValue)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return protocol.Null(), nil
	}
	j.Recompute()
	resize(shard, key, j)
	return protocol.Simple("OK"), nil
}

func cmdJSONGet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	paths := ctx.Cmd.Args[2:]
	if len(paths) == 0 {
		return encodeJSONReply(j.Doc)
	}
	if len(paths) == 1 {
		path, err := jsonval.ParsePath(string(paths[0]))
		if err != nil {
			return nil, err
		}
		matches, err := jsonval.Get(j.Doc, path)
		if err != nil {
			return nil, err
		}
		if path.IsRoot() {
			return encodeJSONReply(j.Doc)
		}
		return encodeJSONReply(matches)
	}
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		path, err := jsonval.ParsePath(string(p))
		if err != nil {
			return nil, err
		}
		matches, err := jsonval.Get(j.Doc, path)
		if err != nil {
			return nil, err
		}
		out[path.String()] = matches
	}
	return encodeJSONReply(out)
}

func cmdJSONDel(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Int(0), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	if path.IsRoot() {
		shard.Remove(key)
		return protocol.Int(1), nil
	}
	newRoot, count := jsonval.Del(j.Doc, path)
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(count)), nil
}

func cmdJSONType(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Null(), nil
	}
	return protocol.Bulk([]byte(jsonval.TypeOf(matches[0]))), nil
}

func cmdJSONArrLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Null(), nil
	}
	n, err := jsonval.ArrLen(matches[0])
	if err != nil {
		return nil, err
	}
	return protocol.Int(int64(n)), nil
}

func cmdJSONArrAppend(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(ctx.Cmd.Args[3:]))
	for _, a := range ctx.Cmd.Args[3:] {
		v, err := decodeJSONArg(a)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	newRoot, newLen, err := jsonval.ArrAppend(j.Doc, path, items...)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(newLen)), nil
}

func cmdJSONArrInsert(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	idx, err := parseInt(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(ctx.Cmd.Args[4:]))
	for _, a := range ctx.Cmd.Args[4:] {
		v, err := decodeJSONArg(a)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	newRoot, newLen, err := jsonval.ArrInsert(j.Doc, path, int(idx), items...)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(newLen)), nil
}

func cmdJSONArrPop(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	idx := int64(-1)
	if len(ctx.Cmd.Args) > 3 {
		idx, err = parseInt(ctx.Cmd.Args[3])
		if err != nil {
			return nil, err
		}
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	newRoot, popped, err := jsonval.ArrPop(j.Doc, path, int(idx))
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	if popped == nil {
		return protocol.Null(), nil
	}
	return encodeJSONReply(popped)
}

func cmdJSONArrIndex(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	value, err := decodeJSONArg(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Int(-1), nil
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Int(-1), nil
	}
	idx, err := jsonval.ArrIndex(matches[0], value)
	if err != nil {
		return nil, err
	}
	return protocol.Int(int64(idx)), nil
}

func cmdJSONArrTrim(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	start, err := parseInt(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	stop, err := parseInt(ctx.Cmd.Args[4])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Int(0), nil
	}
	newRoot, newLen, err := jsonval.ArrTrim(j.Doc, path, int(start), int(stop))
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(newLen)), nil
}

func cmdJSONObjKeys(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Null(), nil
	}
	keys, err := jsonval.ObjKeys(matches[0])
	if err != nil {
		return nil, err
	}
	out := make([]*protocol.Reply, len(keys))
	for i, k := range keys {
		out[i] = protocol.Bulk([]byte(k))
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdJSONObjLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Null(), nil
	}
	n, err := jsonval.ObjLen(matches[0])
	if err != nil {
		return nil, err
	}
	return protocol.Int(int64(n)), nil
}

func cmdJSONStrLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Null(), nil
	}
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	matches, err := jsonval.Get(j.Doc, path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return protocol.Null(), nil
	}
	n, err := jsonval.StrLen(matches[0])
	if err != nil {
		return nil, err
	}
	return protocol.Int(int64(n)), nil
}

func cmdJSONStrAppend(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	var path jsonval.Path
	var suffixArg []byte
	var err error
	if len(ctx.Cmd.Args) > 3 {
		path, err = jsonval.ParsePath(string(ctx.Cmd.Args[2]))
		if err != nil {
			return nil, err
		}
		suffixArg = ctx.Cmd.Args[3]
	} else {
		path, _ = jsonval.ParsePath("$")
		suffixArg = ctx.Cmd.Args[2]
	}
	suffixVal, err := decodeJSONArg(suffixArg)
	if err != nil {
		return nil, err
	}
	suffix, ok := suffixVal.(string)
	if !ok {
		return nil, kverrors.New(kverrors.WrongType, "value is not a string")
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	newRoot, newLen, err := jsonval.StrAppend(j.Doc, path, suffix)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(newLen)), nil
}

func cmdJSONNumIncrBy(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	return jsonNumOp(ctx, func(j *ds.JSONValue, path jsonval.Path, n float64) (any, []float64, error) {
		return jsonval.NumIncrBy(j.Doc, path, n)
	})
}

func cmdJSONNumMultBy(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	return jsonNumOp(ctx, func(j *ds.JSONValue, path jsonval.Path, n float64) (any, []float64, error) {
		return jsonval.NumMultBy(j.Doc, path, n)
	})
}

func jsonNumOp(ctx *exec.Context, f func(*ds.JSONValue, jsonval.Path, float64) (any, []float64, error)) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	n, err := parseFloat(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	newRoot, results, err := f(j, path, n)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return encodeJSONReply(results)
}

func cmdJSONToggle(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, kverrors.New(kverrors.KeyNotFound, "key does not exist")
	}
	newRoot, results, err := jsonval.Toggle(j.Doc, path)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return encodeJSONReply(results)
}

func cmdJSONClear(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := pathArg(ctx.Cmd.Args, 2, "$")
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, false)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return protocol.Int(0), nil
	}
	newRoot, cleared, err := jsonval.Clear(j.Doc, path)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Int(int64(cleared)), nil
}

func cmdJSONMGet(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	n := len(ctx.Cmd.Args)
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[n-1]))
	if err != nil {
		return nil, err
	}
	keys := ctx.Cmd.Args[1 : n-1]
	out := make([]*protocol.Reply, len(keys))
	for i, k := range keys {
		key := string(k)
		shard := ctx.ShardFor(key)
		j, err := getJSON(shard, key, false)
		if err != nil {
			return nil, err
		}
		if j == nil {
			out[i] = protocol.Null()
			continue
		}
		matches, err := jsonval.Get(j.Doc, path)
		if err != nil {
			return nil, err
		}
		r, err := encodeJSONReply(matches)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdJSONMerge(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	path, err := jsonval.ParsePath(string(ctx.Cmd.Args[2]))
	if err != nil {
		return nil, err
	}
	patch, err := decodeJSONArg(ctx.Cmd.Args[3])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	j, err := getJSON(shard, key, true)
	if err != nil {
		return nil, err
	}
	newRoot, err := jsonval.Merge(j.Doc, path, patch)
	if err != nil {
		return nil, err
	}
	j.Doc = newRoot
	j.Recompute()
	resize(shard, key, j)
	return protocol.Simple("OK"), nil
}
