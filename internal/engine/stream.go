package engine

import (
	"strings"
	"time"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/store"
	"github.com/adred-codev/kvengine/internal/stream"
)

func init() {
	register("XADD", cmdXAdd)
	register("XLEN", cmdXLen)
	register("XRANGE", cmdXRange)
	register("XREAD", cmdXRead)
	register("XREADGROUP", cmdXReadGroup)
	register("XACK", cmdXAck)
	register("XCLAIM", cmdXClaim)
	register("XAUTOCLAIM", cmdXAutoClaim)
	register("XGROUP", cmdXGroup)
	register("XPENDING", cmdXPending)
	register("XTRIM", cmdXTrim)
	register("XDEL", cmdXDel)
}

func getStream(shard *store.Shard, key string, create bool) (*stream.Stream, error) {
	v, ok, err := typedValue[*stream.Stream](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		s := stream.New()
		shard.Insert(key, &store.Entry{Value: s, SizeBytes: entrySize(key, s)})
		return s, nil
	}
	return v, nil
}

func nowMsI64() int64 { return time.Now().UnixMilli() }

func entryReply(e *stream.Entry) *protocol.Reply {
	fields := e.Fields.Fields()
	arr := make([]*protocol.Reply, 0, len(fields)*2)
	for _, f := range fields {
		v, _ := e.Fields.Get(f)
		arr = append(arr, protocol.Bulk([]byte(f)), protocol.Bulk(v))
	}
	return protocol.Array(
		protocol.Bulk([]byte(e.ID.String())),
		&protocol.Reply{Kind: protocol.ReplyArray, Array: arr},
	)
}

func entriesReply(entries []*stream.Entry) *protocol.Reply {
	out := make([]*protocol.Reply, len(entries))
	for i, e := range entries {
		out[i] = entryReply(e)
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}
}

// cmdXAdd implements XADD key [NOMKSTREAM] [MAXLEN [~|=] n] <* | id> field
// value [field value ...].
func cmdXAdd(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	args := ctx.Cmd.Args[2:]
	noMkStream := false
	var maxLen int = -1
	approx := false
	i := 0
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "NOMKSTREAM":
			noMkStream = true
			i++
		case "MAXLEN":
			i++
			if i < len(args) && (args[i][0] == '~' || args[i][0] == '=') {
				approx = args[i][0] == '~'
				i++
			}
			n, err := parseInt(args[i])
			if err != nil {
				return nil, err
			}
			maxLen = int(n)
			i++
		default:
			goto idField
		}
	}
idField:
	if i >= len(args) {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for XADD")
	}
	idArg := string(args[i])
	i++
	rest := args[i:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for XADD")
	}

	shard := ctx.ShardFor(key)
	s, ok, err := typedValue[*stream.Stream](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		if noMkStream {
			return protocol.Null(), nil
		}
		s = stream.New()
		shard.Insert(key, &store.Entry{Value: s, SizeBytes: entrySize(key, s)})
	}

	var explicitID *stream.ID
	if idArg != "*" {
		parsed, perr := stream.ParseID(idArg)
		if perr != nil {
			return nil, kverrors.New(kverrors.InvalidState, perr.Error())
		}
		explicitID = &parsed
	}

	fields := ds.NewHash()
	for fi := 0; fi < len(rest); fi += 2 {
		fields.Set(string(rest[fi]), rest[fi+1])
	}

	if maxLen >= 0 {
		s.MaxLen = maxLen
		s.MaxLenApprox = approx
	}
	id, err := s.AddEntry(explicitID, uint64(nowMsI64()), fields)
	if err != nil {
		return nil, err
	}
	resize(shard, key, s)
	e.Blocker.Notify(key)
	return protocol.Bulk([]byte(id.String())), nil
}

func cmdXLen(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	return protocol.Int(int64(s.Len())), nil
}

func parseRangeID(b []byte, isStart bool) (stream.ID, error) {
	s := string(b)
	if s == "-" {
		return stream.ID{}, nil
	}
	if s == "+" {
		return stream.ID{Ms: ^uint64(0), Seq: ^uint64(0)}, nil
	}
	return stream.ParseID(s)
}

func cmdXRange(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	start, err := parseRangeID(ctx.Cmd.Args[2], true)
	if err != nil {
		return nil, err
	}
	end, err := parseRangeID(ctx.Cmd.Args[3], false)
	if err != nil {
		return nil, err
	}
	count := -1
	if len(ctx.Cmd.Args) > 5 && strings.EqualFold(string(ctx.Cmd.Args[4]), "COUNT") {
		n, err := parseInt(ctx.Cmd.Args[5])
		if err != nil {
			return nil, err
		}
		count = int(n)
	}
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &protocol.Reply{Kind: protocol.ReplyArray}, nil
	}
	entries := s.Range(start, end)
	if count >= 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entriesReply(entries), nil
}

// cmdXRead implements XREAD [COUNT n] [BLOCK ms] STREAMS key [key ...] id
// [id ...]. A BLOCK argument is accepted but the handler never waits.
func cmdXRead(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	count := -1
	i := 0
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "COUNT":
			n, err := parseInt(args[i+1])
			if err != nil {
				return nil, err
			}
			count = int(n)
			i += 2
		case "BLOCK":
			i += 2
		case "STREAMS":
			i++
			goto streams
		default:
			i++
		}
	}
streams:
	rest := args[i:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return nil, kverrors.New(kverrors.SyntaxError, "Unbalanced XREAD list of streams")
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	var out []*protocol.Reply
	for k := 0; k < n; k++ {
		key := string(keys[k])
		shard := ctx.ShardFor(key)
		s, err := getStream(shard, key, false)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		after, err := stream.ParseID(string(ids[k]))
		if err != nil {
			return nil, err
		}
		entries := s.After(after)
		if count >= 0 && len(entries) > count {
			entries = entries[:count]
		}
		if len(entries) == 0 {
			continue
		}
		out = append(out, protocol.Array(protocol.Bulk([]byte(key)), entriesReply(entries)))
	}
	if len(out) == 0 {
		return protocol.NullArray(), nil
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

// cmdXReadGroup implements XREADGROUP GROUP group consumer [COUNT n]
// [BLOCK ms] [NOACK] STREAMS key [key ...] id [id ...]. A BLOCK argument is
// accepted but the handler never waits.
func cmdXReadGroup(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	if len(args) < 2 || !strings.EqualFold(string(args[0]), "GROUP") {
		return nil, kverrors.New(kverrors.SyntaxError, "missing GROUP clause")
	}
	groupName := string(args[1])
	consumerName := string(args[2])
	count := -1
	noAck := false
	i := 3
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "COUNT":
			n, err := parseInt(args[i+1])
			if err != nil {
				return nil, err
			}
			count = int(n)
			i += 2
		case "NOACK":
			noAck = true
			i++
		case "BLOCK":
			i += 2
		case "STREAMS":
			i++
			goto streams
		default:
			i++
		}
	}
streams:
	rest := args[i:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return nil, kverrors.New(kverrors.SyntaxError, "Unbalanced XREADGROUP list of streams")
	}
	n := len(rest) / 2
	keys := rest[:n]
	ids := rest[n:]

	var out []*protocol.Reply
	for k := 0; k < n; k++ {
		key := string(keys[k])
		shard := ctx.ShardFor(key)
		s, err := getStream(shard, key, false)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, kverrors.New(kverrors.ConsumerGroupNotFound, "NOGROUP no such key or consumer group")
		}
		idStr := string(ids[k])
		var entries []*stream.Entry
		if idStr == ">" {
			entries, err = s.ReadNew(groupName, consumerName, count, nowMsI64(), noAck)
		} else {
			var from stream.ID
			from, err = stream.ParseID(idStr)
			if err == nil {
				entries, err = s.ReadPending(groupName, consumerName, from, count)
			}
		}
		if err != nil {
			return nil, err
		}
		resize(shard, key, s)
		if len(entries) == 0 {
			continue
		}
		out = append(out, protocol.Array(protocol.Bulk([]byte(key)), entriesReply(entries)))
	}
	if len(out) == 0 {
		return protocol.NullArray(), nil
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

func cmdXAck(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	groupName := string(ctx.Cmd.Args[2])
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	ids := make([]stream.ID, 0, len(ctx.Cmd.Args[3:]))
	for _, a := range ctx.Cmd.Args[3:] {
		id, err := stream.ParseID(string(a))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	n, err := s.Ack(groupName, ids)
	if err != nil {
		return nil, err
	}
	resize(shard, key, s)
	return protocol.Int(int64(n)), nil
}

func cmdXClaim(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	groupName := string(ctx.Cmd.Args[2])
	newConsumer := string(ctx.Cmd.Args[3])
	minIdle, err := parseInt(ctx.Cmd.Args[4])
	if err != nil {
		return nil, err
	}
	args := ctx.Cmd.Args[5:]
	var ids []stream.ID
	opts := stream.ClaimOptions{MinIdleMs: minIdle}
	i := 0
	for i < len(args) {
		tok := string(args[i])
		switch strings.ToUpper(tok) {
		case "FORCE":
			opts.Force = true
			i++
		case "JUSTID":
			i++
		case "IDLE":
			n, _ := parseInt(args[i+1])
			opts.NewDeliveryTimeMs = nowMsI64() - n
			i += 2
		case "TIME":
			n, _ := parseInt(args[i+1])
			opts.NewDeliveryTimeMs = n
			i += 2
		case "RETRYCOUNT":
			n, _ := parseInt(args[i+1])
			opts.RetryCount = n
			opts.HasRetryCount = true
			i += 2
		case "LASTID":
			i += 2
		default:
			id, err := stream.ParseID(tok)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			i++
		}
	}
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &protocol.Reply{Kind: protocol.ReplyArray}, nil
	}
	claimed, err := s.Claim(groupName, newConsumer, ids, nowMsI64(), opts)
	if err != nil {
		return nil, err
	}
	resize(shard, key, s)
	return entriesReply(claimed), nil
}

func cmdXAutoClaim(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	groupName := string(ctx.Cmd.Args[2])
	newConsumer := string(ctx.Cmd.Args[3])
	minIdle, err := parseInt(ctx.Cmd.Args[4])
	if err != nil {
		return nil, err
	}
	cursor, err := stream.ParseID(string(ctx.Cmd.Args[5]))
	if err != nil {
		return nil, err
	}
	count := 100
	for i := 6; i < len(ctx.Cmd.Args); i++ {
		if strings.EqualFold(string(ctx.Cmd.Args[i]), "COUNT") && i+1 < len(ctx.Cmd.Args) {
			n, err := parseInt(ctx.Cmd.Args[i+1])
			if err != nil {
				return nil, err
			}
			count = int(n)
		}
	}
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Array(protocol.Bulk([]byte("0-0")), &protocol.Reply{Kind: protocol.ReplyArray}, &protocol.Reply{Kind: protocol.ReplyArray}), nil
	}
	claimed, next, err := s.AutoClaim(groupName, newConsumer, cursor, minIdle, nowMsI64(), count)
	if err != nil {
		return nil, err
	}
	resize(shard, key, s)
	return protocol.Array(
		protocol.Bulk([]byte(next.String())),
		entriesReply(claimed),
		&protocol.Reply{Kind: protocol.ReplyArray},
	), nil
}

// cmdXGroup implements XGROUP CREATE and XGROUP DESTROY; any other
// subcommand is answered with a syntax error.
func cmdXGroup(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	sub := strings.ToUpper(string(ctx.Cmd.Args[1]))
	key := string(ctx.Cmd.Args[2])
	groupName := string(ctx.Cmd.Args[3])
	shard := ctx.ShardFor(key)

	switch sub {
	case "CREATE":
		mkStream := false
		for _, a := range ctx.Cmd.Args[5:] {
			if strings.EqualFold(string(a), "MKSTREAM") {
				mkStream = true
			}
		}
		s, ok, err := typedValue[*stream.Stream](shard, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			if !mkStream {
				return nil, kverrors.New(kverrors.KeyNotFound, "ERR The XGROUP subcommand requires the key to exist")
			}
			s = stream.New()
			shard.Insert(key, &store.Entry{Value: s, SizeBytes: entrySize(key, s)})
		}
		startID := stream.LastIDSentinel
		idArg := string(ctx.Cmd.Args[4])
		if idArg != "$" {
			startID, err = stream.ParseID(idArg)
			if err != nil {
				return nil, err
			}
		}
		if err := s.CreateGroup(groupName, startID); err != nil {
			return nil, err
		}
		resize(shard, key, s)
		return protocol.Simple("OK"), nil

	case "DESTROY":
		s, err := getStream(shard, key, false)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return protocol.Int(0), nil
		}
		destroyed := s.DestroyGroup(groupName)
		resize(shard, key, s)
		return protocol.Int(boolToInt(destroyed)), nil

	default:
		return nil, kverrors.Newf(kverrors.SyntaxError, "unsupported XGROUP subcommand %q", sub)
	}
}

func cmdXPending(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	groupName := string(ctx.Cmd.Args[2])
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, kverrors.New(kverrors.ConsumerGroupNotFound, "NOGROUP no such key or consumer group")
	}
	summary, err := s.PendingSummary(groupName)
	if err != nil {
		return nil, err
	}
	if summary.Count == 0 {
		return protocol.Array(protocol.Int(0), protocol.Null(), protocol.Null(), &protocol.Reply{Kind: protocol.ReplyArray, IsNullArr: true}), nil
	}
	consumers := make([]*protocol.Reply, 0, len(summary.PerConsumer))
	for name, n := range summary.PerConsumer {
		consumers = append(consumers, protocol.Array(protocol.Bulk([]byte(name)), protocol.Bulk([]byte(formatInt(int64(n))))))
	}
	return protocol.Array(
		protocol.Int(int64(summary.Count)),
		protocol.Bulk([]byte(summary.Lowest.String())),
		protocol.Bulk([]byte(summary.Highest.String())),
		&protocol.Reply{Kind: protocol.ReplyArray, Array: consumers},
	), nil
}

func cmdXTrim(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	args := ctx.Cmd.Args[2:]
	if len(args) < 2 || !strings.EqualFold(string(args[0]), "MAXLEN") {
		return nil, kverrors.New(kverrors.SyntaxError, "XTRIM requires MAXLEN")
	}
	i := 1
	approx := false
	if args[i][0] == '~' || args[i][0] == '=' {
		approx = args[i][0] == '~'
		i++
	}
	maxLen, err := parseInt(args[i])
	if err != nil {
		return nil, err
	}
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	removed := s.Trim(int(maxLen), approx)
	resize(shard, key, s)
	return protocol.Int(int64(removed)), nil
}

func cmdXDel(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getStream(shard, key, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return protocol.Int(0), nil
	}
	ids := make([]stream.ID, 0, len(ctx.Cmd.Args[2:]))
	for _, a := range ctx.Cmd.Args[2:] {
		id, err := stream.ParseID(string(a))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	removed := s.Delete(ids)
	resize(shard, key, s)
	return protocol.Int(int64(removed)), nil
}
