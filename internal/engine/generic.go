package engine

import (
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/store"
)

func init() {
	register("DEL", cmdDel)
	register("EXISTS", cmdExists)
	register("EXPIRE", cmdExpire)
	register("PEXPIREAT", cmdPExpireAt)
	register("TTL", cmdTTL)
	register("TYPE", cmdType)
	register("FLUSHDB", cmdFlushDB)
	register("KEYS", cmdKeys)
	register("SCAN", cmdScan)
	register("HSCAN", cmdHScan)
	register("SSCAN", cmdSScan)
	register("ZSCAN", cmdZScan)
}

func cmdDel(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	removed := int64(0)
	for _, a := range args {
		key := string(a)
		shard := ctx.ShardFor(key)
		if _, ok := shard.Remove(key); ok {
			removed++
		}
	}
	return protocol.Int(removed), nil
}

func cmdExists(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	args := ctx.Cmd.Args[1:]
	count := int64(0)
	now := time.Now().UnixNano()
	for _, a := range args {
		key := string(a)
		shard := ctx.ShardFor(key)
		if entry, ok := shard.Peek(key); ok && !entry.ExpiredAt(now) {
			count++
		}
	}
	return protocol.Int(count), nil
}

func cmdExpire(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	seconds, err := strconv.ParseInt(string(ctx.Cmd.Args[2]), 10, 64)
	if err != nil {
		return nil, kverrors.New(kverrors.NotAnInteger, "value is not an integer or out of range")
	}
	shard := ctx.ShardFor(key)
	entry, ok := shard.Peek(key)
	if !ok || entry.ExpiredAt(time.Now().UnixNano()) {
		return protocol.Int(0), nil
	}
	entry.ExpireAtUnixNano = time.Now().Add(time.Duration(seconds) * time.Second).UnixNano()
	shard.Touch(key)
	return protocol.Int(1), nil
}

// cmdPExpireAt implements PEXPIREAT key ms-timestamp: sets an absolute
// expiry instant directly, the form snapshot replay and AOF replay use so
// TTLs survive a restart or a full resync without depending on wall-clock
// arithmetic performed a second time on the receiving end.
func cmdPExpireAt(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	ms, err := strconv.ParseInt(string(ctx.Cmd.Args[2]), 10, 64)
	if err != nil {
		return nil, kverrors.New(kverrors.NotAnInteger, "value is not an integer or out of range")
	}
	shard := ctx.ShardFor(key)
	entry, ok := shard.Peek(key)
	if !ok {
		return protocol.Int(0), nil
	}
	entry.ExpireAtUnixNano = ms * int64(time.Millisecond)
	shard.Touch(key)
	return protocol.Int(1), nil
}

func cmdTTL(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	entry, ok := shard.Peek(key)
	now := time.Now().UnixNano()
	if !ok || entry.ExpiredAt(now) {
		return protocol.Int(-2), nil
	}
	if !entry.HasExpiry() {
		return protocol.Int(-1), nil
	}
	remaining := time.Duration(entry.ExpireAtUnixNano - now)
	return protocol.Int(int64(remaining / time.Second)), nil
}

func cmdType(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	entry, ok := shard.Peek(key)
	if !ok || entry.ExpiredAt(time.Now().UnixNano()) {
		return protocol.Simple("none"), nil
	}
	return protocol.Simple(entry.Value.Kind().String()), nil
}

// cmdFlushDB implements FLUSHDB. Its descriptor sets AllShards, so every
// shard arrives pre-locked in Locks.Shards() (§4.D All variant).
func cmdFlushDB(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	for _, shard := range ctx.Locks.Shards() {
		for _, key := range shard.Keys() {
			shard.Remove(key)
		}
	}
	return protocol.Simple("OK"), nil
}

// cmdKeys implements KEYS pattern -- a keyspace-wide read, also AllShards.
func cmdKeys(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	pattern := string(ctx.Cmd.Args[1])
	now := time.Now().UnixNano()
	var out []*protocol.Reply
	for _, shard := range ctx.Locks.Shards() {
		shard.Iter(func(key string, entry *store.Entry) bool {
			if entry.ExpiredAt(now) {
				return true
			}
			if globMatch(pattern, key) {
				out = append(out, protocol.Bulk([]byte(key)))
			}
			return true
		})
	}
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil
}

// globMatch implements Redis-style glob matching (*, ?, [abc]) used by
// KEYS and the SCAN family's MATCH option.
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(p, s []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '*':
		if globMatchRunes(p[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatchRunes(p[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchRunes(p[1:], s[1:])
	case '[':
		if len(s) == 0 {
			return false
		}
		end := strings.IndexRune(string(p[1:]), ']')
		if end < 0 {
			return p[0] == s[0] && globMatchRunes(p[1:], s[1:])
		}
		class := p[1 : end+1]
		if runeInClass(class, s[0]) {
			return globMatchRunes(p[end+2:], s[1:])
		}
		return false
	default:
		if len(s) == 0 || p[0] != s[0] {
			return false
		}
		return globMatchRunes(p[1:], s[1:])
	}
}

func runeInClass(class []rune, r rune) bool {
	neg := len(class) > 0 && class[0] == '^'
	if neg {
		class = class[1:]
	}
	found := false
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= r && r <= class[i+2] {
				found = true
			}
			i += 2
			continue
		}
		if class[i] == r {
			found = true
		}
	}
	if neg {
		return !found
	}
	return found
}

// cursor encodes SCAN's opaque position as (shard_index << shardShift) |
// in_shard_position (§6 SCAN cursor encoding).
const shardShift = 40

func encodeCursor(shardIdx, pos int) uint64 {
	return (uint64(shardIdx) << shardShift) | uint64(pos)
}

func decodeCursor(cursor uint64) (shardIdx, pos int) {
	return int(cursor >> shardShift), int(cursor & ((1 << shardShift) - 1))
}

const scanBatchSize = 100

// cmdScan implements SCAN: no declared keys, so the lock planner returns
// LockNone and this handler locks exactly one shard at a time itself,
// walking its stably-ordered key snapshot from the recorded in-shard
// position before advancing to the next shard (§6).
func cmdScan(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	cursor, err := strconv.ParseUint(string(ctx.Cmd.Args[1]), 10, 64)
	if err != nil {
		return nil, kverrors.New(kverrors.SyntaxError, "invalid cursor")
	}
	match := scanMatchOption(ctx.Cmd.Args[2:])

	shardIdx, pos := decodeCursor(cursor)
	numShards := ctx.DB.NumShards()
	var keys []string
	now := time.Now().UnixNano()

	for shardIdx < numShards {
		shard := ctx.DB.GetShard(shardIdx)
		shard.Mu.Lock()
		all := shard.Keys()
		end := pos + scanBatchSize
		if end > len(all) {
			end = len(all)
		}
		for _, k := range all[pos:end] {
			if entry, ok := shard.Peek(k); ok && !entry.ExpiredAt(now) {
				if match == "" || globMatch(match, k) {
					keys = append(keys, k)
				}
			}
		}
		exhausted := end >= len(all)
		shard.Mu.Unlock()

		if !exhausted {
			return scanReply(encodeCursor(shardIdx, end), keys), nil
		}
		shardIdx++
		pos = 0
	}
	return scanReply(0, keys), nil
}

func scanMatchOption(opts [][]byte) string {
	for i := 0; i+1 < len(opts); i++ {
		if strings.EqualFold(string(opts[i]), "MATCH") {
			return string(opts[i+1])
		}
	}
	return ""
}

func scanReply(cursor uint64, keys []string) *protocol.Reply {
	items := make([]*protocol.Reply, len(keys))
	for i, k := range keys {
		items[i] = protocol.Bulk([]byte(k))
	}
	return protocol.Array(
		protocol.Bulk([]byte(strconv.FormatUint(cursor, 10))),
		&protocol.Reply{Kind: protocol.ReplyArray, Array: items},
	)
}

func cmdHScan(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	h, err := getHash(shard, key, false)
	if err != nil || h == nil {
		return scanReply(0, nil), err
	}
	var out []*protocol.Reply
	for _, f := range h.Fields() {
		v, _ := h.Get(f)
		out = append(out, protocol.Bulk([]byte(f)), protocol.Bulk(v))
	}
	return protocol.Array(protocol.Bulk([]byte("0")), &protocol.Reply{Kind: protocol.ReplyArray, Array: out}), nil
}

func cmdSScan(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	s, err := getSet(shard, key, false)
	if err != nil || s == nil {
		return scanReply(0, nil), err
	}
	return scanReply(0, s.Members()), nil
}

func cmdZScan(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	key := string(ctx.Cmd.Args[1])
	shard := ctx.ShardFor(key)
	z, err := getZSet(shard, key, false)
	if err != nil || z == nil {
		return scanReply(0, nil), err
	}
	var out []*protocol.Reply
	for _, m := range z.All() {
		out = append(out, protocol.Bulk([]byte(m.Member)), protocol.Bulk([]byte(formatFloat(m.Score))))
	}
	return protocol.Array(protocol.Bulk([]byte("0")), &protocol.Reply{Kind: protocol.ReplyArray, Array: out}), nil
}
