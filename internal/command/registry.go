package command

import "strings"

// Registry is the command catalog: name -> Descriptor, matched
// case-insensitively.
type Registry struct {
	byName map[string]*Descriptor
}

func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

func (r *Registry) register(d *Descriptor) {
	if r.byName == nil {
		r.byName = make(map[string]*Descriptor)
	}
	r.byName[d.Name] = d
}

// NewDefaultRegistry builds the command catalog: a representative command
// per family, each with a real arity/key/flag contract. It is not a
// grammar-complete parser for every option variant a command accepts.
func NewDefaultRegistry() *Registry {
	r := &Registry{}

	reg := func(name string, arity, firstKey, lastKey, step int, flags Flag) {
		r.register(&Descriptor{Name: name, Arity: arity, FirstKey: firstKey, LastKey: lastKey, Step: step, Flags: flags})
	}

	// Strings
	reg("GET", 2, 1, 1, 1, Read)
	reg("SET", -3, 1, 1, 1, Write|DenyOOM)
	reg("INCR", 2, 1, 1, 1, Write|DenyOOM)
	reg("DECR", 2, 1, 1, 1, Write|DenyOOM)
	reg("INCRBY", 3, 1, 1, 1, Write|DenyOOM)
	reg("INCRBYFLOAT", 3, 1, 1, 1, Write|DenyOOM)
	reg("APPEND", 3, 1, 1, 1, Write|DenyOOM)
	reg("STRLEN", 2, 1, 1, 1, Read)
	reg("GETRANGE", 4, 1, 1, 1, Read)
	reg("SETRANGE", 4, 1, 1, 1, Write|DenyOOM)
	reg("MGET", -2, 1, -1, 1, Read)
	reg("MSET", -3, 1, -1, 2, Write|DenyOOM)
	reg("MSETNX", -3, 1, -1, 2, Write|DenyOOM)
	reg("GETSET", 3, 1, 1, 1, Write|DenyOOM)
	reg("GETDEL", 2, 1, 1, 1, Write)
	reg("GETEX", -2, 1, 1, 1, Write)

	// Hashes
	reg("HSET", -4, 1, 1, 1, Write|DenyOOM)
	reg("HGET", 3, 1, 1, 1, Read)
	reg("HDEL", -3, 1, 1, 1, Write)
	reg("HGETALL", 2, 1, 1, 1, Read)
	reg("HLEN", 2, 1, 1, 1, Read)

	// Lists
	reg("LPUSH", -3, 1, 1, 1, Write|DenyOOM)
	reg("RPUSH", -3, 1, 1, 1, Write|DenyOOM)
	reg("LPOP", -2, 1, 1, 1, Write)
	reg("RPOP", -2, 1, 1, 1, Write)
	reg("LLEN", 2, 1, 1, 1, Read)
	reg("LRANGE", 4, 1, 1, 1, Read)

	// Sets
	reg("SADD", -3, 1, 1, 1, Write|DenyOOM)
	reg("SREM", -3, 1, 1, 1, Write)
	reg("SMEMBERS", 2, 1, 1, 1, Read)
	reg("SCARD", 2, 1, 1, 1, Read)

	// Sorted sets
	reg("ZADD", -4, 1, 1, 1, Write|DenyOOM)
	reg("ZINCRBY", 4, 1, 1, 1, Write|DenyOOM)
	reg("ZSCORE", 3, 1, 1, 1, Read)
	reg("ZRANGE", -4, 1, 1, 1, Read)
	reg("ZRANGEBYSCORE", -4, 1, 1, 1, Read)
	reg("ZREMRANGEBYSCORE", 4, 1, 1, 1, Write)

	// Geo (layered over sorted sets)
	reg("GEOADD", -5, 1, 1, 1, Write|DenyOOM)
	reg("GEOPOS", -2, 1, 1, 1, Read)
	reg("GEODIST", -4, 1, 1, 1, Read)
	reg("GEOSEARCH", -7, 1, 1, 1, Read)

	// Streams
	reg("XADD", -5, 1, 1, 1, Write|DenyOOM)
	reg("XLEN", 2, 1, 1, 1, Read)
	reg("XRANGE", 4, 1, 1, 1, Read)
	reg("XREAD", -4, 0, 0, 0, Read|MovableKeys)
	reg("XREADGROUP", -7, 0, 0, 0, Write|MovableKeys)
	reg("XACK", -4, 1, 1, 1, Write)
	reg("XCLAIM", -6, 1, 1, 1, Write)
	reg("XAUTOCLAIM", -7, 1, 1, 1, Write)
	reg("XGROUP", -4, 2, 2, 1, Write|Admin)
	reg("XPENDING", -3, 1, 1, 1, Read)
	reg("XTRIM", -4, 1, 1, 1, Write)
	reg("XDEL", -3, 1, 1, 1, Write)
	// XREAD/XREADGROUP keys are the first half of the arguments after STREAMS.
	streamsKeys := func(args [][]byte) []string {
		for i := range args {
			if strings.EqualFold(string(args[i]), "STREAMS") {
				var keys []string
				for _, k := range args[i+1 : i+1+(len(args)-i-1)/2] {
					keys = append(keys, string(k))
				}
				return keys
			}
		}
		return nil
	}
	r.byName["XREAD"].KeysFunc = streamsKeys
	r.byName["XREADGROUP"].KeysFunc = streamsKeys

	// Incremental iteration
	reg("SCAN", -2, 0, 0, 0, Read)
	reg("HSCAN", -3, 1, 1, 1, Read)
	reg("SSCAN", -3, 1, 1, 1, Read)
	reg("ZSCAN", -3, 1, 1, 1, Read)

	// Pub/Sub
	reg("SUBSCRIBE", -2, 0, 0, 0, PubSub)
	reg("UNSUBSCRIBE", -1, 0, 0, 0, PubSub)
	reg("PSUBSCRIBE", -2, 0, 0, 0, PubSub)
	reg("PUBLISH", 3, 0, 0, 0, PubSub|NoPropagate)
	reg("PUBSUB", -2, 0, 0, 0, PubSub|Admin)

	// Transactions
	reg("MULTI", 1, 0, 0, 0, 0)
	reg("EXEC", 1, 0, 0, 0, 0)
	reg("DISCARD", 1, 0, 0, 0, 0)
	reg("WATCH", -2, 1, -1, 1, 0)
	reg("UNWATCH", 1, 0, 0, 0, 0)

	// Replication / admin
	reg("ROLE", 1, 0, 0, 0, Admin|NoPropagate)
	reg("INFO", -1, 0, 0, 0, Admin|NoPropagate)
	reg("REPLCONF", -1, 0, 0, 0, Admin|NoPropagate)
	reg("PSYNC", 3, 0, 0, 0, Admin|NoPropagate)
	reg("REPLICAOF", 3, 0, 0, 0, Admin|NoPropagate)

	// JSON document ops
	reg("JSON.SET", -4, 1, 1, 1, Write|DenyOOM)
	reg("JSON.GET", -2, 1, 1, 1, Read)
	reg("JSON.DEL", -2, 1, 1, 1, Write)
	reg("JSON.TYPE", -2, 1, 1, 1, Read)
	reg("JSON.ARRLEN", -2, 1, 1, 1, Read)
	reg("JSON.ARRAPPEND", -4, 1, 1, 1, Write|DenyOOM)
	reg("JSON.ARRINSERT", -5, 1, 1, 1, Write|DenyOOM)
	reg("JSON.ARRPOP", -2, 1, 1, 1, Write)
	reg("JSON.ARRINDEX", -4, 1, 1, 1, Read)
	reg("JSON.ARRTRIM", -5, 1, 1, 1, Write)
	reg("JSON.OBJKEYS", -2, 1, 1, 1, Read)
	reg("JSON.OBJLEN", -2, 1, 1, 1, Read)
	reg("JSON.STRLEN", -2, 1, 1, 1, Read)
	reg("JSON.STRAPPEND", -3, 1, 1, 1, Write|DenyOOM)
	reg("JSON.NUMINCRBY", 4, 1, 1, 1, Write|DenyOOM)
	reg("JSON.NUMMULTBY", 4, 1, 1, 1, Write|DenyOOM)
	reg("JSON.TOGGLE", -2, 1, 1, 1, Write)
	reg("JSON.CLEAR", -2, 1, 1, 1, Write)
	reg("JSON.MGET", -3, 1, -2, 1, Read)
	reg("JSON.MERGE", 4, 1, 1, 1, Write|DenyOOM)

	// Bloom filters
	reg("BF.RESERVE", -4, 1, 1, 1, Write|DenyOOM)
	reg("BF.ADD", 3, 1, 1, 1, Write|DenyOOM)
	reg("BF.MADD", -3, 1, 1, 1, Write|DenyOOM)
	reg("BF.EXISTS", 3, 1, 1, 1, Read)
	reg("BF.MEXISTS", -3, 1, 1, 1, Read)
	reg("BF.CARD", 2, 1, 1, 1, Read)
	reg("BF.INFO", 2, 1, 1, 1, Read)
	reg("BF.INSERT", -3, 1, 1, 1, Write|DenyOOM)

	// Generic / keyspace-wide
	reg("DEL", -2, 1, -1, 1, Write)
	reg("EXISTS", -2, 1, -1, 1, Read)
	reg("EXPIRE", 3, 1, 1, 1, Write)
	reg("PEXPIREAT", 3, 1, 1, 1, Write)
	reg("TTL", 2, 1, 1, 1, Read)
	reg("TYPE", 2, 1, 1, 1, Read)
	reg("FLUSHDB", 1, 0, 0, 0, Write|Admin)
	reg("KEYS", 2, 0, 0, 0, Read|Admin)
	r.byName["FLUSHDB"].AllShards = true
	r.byName["KEYS"].AllShards = true

	// Connection / replication-control
	reg("PING", -1, 0, 0, 0, NoPropagate)
	reg("SELECT", 2, 0, 0, 0, NoPropagate)
	reg("FAILOVER", -2, 0, 0, 0, Admin|NoPropagate)

	return r
}
