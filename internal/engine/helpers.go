package engine

import (
	"strconv"
	"time"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/store"
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func parseFloat(b []byte) (float64, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, kverrors.New(kverrors.NotAFloat, "value is not a valid float")
	}
	return f, nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, kverrors.New(kverrors.NotAnInteger, "value is not an integer or out of range")
	}
	return n, nil
}

func liveEntry(shard *store.Shard, key string) (*store.Entry, bool) {
	entry, ok := shard.Peek(key)
	if !ok {
		return nil, false
	}
	if entry.ExpiredAt(time.Now().UnixNano()) {
		shard.Remove(key)
		return nil, false
	}
	return entry, true
}

func entrySize(key string, v ds.Value) int64 { return int64(len(key)) + v.MemSize() }

// typedValue resolves key to a value of the expected kind, returning
// (nil, nil, false) when absent. A present value of a different kind is a
// WrongType error, not absence.
func typedValue[T ds.Value](shard *store.Shard, key string) (T, bool, error) {
	var zero T
	entry, ok := liveEntry(shard, key)
	if !ok {
		return zero, false, nil
	}
	typed, ok := entry.Value.(T)
	if !ok {
		return zero, false, kverrors.New(kverrors.WrongType, "Operation against a key holding the wrong kind of value")
	}
	return typed, true, nil
}

func getString(shard *store.Shard, key string) (*ds.StringValue, bool, error) {
	return typedValue[*ds.StringValue](shard, key)
}

func getHash(shard *store.Shard, key string, create bool) (*ds.HashValue, error) {
	v, ok, err := typedValue[*ds.HashValue](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		h := ds.NewHash()
		shard.Insert(key, &store.Entry{Value: h, SizeBytes: entrySize(key, h)})
		return h, nil
	}
	return v, nil
}

func getList(shard *store.Shard, key string, create bool) (*ds.ListValue, error) {
	v, ok, err := typedValue[*ds.ListValue](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		l := ds.NewList()
		shard.Insert(key, &store.Entry{Value: l, SizeBytes: entrySize(key, l)})
		return l, nil
	}
	return v, nil
}

func getSet(shard *store.Shard, key string, create bool) (*ds.SetValue, error) {
	v, ok, err := typedValue[*ds.SetValue](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		s := ds.NewSet()
		shard.Insert(key, &store.Entry{Value: s, SizeBytes: entrySize(key, s)})
		return s, nil
	}
	return v, nil
}

func getZSet(shard *store.Shard, key string, create bool) (*ds.SortedSetValue, error) {
	v, ok, err := typedValue[*ds.SortedSetValue](shard, key)
	if err != nil {
		return nil, err
	}
	if !ok && create {
		z := ds.NewSortedSet()
		shard.Insert(key, &store.Entry{Value: z, SizeBytes: entrySize(key, z)})
		return z, nil
	}
	return v, nil
}

// resize refreshes the shard's memory accounting for an in-place mutation
// of a container value (hash/list/set/zset field add/remove), replaying
// Shard.Touch's version bump without a full Remove+Insert round trip.
func resize(shard *store.Shard, key string, v ds.Value) {
	entry, ok := shard.Peek(key)
	if !ok {
		return
	}
	entry.SizeBytes = entrySize(key, v)
	shard.Touch(key)
}
