// Package txn implements the per-session transaction state machine:
// MULTI queues subsequent commands instead of running them; EXEC runs the
// queue atomically (one combined lock plan) unless a watched key changed
// since it was watched, in which case EXEC aborts with a null result;
// WATCH/UNWATCH manage the session's watch set; DISCARD drops the queue.
package txn

import (
	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/store"
)

// watch records the version a key carried at the moment it was watched.
type watch struct {
	key     string
	version uint64
}

// Session holds one client connection's transaction state. It is not
// safe for concurrent use; each connection owns exactly one.
type Session struct {
	inMulti bool
	dirty   bool // a command failed to queue (bad arity/unknown name)
	queue   []*command.Command
	watches []watch
}

func NewSession() *Session { return &Session{} }

// InMulti reports whether a MULTI is currently open.
func (s *Session) InMulti() bool { return s.inMulti }

// Multi opens a transaction. Redis-compatible behavior: nested MULTI is an
// error, not a no-op, since it almost always indicates a client bug.
func (s *Session) Multi() error {
	if s.inMulti {
		return kverrors.New(kverrors.InvalidState, "MULTI calls can not be nested")
	}
	s.inMulti = true
	s.dirty = false
	s.queue = nil
	return nil
}

// Discard abandons a queued transaction and clears the watch set.
func (s *Session) Discard() error {
	if !s.inMulti {
		return kverrors.New(kverrors.InvalidState, "DISCARD without MULTI")
	}
	s.reset()
	return nil
}

func (s *Session) reset() {
	s.inMulti = false
	s.dirty = false
	s.queue = nil
	s.watches = nil
}

// Watch registers keys to be monitored for changes before EXEC. Must be
// called outside of MULTI. currentVersion is supplied by the caller per
// key (the shard's Version(key), taken under that shard's lock).
func (s *Session) Watch(keys []string, currentVersion func(key string) uint64) error {
	if s.inMulti {
		return kverrors.New(kverrors.InvalidState, "WATCH inside MULTI is not allowed")
	}
	for _, k := range keys {
		s.watches = append(s.watches, watch{key: k, version: currentVersion(k)})
	}
	return nil
}

// Unwatch clears the watch set without touching any queued commands.
func (s *Session) Unwatch() { s.watches = nil }

// Enqueue adds a command to the open transaction's queue. queueErr, if
// non-nil, marks the transaction dirty (it will abort at EXEC) without
// itself aborting the enqueue -- the real server matches this behavior so
// a client can keep issuing commands inside a doomed MULTI and still see
// each one acknowledged individually.
func (s *Session) Enqueue(cmd *command.Command, queueErr error) error {
	if !s.inMulti {
		return kverrors.New(kverrors.InvalidState, "command without MULTI")
	}
	if queueErr != nil {
		s.dirty = true
		return queueErr
	}
	s.queue = append(s.queue, cmd)
	return nil
}

// WatchedKeys returns the union of keys in the current watch set, for the
// caller to build a combined lock plan before calling Exec.
func (s *Session) WatchedKeys() []string {
	keys := make([]string, len(s.watches))
	for i, w := range s.watches {
		keys[i] = w.key
	}
	return keys
}

// QueuedKeys returns the union of keys referenced by queued commands, for
// the caller to build a combined lock plan before calling Exec.
func (s *Session) QueuedKeys() []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, cmd := range s.queue {
		for _, k := range cmd.Keys() {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Aborted reports whether EXEC must fail without running the queue: either
// a bad command was queued, or a watched key's version no longer matches
// what was recorded at WATCH time. currentVersion must be evaluated while
// holding every shard touched by the watch set's keys.
func (s *Session) Aborted(currentVersion func(key string) uint64) bool {
	if s.dirty {
		return true
	}
	for _, w := range s.watches {
		if currentVersion(w.key) != w.version {
			return true
		}
	}
	return false
}

// Queue returns the pending commands for a non-aborted EXEC to run, in
// enqueue order.
func (s *Session) Queue() []*command.Command { return s.queue }

// Exec clears the transaction and watch state unconditionally. Callers
// call this exactly once after either running the queue or discovering
// Aborted, since EXEC always ends the transaction regardless of outcome.
func (s *Session) Exec() { s.reset() }

// VersionReader adapts a Keyspace to the currentVersion callback Watch and
// Aborted expect, resolving each key's owning shard and reading its
// version counter. Callers must already hold the lock covering key.
func VersionReader(ks *store.Keyspace) func(key string) uint64 {
	return func(key string) uint64 {
		shard := ks.GetShard(ks.GetShardIndex(key))
		return shard.Version(key)
	}
}
