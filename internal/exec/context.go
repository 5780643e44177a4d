package exec

import (
	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/store"
)

// Context is the Execution Context: a transient structure for
// one command invocation binding a handle to global state, the database,
// the planner's locks, the session identity, the authenticated user (if
// any) and the command itself.
type Context struct {
	DB        *store.Keyspace
	Locks     *Locks
	SessionID uint64
	User      string
	Cmd       *command.Command
}

// GetSingleShardContextMut returns the locked shard for a Single-kind
// plan. Panics if called on any other Kind -- callers are expected to
// switch on Locks.Kind before dispatching.
func (c *Context) GetSingleShardContextMut() *store.Shard {
	if c.Locks.Kind != store.LockSingle {
		panic("GetSingleShardContextMut called on a non-Single lock plan")
	}
	return c.Locks.Single()
}

// ShardFor returns the already-locked shard responsible for key, for
// multi-key or all-shard commands that need to look up a specific key's
// shard among their held locks.
func (c *Context) ShardFor(key string) *store.Shard {
	idx := c.DB.GetShardIndex(key)
	for _, s := range c.Locks.Shards() {
		if s.Index == idx {
			return s
		}
	}
	return nil
}
