// Package command models each command as a structured value with declared
// key positions and flags: one descriptor per command name, shared by
// parsing, lock planning, transactions, and replication/persistence log
// serialization. It does not implement individual command handlers.
package command

import (
	"fmt"
	"strings"
)

// Flag is one bit of a command's behavioral properties.
type Flag uint8

const (
	Read Flag = 1 << iota
	Write
	DenyOOM
	MovableKeys
	NoPropagate
	PubSub
	Admin
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Descriptor is a command's static shape: name, arity, key positions used
// by the lock planner and cluster routers, and flags.
//
// FirstKey/LastKey are indices into the full command array including the
// command name at position 0 (Redis COMMAND INFO convention); LastKey may
// be negative to mean "relative to the end of args". Step is the stride
// between key positions (e.g. MSET's alternating key/value pairs use
// Step=2). FirstKey==0 means the command declares no keys.
type Descriptor struct {
	Name     string
	Arity    int // positive = exact argc (incl. name), negative = minimum
	FirstKey int
	LastKey  int
	Step     int
	Flags    Flag

	// KeysFunc overrides key extraction for MovableKeys commands (e.g.
	// GEORADIUS-style commands whose key positions depend on option
	// parsing, or SORT's optional STORE destination).
	KeysFunc func(args [][]byte) []string

	// AllShards marks keyspace-wide operations (pattern scans of all
	// keys, flush) that the lock planner must lock every shard for.
	AllShards bool
}

func (d *Descriptor) checkArity(argc int) error {
	if d.Arity >= 0 && argc != d.Arity {
		return fmt.Errorf("wrong number of arguments for %q", d.Name)
	}
	if d.Arity < 0 && argc < -d.Arity {
		return fmt.Errorf("wrong number of arguments for %q", d.Name)
	}
	return nil
}

// Command is one decoded invocation: a descriptor plus its canonical
// argument array (Args[0] is the command name, matching Descriptor's key
// index convention).
type Command struct {
	Desc *Descriptor
	Args [][]byte
}

// Name returns the command's canonical (uppercased) name.
func (c *Command) Name() string { return c.Desc.Name }

// Keys derives the shard keys this command touches, per its declared key
// positions (or KeysFunc for MovableKeys commands) -- this is the input
// the Lock Planner (internal/exec) consumes.
func (c *Command) Keys() []string {
	if c.Desc.Flags.Has(MovableKeys) && c.Desc.KeysFunc != nil {
		return c.Desc.KeysFunc(c.Args)
	}
	if c.Desc.FirstKey == 0 {
		return nil
	}
	last := c.Desc.LastKey
	if last < 0 {
		last = len(c.Args) + last
	}
	step := c.Desc.Step
	if step <= 0 {
		step = 1
	}
	var keys []string
	for i := c.Desc.FirstKey; i <= last && i < len(c.Args); i += step {
		keys = append(keys, string(c.Args[i]))
	}
	return keys
}

// ToArgs returns the canonical byte array for replication/log
// serialization. Args is already canonical since every Command
// is constructed from (or destined for) exactly this shape.
func (c *Command) ToArgs() [][]byte {
	out := make([][]byte, len(c.Args))
	copy(out, c.Args)
	return out
}

// Parse builds a Command from a decoded frame's argument array using the
// registry, validating arity. Round-trips with ToArgs.
func Parse(registry *Registry, args [][]byte) (*Command, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	name := strings.ToUpper(string(args[0]))
	desc, ok := registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if err := desc.checkArity(len(args)); err != nil {
		return nil, err
	}
	normalized := make([][]byte, len(args))
	copy(normalized, args)
	normalized[0] = []byte(desc.Name)
	return &Command{Desc: desc, Args: normalized}, nil
}
