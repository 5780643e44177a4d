// Package bloom implements the BF.* command family's option parsing and
// reserve/insert orchestration over ds.BloomValue. The bit-array math
// (hashing, sizing, scaling) lives in ds.BloomValue; this package only
// knows about command-level semantics: NONSCALING, reserve-if-absent,
// and the shared "capacity exhausted and not allowed to scale" error.
package bloom

import (
	"strconv"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
)

// DefaultExpansion is Redis's default growth factor for scalable filters.
const DefaultExpansion = 2

// ReserveOptions are BF.RESERVE's trailing options (EXPANSION n / NONSCALING).
type ReserveOptions struct {
	Expansion  int // 0 means NONSCALING
	NonScaling bool
}

// ParseReserveOptions reads BF.RESERVE's optional trailing arguments,
// starting after <key> <error_rate> <capacity>.
func ParseReserveOptions(args [][]byte) (ReserveOptions, error) {
	opts := ReserveOptions{Expansion: DefaultExpansion}
	for i := 0; i < len(args); i++ {
		switch string(args[i]) {
		case "NONSCALING":
			opts.NonScaling = true
			opts.Expansion = 0
		case "EXPANSION":
			if i+1 >= len(args) {
				return opts, kverrors.New(kverrors.SyntaxError, "EXPANSION requires a value")
			}
			n, err := strconv.Atoi(string(args[i+1]))
			if err != nil || n < 1 {
				return opts, kverrors.New(kverrors.SyntaxError, "invalid EXPANSION value")
			}
			opts.Expansion = n
			i++
		default:
			return opts, kverrors.Newf(kverrors.SyntaxError, "unknown BF.RESERVE option %q", string(args[i]))
		}
	}
	return opts, nil
}

// Reserve builds a new filter sized for capacity/errorRate, honoring
// NONSCALING/EXPANSION. Callers are responsible for refusing to overwrite
// an existing key (BF.RESERVE errors if the key is already a filter).
func Reserve(errorRate float64, capacity uint64, opts ReserveOptions) (*ds.BloomValue, error) {
	if errorRate <= 0 || errorRate >= 1 {
		return nil, kverrors.New(kverrors.SyntaxError, "error_rate must be between 0 and 1")
	}
	if capacity == 0 {
		return nil, kverrors.New(kverrors.SyntaxError, "capacity must be positive")
	}
	return ds.NewBloom(capacity, errorRate, opts.Expansion), nil
}

// Add inserts item, reporting an error instead of silently scaling when
// the filter is at capacity and NONSCALING was set at reserve time.
func Add(v *ds.BloomValue, item []byte) (added bool, err error) {
	if v.Cardinality() >= v.Capacity() && !v.CanScale() {
		if !v.Exists(item) {
			return false, kverrors.New(kverrors.InvalidState, "non-scaling filter is full")
		}
		return false, nil
	}
	return v.Add(item), nil
}

// MAdd applies Add to every item, stopping at the first non-scaling
// capacity error (matching Redis's all-or-nothing BF.MADD behavior isn't
// required upstream either -- partial application with a per-item result
// is what BF.MADD actually replies with).
func MAdd(v *ds.BloomValue, items [][]byte) ([]bool, error) {
	out := make([]bool, len(items))
	for i, item := range items {
		added, err := Add(v, item)
		if err != nil {
			return out, err
		}
		out[i] = added
	}
	return out, nil
}

// MExists checks membership of every item.
func MExists(v *ds.BloomValue, items [][]byte) []bool {
	out := make([]bool, len(items))
	for i, item := range items {
		out[i] = v.Exists(item)
	}
	return out
}

// Info is BF.INFO's reply shape.
type Info struct {
	Capacity         uint64
	Size             int64
	NumFilters       int
	NumItemsInserted uint64
	ExpansionRate    int
}

func GetInfo(v *ds.BloomValue) Info {
	return Info{
		Capacity:         v.Capacity(),
		Size:             v.MemSize(),
		NumFilters:       v.NumFilters(),
		NumItemsInserted: v.Cardinality(),
		ExpansionRate:    v.Expansion(),
	}
}

// InsertOptions are BF.INSERT's trailing options: CAPACITY, ERROR,
// EXPANSION, NOCREATE, NONSCALING.
type InsertOptions struct {
	Capacity   uint64
	ErrorRate  float64
	Expansion  int
	NoCreate   bool
	NonScaling bool
}

// ParseInsertOptions reads BF.INSERT's options, which precede the ITEMS
// clause: BF.INSERT key [CAPACITY n] [ERROR r] [EXPANSION n] [NOCREATE]
// [NONSCALING] ITEMS item [item ...].
func ParseInsertOptions(args [][]byte) (opts InsertOptions, items [][]byte, err error) {
	opts.Capacity = 100
	opts.ErrorRate = 0.01
	opts.Expansion = DefaultExpansion
	i := 0
	for ; i < len(args); i++ {
		switch string(args[i]) {
		case "CAPACITY":
			if i+1 >= len(args) {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "CAPACITY requires a value")
			}
			n, perr := strconv.ParseUint(string(args[i+1]), 10, 64)
			if perr != nil {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "invalid CAPACITY value")
			}
			opts.Capacity = n
			i++
		case "ERROR":
			if i+1 >= len(args) {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "ERROR requires a value")
			}
			f, perr := strconv.ParseFloat(string(args[i+1]), 64)
			if perr != nil {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "invalid ERROR value")
			}
			opts.ErrorRate = f
			i++
		case "EXPANSION":
			if i+1 >= len(args) {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "EXPANSION requires a value")
			}
			n, perr := strconv.Atoi(string(args[i+1]))
			if perr != nil {
				return opts, nil, kverrors.New(kverrors.SyntaxError, "invalid EXPANSION value")
			}
			opts.Expansion = n
			i++
		case "NOCREATE":
			opts.NoCreate = true
		case "NONSCALING":
			opts.NonScaling = true
			opts.Expansion = 0
		case "ITEMS":
			items = make([][]byte, len(args)-i-1)
			copy(items, args[i+1:])
			return opts, items, nil
		default:
			return opts, nil, kverrors.Newf(kverrors.SyntaxError, "unknown BF.INSERT option %q", string(args[i]))
		}
	}
	return opts, nil, kverrors.New(kverrors.SyntaxError, "BF.INSERT requires ITEMS")
}
