// Package jsonval evaluates a small JSONPath-like subset over the generic
// any-typed documents internal/ds.JSONValue holds (map[string]any,
// []any, and scalars, exactly what encoding/json.Unmarshal into `any`
// produces), and implements the JSON.* command family's mutating
// operations on top of path resolution.
//
// Supported path grammar: "$" (root), ".field", "[idx]", "[*]", and
// ".*", chained arbitrarily (e.g. "$.users[0].tags[*]"). A leading "$"
// is optional -- ".field" alone is equivalent to "$.field", matching
// RedisJSON's legacy path dialect.
package jsonval

import (
	"strconv"
	"strings"

	"github.com/adred-codev/kvengine/internal/kverrors"
)

type segKind int

const (
	segKey segKind = iota
	segIndex
	segWildcard
)

type segment struct {
	kind  segKind
	key   string
	index int
}

// Path is a parsed path expression, ready for repeated Resolve calls.
type Path struct {
	segs []segment
	raw  string
}

func (p Path) IsRoot() bool   { return len(p.segs) == 0 }
func (p Path) String() string { return p.raw }

// ParsePath parses a path expression into a Path.
func ParsePath(raw string) (Path, error) {
	s := raw
	if strings.HasPrefix(s, "$") {
		s = s[1:]
	}
	var segs []segment
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			if i < len(s) && s[i] == '*' {
				segs = append(segs, segment{kind: segWildcard})
				i++
				continue
			}
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				i++
			}
			if i == start {
				return Path{}, kverrors.Newf(kverrors.SyntaxError, "empty path segment in %q", raw)
			}
			segs = append(segs, segment{kind: segKey, key: s[start:i]})
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return Path{}, kverrors.Newf(kverrors.SyntaxError, "unterminated [ in path %q", raw)
			}
			inner := s[i+1 : i+end]
			i += end + 1
			if inner == "*" {
				segs = append(segs, segment{kind: segWildcard})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil {
				return Path{}, kverrors.Newf(kverrors.SyntaxError, "invalid array index %q in path %q", inner, raw)
			}
			segs = append(segs, segment{kind: segIndex, index: idx})
		default:
			return Path{}, kverrors.Newf(kverrors.SyntaxError, "unexpected character %q in path %q", s[i], raw)
		}
	}
	return Path{segs: segs, raw: raw}, nil
}

// Ref is one resolved, addressable location within a document: a value
// plus closures to replace or remove it in its parent container.
type Ref struct {
	Get    func() (any, bool)
	Set    func(v any)
	Delete func()
}

// Resolve evaluates path against the document held at *root, returning
// one Ref per match. Missing map keys still resolve to a settable (but
// not yet gettable) Ref so JSON.SET can create a new leaf; missing array
// indices do not match anything.
func Resolve(root *any, path Path) ([]*Ref, error) {
	refs := []*Ref{rootRef(root)}
	for _, seg := range path.segs {
		var next []*Ref
		for _, r := range refs {
			val, ok := r.Get()
			if !ok {
				continue
			}
			matched, err := stepInto(r, val, seg)
			if err != nil {
				return nil, err
			}
			next = append(next, matched...)
		}
		refs = next
	}
	return refs, nil
}

func rootRef(root *any) *Ref {
	return &Ref{
		Get:    func() (any, bool) { return *root, true },
		Set:    func(v any) { *root = v },
		Delete: func() { *root = nil },
	}
}

func stepInto(parent *Ref, val any, seg segment) ([]*Ref, error) {
	switch seg.kind {
	case segKey:
		m, ok := val.(map[string]any)
		if !ok {
			return nil, kverrors.Newf(kverrors.WrongType, "path segment %q is not an object", seg.key)
		}
		key := seg.key
		return []*Ref{mapRef(m, key)}, nil
	case segIndex:
		s, ok := val.([]any)
		if !ok {
			return nil, kverrors.New(kverrors.WrongType, "path segment is not an array")
		}
		idx := seg.index
		if idx < 0 {
			idx += len(s)
		}
		if idx < 0 || idx >= len(s) {
			return nil, nil
		}
		return []*Ref{arrayRef(parent, s, idx)}, nil
	case segWildcard:
		switch vv := val.(type) {
		case map[string]any:
			out := make([]*Ref, 0, len(vv))
			for k := range vv {
				out = append(out, mapRef(vv, k))
			}
			return out, nil
		case []any:
			out := make([]*Ref, 0, len(vv))
			for i := range vv {
				out = append(out, arrayRef(parent, vv, i))
			}
			return out, nil
		default:
			return nil, nil
		}
	default:
		return nil, nil
	}
}

func mapRef(m map[string]any, key string) *Ref {
	return &Ref{
		Get:    func() (any, bool) { v, ok := m[key]; return v, ok },
		Set:    func(v any) { m[key] = v },
		Delete: func() { delete(m, key) },
	}
}

// arrayRef's Delete reslices and writes the shortened array back through
// the parent's Set, since removing an element changes the slice header
// the parent container holds.
func arrayRef(parent *Ref, s []any, idx int) *Ref {
	return &Ref{
		Get: func() (any, bool) { return s[idx], true },
		Set: func(v any) { s[idx] = v },
		Delete: func() {
			out := make([]any, 0, len(s)-1)
			out = append(out, s[:idx]...)
			out = append(out, s[idx+1:]...)
			parent.Set(out)
		},
	}
}
