package jsonval

import (
	"github.com/adred-codev/kvengine/internal/kverrors"
)

// Get evaluates path against doc and returns every matched value.
func Get(doc any, path Path) ([]any, error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		if v, ok := r.Get(); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Set assigns newValue at every location path resolves to (creating a
// new leaf key where the parent object exists but the key doesn't),
// returning the possibly-replaced root and the number of locations set.
func Set(doc any, path Path, newValue any) (newRoot any, count int, err error) {
	if path.IsRoot() {
		return newValue, 1, nil
	}
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	for _, r := range refs {
		r.Set(newValue)
		count++
	}
	return root, count, nil
}

// Del removes every location path resolves to, returning the possibly
// replaced root and how many were removed.
func Del(doc any, path Path) (newRoot any, count int) {
	if path.IsRoot() {
		return nil, 1
	}
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0
	}
	for _, r := range refs {
		if _, ok := r.Get(); ok {
			r.Delete()
			count++
		}
	}
	return root, count
}

// TypeOf reports RedisJSON's type name for a matched value.
func TypeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// ArrLen reports the length of an array value, erroring if v isn't one.
func ArrLen(v any) (int, error) {
	arr, ok := v.([]any)
	if !ok {
		return 0, kverrors.New(kverrors.WrongType, "not an array")
	}
	return len(arr), nil
}

// ArrAppend appends items to the array at every matched location,
// in-place via each Ref's Set, returning the new length of the last
// matched array.
func ArrAppend(doc any, path Path, items ...any) (newRoot any, newLen int, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	if len(refs) == 0 {
		return doc, 0, kverrors.New(kverrors.KeyNotFound, "path does not exist")
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return doc, 0, kverrors.New(kverrors.WrongType, "path is not an array")
		}
		arr = append(arr, items...)
		r.Set(arr)
		newLen = len(arr)
	}
	return root, newLen, nil
}

// ArrInsert inserts items at idx (Redis-style, negative counts from the
// end) into the array at every matched location.
func ArrInsert(doc any, path Path, idx int, items ...any) (newRoot any, newLen int, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return doc, 0, kverrors.New(kverrors.WrongType, "path is not an array")
		}
		at := idx
		if at < 0 {
			at += len(arr) + 1
		}
		if at < 0 || at > len(arr) {
			return doc, 0, kverrors.New(kverrors.SyntaxError, "index out of range")
		}
		out := make([]any, 0, len(arr)+len(items))
		out = append(out, arr[:at]...)
		out = append(out, items...)
		out = append(out, arr[at:]...)
		r.Set(out)
		newLen = len(out)
	}
	return root, newLen, nil
}

// ArrPop removes and returns the element at idx (default last) from the
// array at path's first match.
func ArrPop(doc any, path Path, idx int) (newRoot any, popped any, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, nil, err
	}
	if len(refs) == 0 {
		return doc, nil, kverrors.New(kverrors.KeyNotFound, "path does not exist")
	}
	r := refs[0]
	v, ok := r.Get()
	if !ok {
		return doc, nil, kverrors.New(kverrors.KeyNotFound, "path does not exist")
	}
	arr, ok := v.([]any)
	if !ok {
		return doc, nil, kverrors.New(kverrors.WrongType, "path is not an array")
	}
	if len(arr) == 0 {
		return root, nil, nil
	}
	at := idx
	if at < 0 {
		at += len(arr)
	}
	if at < 0 || at >= len(arr) {
		return doc, nil, kverrors.New(kverrors.SyntaxError, "index out of range")
	}
	popped = arr[at]
	out := make([]any, 0, len(arr)-1)
	out = append(out, arr[:at]...)
	out = append(out, arr[at+1:]...)
	r.Set(out)
	return root, popped, nil
}

// ArrIndex returns the index of value within the array v, or -1 if not
// found.
func ArrIndex(v any, value any) (int, error) {
	arr, ok := v.([]any)
	if !ok {
		return 0, kverrors.New(kverrors.WrongType, "not an array")
	}
	for i, elem := range arr {
		if deepEqual(elem, value) {
			return i, nil
		}
	}
	return -1, nil
}

// ArrTrim trims the array at path's matches to [start, stop] inclusive
// (Redis-style indices).
func ArrTrim(doc any, path Path, start, stop int) (newRoot any, newLen int, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return doc, 0, kverrors.New(kverrors.WrongType, "path is not an array")
		}
		n := len(arr)
		s, e := start, stop
		if s < 0 {
			s += n
			if s < 0 {
				s = 0
			}
		}
		if e < 0 {
			e += n
		}
		if e >= n {
			e = n - 1
		}
		if s > e || n == 0 {
			r.Set([]any{})
			continue
		}
		out := make([]any, e-s+1)
		copy(out, arr[s:e+1])
		r.Set(out)
		newLen = len(out)
	}
	return root, newLen, nil
}

// ObjKeys returns the keys of an object value in Go map iteration order,
// which is not stable between calls.
func ObjKeys(v any) ([]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, kverrors.New(kverrors.WrongType, "not an object")
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out, nil
}

func ObjLen(v any) (int, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, kverrors.New(kverrors.WrongType, "not an object")
	}
	return len(m), nil
}

func StrLen(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, kverrors.New(kverrors.WrongType, "not a string")
	}
	return len(s), nil
}

// StrAppend appends suffix to the string at every matched location.
func StrAppend(doc any, path Path, suffix string) (newRoot any, newLen int, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return doc, 0, kverrors.New(kverrors.WrongType, "path is not a string")
		}
		s += suffix
		r.Set(s)
		newLen = len(s)
	}
	return root, newLen, nil
}

// NumIncrBy adds delta to the number at every matched location.
func NumIncrBy(doc any, path Path, delta float64) (newRoot any, results []float64, err error) {
	return numOp(doc, path, func(n float64) float64 { return n + delta })
}

// NumMultBy multiplies the number at every matched location by factor.
func NumMultBy(doc any, path Path, factor float64) (newRoot any, results []float64, err error) {
	return numOp(doc, path, func(n float64) float64 { return n * factor })
}

func numOp(doc any, path Path, f func(float64) float64) (newRoot any, results []float64, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, nil, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			return doc, nil, kverrors.New(kverrors.WrongType, "path is not a number")
		}
		n = f(n)
		r.Set(n)
		results = append(results, n)
	}
	return root, results, nil
}

// Toggle flips a boolean value at every matched location.
func Toggle(doc any, path Path) (newRoot any, results []bool, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, nil, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return doc, nil, kverrors.New(kverrors.WrongType, "path is not a boolean")
		}
		b = !b
		r.Set(b)
		results = append(results, b)
	}
	return root, results, nil
}

// Clear empties every container (object/array) value at path's matches
// and zeroes every numeric one, matching JSON.CLEAR's documented scope.
func Clear(doc any, path Path) (newRoot any, cleared int, err error) {
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, 0, err
	}
	for _, r := range refs {
		v, ok := r.Get()
		if !ok {
			continue
		}
		switch v.(type) {
		case map[string]any:
			r.Set(map[string]any{})
		case []any:
			r.Set([]any{})
		case float64:
			r.Set(float64(0))
		default:
			continue
		}
		cleared++
	}
	return root, cleared, nil
}

// Merge applies an RFC 7396 JSON Merge Patch at every match of path (or
// the whole document if path is root), backing JSON.MERGE.
func Merge(doc any, path Path, patch any) (any, error) {
	if path.IsRoot() {
		return mergePatch(doc, patch), nil
	}
	root := doc
	refs, err := Resolve(&root, path)
	if err != nil {
		return doc, err
	}
	for _, r := range refs {
		cur, _ := r.Get()
		r.Set(mergePatch(cur, patch))
	}
	return root, nil
}

func mergePatch(target, patch any) any {
	patchObj, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	targetObj, ok := target.(map[string]any)
	if !ok {
		targetObj = map[string]any{}
	}
	out := make(map[string]any, len(targetObj))
	for k, v := range targetObj {
		out[k] = v
	}
	for k, v := range patchObj {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = mergePatch(out[k], v)
	}
	return out
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
