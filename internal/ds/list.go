package ds

import "container/list"

// ListValue is the List(ordered sequence of bytes) variant, backed by a
// doubly linked list for O(1) push/pop at both ends.
type ListValue struct {
	l    *list.List
	size int64 // sum of element byte lengths
}

func NewList() *ListValue {
	return &ListValue{l: list.New()}
}

func (v *ListValue) Kind() Kind     { return KindList }
func (v *ListValue) MemSize() int64 { return v.size }
func (v *ListValue) Len() int       { return v.l.Len() }

func (v *ListValue) PushLeft(values ...[]byte) {
	for _, b := range values {
		v.l.PushFront(b)
		v.size += int64(len(b))
	}
}

func (v *ListValue) PushRight(values ...[]byte) {
	for _, b := range values {
		v.l.PushBack(b)
		v.size += int64(len(b))
	}
}

func (v *ListValue) PopLeft() ([]byte, bool) {
	e := v.l.Front()
	if e == nil {
		return nil, false
	}
	v.l.Remove(e)
	b := e.Value.([]byte)
	v.size -= int64(len(b))
	return b, true
}

func (v *ListValue) PopRight() ([]byte, bool) {
	e := v.l.Back()
	if e == nil {
		return nil, false
	}
	v.l.Remove(e)
	b := e.Value.([]byte)
	v.size -= int64(len(b))
	return b, true
}

// Range returns elements [start,stop] inclusive with Redis-style negative
// indices (-1 == last element).
func (v *ListValue) Range(start, stop int) [][]byte {
	n := v.l.Len()
	start = normalizeIndex(start, n)
	stop = normalizeIndex(stop, n)
	if start > stop || start >= n || n == 0 {
		return nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([][]byte, 0, stop-start+1)
	i := 0
	for e := v.l.Front(); e != nil; e = e.Next() {
		if i > stop {
			break
		}
		if i >= start {
			out = append(out, e.Value.([]byte))
		}
		i++
	}
	return out
}

func normalizeIndex(idx, n int) int {
	if idx < 0 {
		idx = n + idx
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
