package ds

// HashValue is the Hash(ordered mapping bytes->bytes) variant. Insertion
// order is preserved the way the corpus's IndexMap-backed equivalents do,
// via a side slice of keys alongside the lookup map.
type HashValue struct {
	order []string
	data  map[string][]byte
	size  int64
}

func NewHash() *HashValue {
	return &HashValue{data: make(map[string][]byte)}
}

func (v *HashValue) Kind() Kind     { return KindHash }
func (v *HashValue) MemSize() int64 { return v.size }
func (v *HashValue) Len() int       { return len(v.data) }

// Set inserts or overwrites a field, reporting whether it was newly created.
func (v *HashValue) Set(field string, value []byte) (created bool) {
	old, exists := v.data[field]
	if !exists {
		v.order = append(v.order, field)
		v.size += int64(len(field)) + int64(len(value))
	} else {
		v.size += int64(len(value)) - int64(len(old))
	}
	v.data[field] = value
	return !exists
}

func (v *HashValue) Get(field string) ([]byte, bool) {
	b, ok := v.data[field]
	return b, ok
}

func (v *HashValue) Del(field string) bool {
	old, ok := v.data[field]
	if !ok {
		return false
	}
	delete(v.data, field)
	v.size -= int64(len(field)) + int64(len(old))
	for i, f := range v.order {
		if f == field {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// Fields returns field names in insertion order.
func (v *HashValue) Fields() []string {
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}
