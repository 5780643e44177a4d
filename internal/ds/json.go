package ds

import "encoding/json"

// JSONValue is the JSON-document variant: a generic decoded document, with
// JSONPath evaluation left to internal/jsonval.
type JSONValue struct {
	Doc      any
	rawBytes int64 // cached encoded size for MemSize
}

func NewJSON(doc any) *JSONValue {
	v := &JSONValue{Doc: doc}
	v.Recompute()
	return v
}

func (v *JSONValue) Kind() Kind     { return KindJSON }
func (v *JSONValue) MemSize() int64 { return v.rawBytes }

// Recompute refreshes the cached byte size after an in-place mutation of
// Doc. Callers that mutate Doc must call this before the shard lock is
// released so the memory counter stays accurate.
func (v *JSONValue) Recompute() {
	b, err := json.Marshal(v.Doc)
	if err != nil {
		v.rawBytes = 0
		return
	}
	v.rawBytes = int64(len(b))
}
