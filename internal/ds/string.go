package ds

// StringValue is the String(bytes) variant.
type StringValue struct {
	Data []byte
}

func NewString(b []byte) *StringValue { return &StringValue{Data: b} }

func (s *StringValue) Kind() Kind { return KindString }

func (s *StringValue) MemSize() int64 { return int64(len(s.Data)) }
