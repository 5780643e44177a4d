package stream

import (
	"sort"

	"github.com/adred-codev/kvengine/internal/ds"
	"github.com/adred-codev/kvengine/internal/kverrors"
)

// Entry is one stream record: an id plus an ordered fields map.
type Entry struct {
	ID     ID
	Fields *ds.HashValue
}

func (e *Entry) memoryUsage() int64 {
	var total int64
	for _, f := range e.Fields.Fields() {
		v, _ := e.Fields.Get(f)
		total += int64(len(f)) + int64(len(v))
	}
	return total
}

// Stream is an append-only log of (id, fields) entries ordered by id, plus
// the consumer-group state layered over it. There's no explicit state enum:
// every operation below is valid whether the stream is empty, freshly
// populated, or already trimmed, so "empty / populated / trimmed" falls out
// of Length and entries rather than being tracked separately.
type Stream struct {
	entries         map[ID]*Entry
	order           []ID // ascending; append-mostly, spliced on XDEL/trim
	Length          uint64
	LastGeneratedID ID
	Groups          map[string]*ConsumerGroup
	MaxLen          int // 0 == unset
	MaxLenApprox    bool
}

func New() *Stream {
	return &Stream{
		entries: make(map[ID]*Entry),
		Groups:  make(map[string]*ConsumerGroup),
	}
}

func (s *Stream) Kind() ds.Kind { return ds.KindStream }

func (s *Stream) MemSize() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.memoryUsage()
	}
	for _, g := range s.Groups {
		total += g.MemoryUsage()
	}
	return total
}

// AddEntry implements XADD. When explicitID is nil, the id is derived from
// nowMs (bumped forward if the clock regressed relative to LastGeneratedID,
// and sequence-incremented if it ties the prior timestamp). An explicit id
// of Zero, or one not strictly greater than LastGeneratedID, is rejected.
func (s *Stream) AddEntry(explicitID *ID, nowMs uint64, fields *ds.HashValue) (ID, error) {
	var id ID
	if explicitID == nil {
		ms := nowMs
		if ms < s.LastGeneratedID.Ms {
			ms = s.LastGeneratedID.Ms
		}
		seq := uint64(0)
		if ms == s.LastGeneratedID.Ms {
			seq = s.LastGeneratedID.Seq + 1
		}
		id = ID{Ms: ms, Seq: seq}
	} else {
		id = *explicitID
		if id == Zero {
			return ID{}, kverrors.New(kverrors.InvalidState, "ERR The ID specified in XADD must be greater than 0-0")
		}
		if id.Compare(s.LastGeneratedID) <= 0 && (s.LastGeneratedID != Zero || s.Length > 0) {
			return ID{}, kverrors.New(kverrors.InvalidState, "ERR The ID specified in XADD is equal or smaller than the target stream top item")
		}
	}

	s.entries[id] = &Entry{ID: id, Fields: fields}
	s.order = append(s.order, id)
	s.LastGeneratedID = id
	s.Length++

	if s.MaxLen > 0 {
		s.trimInternal(s.MaxLen)
	}
	return id, nil
}

// Trim removes the oldest entries until Length <= maxlen. approximate
// permits block-granularity trimming for efficiency: this implementation
// only trims once a full block's worth of slack (approxBlockSize) has
// accumulated, so the stream may run up to that many entries over maxlen
// between trims.
const approxBlockSize = 100

func (s *Stream) Trim(maxlen int, approximate bool) int {
	s.MaxLen = maxlen
	s.MaxLenApprox = approximate
	target := maxlen
	if approximate {
		// Only trim once a full block's worth of slack has accumulated.
		if int(s.Length)-maxlen < approxBlockSize {
			return 0
		}
		target = maxlen
	}
	return s.trimInternal(target)
}

func (s *Stream) trimInternal(maxlen int) int {
	removed := 0
	for int(s.Length) > maxlen && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
		s.Length--
		removed++
	}
	return removed
}

// Delete removes each id, decrementing Length per removal.
func (s *Stream) Delete(ids []ID) int {
	removed := 0
	for _, id := range ids {
		if _, ok := s.entries[id]; !ok {
			continue
		}
		delete(s.entries, id)
		s.Length--
		removed++
		i := sort.Search(len(s.order), func(i int) bool { return !s.order[i].Less(id) })
		if i < len(s.order) && s.order[i] == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
		}
	}
	return removed
}

// Get returns the entry at id, if present.
func (s *Stream) Get(id ID) (*Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Range returns entries with start <= id <= end, inclusive, ascending.
func (s *Stream) Range(start, end ID) []*Entry {
	lo := sort.Search(len(s.order), func(i int) bool { return !s.order[i].Less(start) })
	var out []*Entry
	for i := lo; i < len(s.order); i++ {
		id := s.order[i]
		if id.Compare(end) > 0 {
			break
		}
		out = append(out, s.entries[id])
	}
	return out
}

// After returns entries with id > after, ascending, used by XREAD ">" and
// consumer-group "read new".
func (s *Stream) After(after ID) []*Entry {
	lo := sort.Search(len(s.order), func(i int) bool { return after.Less(s.order[i]) })
	out := make([]*Entry, 0, len(s.order)-lo)
	for i := lo; i < len(s.order); i++ {
		out = append(out, s.entries[s.order[i]])
	}
	return out
}

// Len is the number of live entries.
func (s *Stream) Len() int { return len(s.entries) }
