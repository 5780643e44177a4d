// Package stream implements an append-only entry log per key with
// consumer groups, a pending-entry index, and an idle-time index.
package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a stream entry identifier: (timestamp_ms, sequence), ordered
// lexicographically.
type ID struct {
	Ms  uint64
	Seq uint64
}

// Zero is the sentinel id that can never be added explicitly.
var Zero = ID{}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other, ordering first by Ms then by Seq.
func (id ID) Compare(other ID) int {
	switch {
	case id.Ms != other.Ms:
		if id.Ms < other.Ms {
			return -1
		}
		return 1
	case id.Seq != other.Seq:
		if id.Seq < other.Seq {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

func (id ID) String() string { return fmt.Sprintf("%d-%d", id.Ms, id.Seq) }

// ParseID parses a StreamId in "ms-seq", "ms" (seq defaults to 0), or "0"
// form.
func ParseID(s string) (ID, error) {
	if s == "0" {
		return ID{}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid timestamp in stream id %q", s)
	}
	if len(parts) == 1 {
		return ID{Ms: ms}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid sequence in stream id %q", s)
	}
	return ID{Ms: ms, Seq: seq}, nil
}
