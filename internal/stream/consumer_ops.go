package stream

import "github.com/adred-codev/kvengine/internal/kverrors"

// LastIDSentinel is the "$" id meaning "last_generated_id as of group
// creation".
var LastIDSentinel = ID{Ms: ^uint64(0), Seq: ^uint64(0)}

// CreateGroup creates a named consumer group. Fails with BUSYGROUP if one
// already exists. The sentinel id LastIDSentinel resolves to
// LastGeneratedID.
func (s *Stream) CreateGroup(name string, startID ID) error {
	if _, exists := s.Groups[name]; exists {
		return kverrors.New(kverrors.InvalidState, "BUSYGROUP Consumer Group name already exists")
	}
	if startID == LastIDSentinel {
		startID = s.LastGeneratedID
	}
	s.Groups[name] = NewConsumerGroup(name, startID)
	return nil
}

// DestroyGroup removes a group subtree entirely.
func (s *Stream) DestroyGroup(name string) bool {
	if _, ok := s.Groups[name]; !ok {
		return false
	}
	delete(s.Groups, name)
	return true
}

func (s *Stream) group(name string) (*ConsumerGroup, error) {
	g, ok := s.Groups[name]
	if !ok {
		return nil, kverrors.New(kverrors.ConsumerGroupNotFound, "NOGROUP no such consumer group")
	}
	return g, nil
}

// ReadNew implements the "read new" (">") form: entries at ids >
// group.LastDeliveredID, recording delivery into the PEL/consumer/idle
// triple unless noAck is set.
func (s *Stream) ReadNew(groupName, consumerName string, count int, nowMs int64, noAck bool) ([]*Entry, error) {
	g, err := s.group(groupName)
	if err != nil {
		return nil, err
	}
	entries := s.After(g.LastDeliveredID)
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	for _, e := range entries {
		g.deliver(e.ID, consumerName, nowMs, noAck)
	}
	g.getOrCreateConsumer(consumerName, nowMs)
	return entries, nil
}

// ReadPending implements the exact-id form of XREADGROUP: a consumer's own
// already-delivered entries at ids >= from, filtered to consumerName
// (empty-string consumerName is invalid for XREADGROUP but useful for
// XPENDING-style introspection so it is allowed here and callers validate
// before calling).
func (s *Stream) ReadPending(groupName, consumerName string, from ID, count int) ([]*Entry, error) {
	g, err := s.group(groupName)
	if err != nil {
		return nil, err
	}
	ids := g.PendingFrom(from, consumerName)
	if count > 0 && len(ids) > count {
		ids = ids[:count]
	}
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ack implements XACK.
func (s *Stream) Ack(groupName string, ids []ID) (int, error) {
	g, err := s.group(groupName)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if g.Ack(id) {
			n++
		}
	}
	return n, nil
}

// PendingSummary is XPENDING's no-args summary form: {count, lowest,
// highest, per-consumer counts}.
type PendingSummary struct {
	Count       int
	Lowest      ID
	Highest     ID
	HasRange    bool
	PerConsumer map[string]int
}

func (s *Stream) PendingSummary(groupName string) (PendingSummary, error) {
	g, err := s.group(groupName)
	if err != nil {
		return PendingSummary{}, err
	}
	summary := PendingSummary{Count: g.PendingCount(), PerConsumer: make(map[string]int)}
	if lo, hi, ok := g.PendingRange(); ok {
		summary.Lowest, summary.Highest, summary.HasRange = lo, hi, true
	}
	for name, c := range g.Consumers {
		if len(c.PendingIDs) > 0 {
			summary.PerConsumer[name] = len(c.PendingIDs)
		}
	}
	return summary, nil
}

// ClaimOptions configures XCLAIM/XAUTOCLAIM.
type ClaimOptions struct {
	MinIdleMs         int64
	Force             bool
	NewDeliveryTimeMs int64 // 0 == "now"
	RetryCount        int64
	HasRetryCount     bool
}

// Claim implements XCLAIM: reassigns each requested id to newConsumer
// when eligible.
func (s *Stream) Claim(groupName, newConsumer string, ids []ID, nowMs int64, opts ClaimOptions) ([]*Entry, error) {
	g, err := s.group(groupName)
	if err != nil {
		return nil, err
	}
	results := g.Claim(ids, newConsumer, nowMs, opts.MinIdleMs, opts.Force, opts.NewDeliveryTimeMs, opts.RetryCount, opts.HasRetryCount)
	out := make([]*Entry, 0, len(results))
	for _, r := range results {
		if e, ok := s.entries[r.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// AutoClaim implements XAUTOCLAIM: scans the idle index from cursor,
// claiming up to count eligible entries, and returns the next cursor.
func (s *Stream) AutoClaim(groupName, newConsumer string, cursor ID, minIdleMs int64, nowMs int64, count int) (claimed []*Entry, next ID, err error) {
	g, gerr := s.group(groupName)
	if gerr != nil {
		return nil, ID{}, gerr
	}
	ids, nextCursor := g.ScanIdle(cursor, minIdleMs, nowMs, count)
	results := g.Claim(ids, newConsumer, nowMs, minIdleMs, false, 0, 0, false)
	out := make([]*Entry, 0, len(results))
	for _, r := range results {
		if e, ok := s.entries[r.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nextCursor, nil
}
