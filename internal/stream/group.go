package stream

import "sort"

// PendingEntryInfo records one delivered-but-unacknowledged entry.
type PendingEntryInfo struct {
	Consumer       string
	DeliveryCount  uint64
	DeliveryTimeMs int64
}

// Consumer is one named reader within a ConsumerGroup.
type Consumer struct {
	Name       string
	SeenTimeMs int64
	PendingIDs map[ID]struct{}
}

func newConsumer(name string, nowMs int64) *Consumer {
	return &Consumer{Name: name, SeenTimeMs: nowMs, PendingIDs: make(map[ID]struct{})}
}

type idleEntry struct {
	DeliveryTimeMs int64
	ID             ID
}

func idleLess(a, b idleEntry) bool {
	if a.DeliveryTimeMs != b.DeliveryTimeMs {
		return a.DeliveryTimeMs < b.DeliveryTimeMs
	}
	return a.ID.Less(b.ID)
}

// ConsumerGroup is one named reader group over a Stream.
//
// Invariant: for every id in pendingByID there is a matching entry in the
// owning consumer's PendingIDs and in idleIndex keyed by its current
// DeliveryTimeMs. Every mutating method below maintains all three, and
// callers are expected to hold a single lock across the whole call so the
// triple never observably diverges.
type ConsumerGroup struct {
	Name            string
	LastDeliveredID ID
	Consumers       map[string]*Consumer

	pendingByID map[ID]*PendingEntryInfo
	pendingIDs  []ID        // kept sorted ascending for range scans
	idleIndex   []idleEntry // kept sorted by (DeliveryTimeMs, ID)
}

func NewConsumerGroup(name string, startID ID) *ConsumerGroup {
	return &ConsumerGroup{
		Name:            name,
		LastDeliveredID: startID,
		Consumers:       make(map[string]*Consumer),
		pendingByID:     make(map[ID]*PendingEntryInfo),
	}
}

func (g *ConsumerGroup) getOrCreateConsumer(name string, nowMs int64) *Consumer {
	c, ok := g.Consumers[name]
	if !ok {
		c = newConsumer(name, nowMs)
		g.Consumers[name] = c
	}
	c.SeenTimeMs = nowMs
	return c
}

func (g *ConsumerGroup) insertPendingSorted(id ID) {
	i := sort.Search(len(g.pendingIDs), func(i int) bool { return !g.pendingIDs[i].Less(id) })
	g.pendingIDs = append(g.pendingIDs, ID{})
	copy(g.pendingIDs[i+1:], g.pendingIDs[i:])
	g.pendingIDs[i] = id
}

func (g *ConsumerGroup) removePendingSorted(id ID) {
	i := sort.Search(len(g.pendingIDs), func(i int) bool { return !g.pendingIDs[i].Less(id) })
	if i < len(g.pendingIDs) && g.pendingIDs[i] == id {
		g.pendingIDs = append(g.pendingIDs[:i], g.pendingIDs[i+1:]...)
	}
}

func (g *ConsumerGroup) insertIdle(e idleEntry) {
	i := sort.Search(len(g.idleIndex), func(i int) bool { return !idleLess(g.idleIndex[i], e) })
	g.idleIndex = append(g.idleIndex, idleEntry{})
	copy(g.idleIndex[i+1:], g.idleIndex[i:])
	g.idleIndex[i] = e
}

func (g *ConsumerGroup) removeIdle(e idleEntry) {
	i := sort.Search(len(g.idleIndex), func(i int) bool { return !idleLess(g.idleIndex[i], e) })
	if i < len(g.idleIndex) && g.idleIndex[i] == e {
		g.idleIndex = append(g.idleIndex[:i], g.idleIndex[i+1:]...)
	}
}

// deliver records a freshly-delivered entry into the PEL/consumer/idle
// triple, unless noAck is set.
func (g *ConsumerGroup) deliver(id ID, consumerName string, nowMs int64, noAck bool) {
	g.LastDeliveredID = id
	if noAck {
		return
	}
	info := &PendingEntryInfo{Consumer: consumerName, DeliveryCount: 1, DeliveryTimeMs: nowMs}
	g.pendingByID[id] = info
	g.insertPendingSorted(id)

	c := g.getOrCreateConsumer(consumerName, nowMs)
	c.PendingIDs[id] = struct{}{}
	g.insertIdle(idleEntry{DeliveryTimeMs: nowMs, ID: id})
}

// Ack removes id from the PEL/consumer/idle triple, reporting whether it
// had been pending.
func (g *ConsumerGroup) Ack(id ID) bool {
	info, ok := g.pendingByID[id]
	if !ok {
		return false
	}
	delete(g.pendingByID, id)
	g.removePendingSorted(id)
	g.removeIdle(idleEntry{DeliveryTimeMs: info.DeliveryTimeMs, ID: id})
	if c, ok := g.Consumers[info.Consumer]; ok {
		delete(c.PendingIDs, id)
	}
	return true
}

// Pending returns the PendingEntryInfo for id, if present.
func (g *ConsumerGroup) Pending(id ID) (*PendingEntryInfo, bool) {
	info, ok := g.pendingByID[id]
	return info, ok
}

// PendingFrom returns pending ids >= from (ascending), optionally filtered
// to one consumer.
func (g *ConsumerGroup) PendingFrom(from ID, consumerFilter string) []ID {
	i := sort.Search(len(g.pendingIDs), func(i int) bool { return !g.pendingIDs[i].Less(from) })
	var out []ID
	for ; i < len(g.pendingIDs); i++ {
		id := g.pendingIDs[i]
		if consumerFilter != "" && g.pendingByID[id].Consumer != consumerFilter {
			continue
		}
		out = append(out, id)
	}
	return out
}

// PendingCount is the size of the PEL, for XPENDING's summary form.
func (g *ConsumerGroup) PendingCount() int { return len(g.pendingByID) }

// PendingRange returns the [lowest,highest] pending ids, or (Zero, Zero,
// false) if the PEL is empty.
func (g *ConsumerGroup) PendingRange() (lo, hi ID, ok bool) {
	if len(g.pendingIDs) == 0 {
		return ID{}, ID{}, false
	}
	return g.pendingIDs[0], g.pendingIDs[len(g.pendingIDs)-1], true
}

// claimResult is the outcome of reassigning one pending entry.
type claimResult struct {
	ID   ID
	Info PendingEntryInfo
}

// Claim reassigns every id present in the PEL whose current idle time
// (nowMs - DeliveryTimeMs) is >= minIdleMs, or unconditionally when force
// is set for ids absent from the PEL (inserting a fresh PEL record). All
// affected ids' index updates happen within this one call.
func (g *ConsumerGroup) Claim(ids []ID, newConsumer string, nowMs int64, minIdleMs int64, force bool, newDeliveryTimeMs int64, retryCount int64, hasRetryCount bool) []claimResult {
	var out []claimResult
	for _, id := range ids {
		info, exists := g.pendingByID[id]
		if exists {
			idle := nowMs - info.DeliveryTimeMs
			if idle < minIdleMs && !force {
				continue
			}
			g.removeIdle(idleEntry{DeliveryTimeMs: info.DeliveryTimeMs, ID: id})
			if oldC, ok := g.Consumers[info.Consumer]; ok {
				delete(oldC.PendingIDs, id)
			}
		} else if !force {
			continue
		}

		newTime := nowMs
		if newDeliveryTimeMs > 0 {
			newTime = newDeliveryTimeMs
		}
		var deliveryCount uint64 = 1
		if exists {
			deliveryCount = info.DeliveryCount + 1
		}
		if hasRetryCount {
			deliveryCount = uint64(retryCount)
		}

		newInfo := &PendingEntryInfo{Consumer: newConsumer, DeliveryCount: deliveryCount, DeliveryTimeMs: newTime}
		if !exists {
			g.insertPendingSorted(id)
		}
		g.pendingByID[id] = newInfo

		c := g.getOrCreateConsumer(newConsumer, nowMs)
		c.PendingIDs[id] = struct{}{}
		g.insertIdle(idleEntry{DeliveryTimeMs: newTime, ID: id})

		out = append(out, claimResult{ID: id, Info: *newInfo})
	}
	return out
}

// ScanIdle scans the whole idle index for entries idle for at least
// minIdleMs whose id is >= cursor, collecting up to count of them. The
// index is sorted by (DeliveryTimeMs, ID), not by ID, so a candidate's id
// is checked against cursor on every entry rather than by breaking out of
// a positional skip loop -- the first entry past an idle-time bound can
// have any id relative to cursor, low or high. When count is reached while
// more eligible entries remain, next is the first of those not collected,
// ready to pass back in as the following call's cursor. When the index runs
// out first, next is the last id collected, or cursor unchanged if nothing
// matched.
func (g *ConsumerGroup) ScanIdle(cursor ID, minIdleMs int64, nowMs int64, count int) (ids []ID, next ID) {
	next = cursor
	for _, e := range g.idleIndex {
		if nowMs-e.DeliveryTimeMs < minIdleMs {
			continue
		}
		if e.ID.Less(cursor) {
			continue
		}
		if len(ids) >= count {
			return ids, e.ID
		}
		ids = append(ids, e.ID)
		next = e.ID
	}
	return ids, next
}

// MemoryUsage is a pure summation of group bookkeeping.
func (g *ConsumerGroup) MemoryUsage() int64 {
	var total int64
	total += int64(len(g.Name))
	for id, info := range g.pendingByID {
		_ = id
		total += 8 + 8 + int64(len(info.Consumer)) + 8 + 8
	}
	for name, c := range g.Consumers {
		total += int64(len(name)) + 8 + int64(len(c.PendingIDs))*16
	}
	return total
}
