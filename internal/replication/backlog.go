// Package replication implements the primary side of asynchronous
// replication: a byte-bounded backlog of serialized write frames, a feeder
// that assigns offsets and fans frames out to connected followers, and a
// follower session that performs the PSYNC-style handshake and ack loop.
package replication

import "sync"

// Record is one backlog entry: a write command's canonical frame bytes at
// a fixed offset in the replication stream.
type Record struct {
	Offset uint64
	Frame  []byte
}

// Backlog is a FIFO of records retained by total byte size rather than
// count, so a stream of small writes keeps more history than the same
// byte budget spent on a few large ones.
type Backlog struct {
	mu            sync.Mutex
	records       []Record
	capacityBytes int64
	usedBytes     int64
	nextOffset    uint64
}

// NewBacklog builds an empty backlog with the given byte capacity. A
// non-positive capacity means the backlog retains nothing -- every
// get_since for an offset below the current head misses, forcing full
// resync.
func NewBacklog(capacityBytes int64) *Backlog {
	return &Backlog{capacityBytes: capacityBytes}
}

// Add assigns the next offset to frame, appends it, and evicts the oldest
// records until the backlog is back under capacity.
func (b *Backlog) Add(frame []byte) Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := Record{Offset: b.nextOffset, Frame: frame}
	b.nextOffset += uint64(len(frame))
	b.records = append(b.records, rec)
	b.usedBytes += int64(len(frame))

	for b.usedBytes > b.capacityBytes && len(b.records) > 0 {
		evicted := b.records[0]
		b.records = b.records[1:]
		b.usedBytes -= int64(len(evicted.Frame))
	}
	return rec
}

// NextOffset returns the offset that will be assigned to the next record.
func (b *Backlog) NextOffset() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextOffset
}

// lowestRetained is the smallest offset get_since can serve. With an
// empty backlog that is nextOffset itself: nothing below it is missing
// because nothing has been produced yet at or above it either.
func (b *Backlog) lowestRetained() uint64 {
	if len(b.records) == 0 {
		return b.nextOffset
	}
	return b.records[0].Offset
}

// GetSince returns every retained record at or after offset. ok is false
// when offset falls below the lowest retained offset, meaning the caller
// must fall back to a full resync.
func (b *Backlog) GetSince(offset uint64) (recs []Record, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if offset < b.lowestRetained() {
		return nil, false
	}
	out := make([]Record, 0, len(b.records))
	for _, r := range b.records {
		if r.Offset >= offset {
			out = append(out, r)
		}
	}
	return out, true
}
