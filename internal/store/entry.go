package store

import "github.com/adred-codev/kvengine/internal/ds"

// Entry is one Stored Value plus its accounting metadata.
type Entry struct {
	Value ds.Value

	// SizeBytes is the byte size used for shard memory accounting: key
	// bytes + Value.MemSize().
	SizeBytes int64

	// ExpireAtUnixNano is the absolute expiry instant, or 0 if the key
	// never expires.
	ExpireAtUnixNano int64

	// Version is bumped on every mutation and is the basis for WATCH's
	// optimistic concurrency check.
	Version uint64

	lruTouchedAt int64 // unix nano, used by the LRU eviction policy
}

// HasExpiry reports whether the entry carries an expiration instant.
func (e *Entry) HasExpiry() bool { return e.ExpireAtUnixNano != 0 }

// ExpiredAt reports whether the entry is expired as of nowUnixNano.
func (e *Entry) ExpiredAt(nowUnixNano int64) bool {
	return e.HasExpiry() && e.ExpireAtUnixNano <= nowUnixNano
}
