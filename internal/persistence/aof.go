// Package persistence implements the append-only command log: writes the
// canonical bytes of every executed write command to a file, applies a
// configurable fsync policy, supports a background rewrite that compacts
// the log to a snapshot of current state plus whatever commands landed
// during the rewrite, and replays a log on startup. Frame encoding reuses
// internal/protocol's request codec -- a logged record is exactly the
// bytes a client would have sent, except for the one leading snapshot
// record a rewrite produces.
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/kvengine/internal/protocol"
)

// FsyncPolicy tunes how aggressively the log is flushed to durable
// storage.
type FsyncPolicy int

const (
	// FsyncNever relies entirely on the OS page cache flush schedule.
	FsyncNever FsyncPolicy = iota
	// FsyncEverySecond batches fsyncs on a one-second background tick.
	FsyncEverySecond
	// FsyncAlways fsyncs after every appended command.
	FsyncAlways
)

// snapshotRecordTag marks a rewritten log's leading record as a compact
// state snapshot rather than a command frame. It can never collide with a
// real command name since command.Parse only ever sees frames handed to
// apply, never this one.
const snapshotRecordTag = "__kvengine_snapshot__"

// Log is the append-only command log for one keyspace.
type Log struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer
	policy FsyncPolicy
	logger zerolog.Logger
	dirty  bool
}

// Open opens (creating if absent) the log file at path for appending.
func Open(path string, policy FsyncPolicy, logger zerolog.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open persistence log %q: %w", path, err)
	}
	return &Log{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		policy: policy,
		logger: logger.With().Str("component", "persistence_log").Str("path", path).Logger(),
	}, nil
}

// Append writes one command's canonical frame to the log, applying the
// configured fsync policy. Callers append only commands that have
// already executed successfully -- a logged-then-failed command would
// corrupt replay.
func (l *Log) Append(args [][]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := protocol.WriteFrame(l.writer, args); err != nil {
		return fmt.Errorf("append to persistence log: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush persistence log: %w", err)
	}

	switch l.policy {
	case FsyncAlways:
		return l.file.Sync()
	case FsyncEverySecond:
		l.dirty = true
		return nil
	default:
		return nil
	}
}

// RunFsyncTicker fsyncs once per second while dirty, for FsyncEverySecond.
// A no-op loop for the other policies; callers can start it
// unconditionally and let the policy decide whether it does anything.
func (l *Log) RunFsyncTicker(stop <-chan struct{}) {
	if l.policy != FsyncEverySecond {
		<-stop
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			dirty := l.dirty
			l.dirty = false
			l.mu.Unlock()
			if dirty {
				if err := l.file.Sync(); err != nil {
					l.logger.Error().Err(err).Msg("periodic fsync failed")
				}
			}
		case <-stop:
			return
		}
	}
}

// Rewrite compacts the log to snapshot, a compact blob of current state
// (built by the caller, typically Engine.Snapshot, before any further
// writes are appended). It replaces the on-disk log with one leading
// snapshot record and nothing else, atomically via rename, then reopens
// for appending so every command logged after Rewrite is called lands
// after the snapshot record in the new file. Rewrite holds the log's own
// lock for its duration, so Append calls for commands racing the rewrite
// simply wait and land in the post-rewrite file rather than interleave
// with it.
func (l *Log) Rewrite(snapshot []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpPath := l.path + ".rewrite"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create rewrite file: %w", err)
	}
	bw := bufio.NewWriter(tmpFile)
	if err := protocol.WriteFrame(bw, [][]byte{[]byte(snapshotRecordTag), snapshot}); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write snapshot record: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flush rewrite file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync rewrite file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close rewrite file: %w", err)
	}

	if err := l.writer.Flush(); err != nil {
		l.logger.Warn().Err(err).Msg("flush before rewrite install failed")
	}
	if err := l.file.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("close before rewrite install failed")
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("install rewritten log: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen log after rewrite: %w", err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.dirty = false
	l.logger.Info().Int("snapshot_bytes", len(snapshot)).Msg("rewrote persistence log")
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
