package replication

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotFunc produces a point-in-time snapshot blob for full resync. The
// caller (the command engine) is responsible for taking it under whatever
// lock ordering guarantees a consistent keyspace view.
type SnapshotFunc func() ([]byte, error)

// PrimarySession is the primary's handler for one connected follower: it
// runs the PSYNC-style handshake, then streams backlog frames as the
// feeder admits new writes, and records periodic ACKs.
type PrimarySession struct {
	id       string
	feeder   *Feeder
	backlog  *Backlog
	snapshot SnapshotFunc
	logger   zerolog.Logger
}

func NewPrimarySession(id string, feeder *Feeder, backlog *Backlog, snapshot SnapshotFunc, logger zerolog.Logger) *PrimarySession {
	return &PrimarySession{
		id:       id,
		feeder:   feeder,
		backlog:  backlog,
		snapshot: snapshot,
		logger:   logger.With().Str("component", "follower_session").Str("follower", id).Logger(),
	}
}

// Handshake runs steps (1)-(3) of the protocol: PING/PONG, then PSYNC with
// the follower's claimed offset. It writes either a "CONTINUE offset"
// acknowledgement followed by backlog records, or a "FULLRESYNC" directive
// followed by a snapshot blob. It returns the offset through which the
// follower has now been brought current, so the caller can hand that
// value to Stream as the resume point. requestedOffset is a fallback used
// only if the follower's PSYNC line carries none (older clients); the
// wire value takes precedence whenever present.
func (s *PrimarySession) Handshake(rw io.ReadWriter, requestedOffset uint64) (syncedTo uint64, err error) {
	r := bufio.NewReader(rw)

	line, err := readLine(r)
	if err != nil {
		return 0, fmt.Errorf("read PING: %w", err)
	}
	if line != "PING" {
		return 0, fmt.Errorf("expected PING, got %q", line)
	}
	if _, err := io.WriteString(rw, "PONG\r\n"); err != nil {
		return 0, err
	}

	psync, err := readLine(r)
	if err != nil {
		return 0, fmt.Errorf("read PSYNC: %w", err)
	}
	if psync != "PSYNC" {
		if _, serr := fmt.Sscanf(psync, "PSYNC %d", &requestedOffset); serr != nil {
			return 0, fmt.Errorf("expected PSYNC, got %q", psync)
		}
	}

	recs, ok := s.backlog.GetSince(requestedOffset)
	if !ok {
		snap, err := s.snapshot()
		if err != nil {
			return 0, fmt.Errorf("build snapshot: %w", err)
		}
		newOffset := s.backlog.NextOffset()
		if _, err := fmt.Fprintf(rw, "FULLRESYNC %d\r\n", newOffset); err != nil {
			return 0, err
		}
		if _, err := fmt.Fprintf(rw, "$%d\r\n", len(snap)); err != nil {
			return 0, err
		}
		if _, err := rw.Write(snap); err != nil {
			return 0, err
		}
		return newOffset, nil
	}

	if _, err := fmt.Fprintf(rw, "CONTINUE %d\r\n", requestedOffset); err != nil {
		return 0, err
	}
	syncedTo = requestedOffset
	for _, rec := range recs {
		if err := writeRecord(rw, rec); err != nil {
			return 0, err
		}
		syncedTo = rec.Offset + uint64(len(rec.Frame))
	}
	return syncedTo, nil
}

// Stream runs after Handshake: it blocks on the feeder's wake channel for
// this follower and forwards any newly backlogged records whose offset is
// at or beyond lastSent. It returns when ctx is canceled.
func (s *PrimarySession) Stream(ctx context.Context, rw io.Writer, lastSent uint64) error {
	notify, cancel := s.feeder.RegisterFollower(s.id)
	defer cancel()

	for {
		recs, ok := s.backlog.GetSince(lastSent)
		if !ok {
			return fmt.Errorf("follower %s fell off the backlog, full resync required", s.id)
		}
		for _, rec := range recs {
			if rec.Offset < lastSent {
				continue
			}
			if err := writeRecord(rw, rec); err != nil {
				return err
			}
			lastSent = rec.Offset + uint64(len(rec.Frame))
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleAck processes one periodic ACK from the follower, recording its
// reported offset and liveness timestamp for the min-replicas gate.
func (s *PrimarySession) HandleAck(offset uint64) {
	s.feeder.Ack(s.id, offset)
}

func writeRecord(w io.Writer, rec Record) error {
	_, err := fmt.Fprintf(w, "FRAME %d %d\r\n", rec.Offset, len(rec.Frame))
	if err != nil {
		return err
	}
	_, err = w.Write(rec.Frame)
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// AckInterval is the default period at which a follower reports its
// applied offset back to the primary.
const AckInterval = 1 * time.Second
