package replication

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Applier receives frames and snapshots decoded by Client and applies them
// to the local keyspace. Implementations must refuse to apply frames while
// LoadSnapshot is in flight (loading a snapshot and applying frames are
// mutually exclusive per connection).
type Applier interface {
	LoadSnapshot(blob []byte) error
	ApplyFrame(frame []byte) error
}

// Client is the follower side of one replication link: it performs the
// handshake against a primary, then applies frames in order and reports
// its progress back via periodic ACKs.
type Client struct {
	conn    io.ReadWriter
	applier Applier
	logger  zerolog.Logger

	offset uint64
}

func NewClient(conn io.ReadWriter, applier Applier, logger zerolog.Logger) *Client {
	return &Client{conn: conn, applier: applier, logger: logger.With().Str("component", "replication_client").Logger()}
}

// Connect runs the three-step handshake and then the frame-apply loop
// until the connection errors or stop is closed. fromOffset is the
// follower's last known-applied offset (0 on first connect).
func (c *Client) Connect(fromOffset uint64, stop <-chan struct{}) error {
	c.offset = fromOffset
	r := bufio.NewReader(c.conn)

	if _, err := io.WriteString(c.conn, "PING\r\n"); err != nil {
		return fmt.Errorf("send PING: %w", err)
	}
	pong, err := readLine(r)
	if err != nil {
		return fmt.Errorf("read PONG: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("expected PONG, got %q", pong)
	}

	if _, err := fmt.Fprintf(c.conn, "PSYNC %d\r\n", fromOffset); err != nil {
		return fmt.Errorf("send PSYNC: %w", err)
	}

	directive, err := readLine(r)
	if err != nil {
		return fmt.Errorf("read handshake directive: %w", err)
	}

	switch {
	case directive == fmt.Sprintf("CONTINUE %d", fromOffset):
		// backlog hit: frames for [fromOffset, ...) follow directly.
	case len(directive) > len("FULLRESYNC ") && directive[:len("FULLRESYNC")] == "FULLRESYNC":
		blob, err := readBulk(r)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := c.applier.LoadSnapshot(blob); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		var newOffset uint64
		if _, err := fmt.Sscanf(directive, "FULLRESYNC %d", &newOffset); err == nil {
			c.offset = newOffset
		}
	default:
		return fmt.Errorf("unrecognized handshake directive %q", directive)
	}

	return c.applyLoop(r, stop)
}

func (c *Client) applyLoop(r *bufio.Reader, stop <-chan struct{}) error {
	ackTicker := time.NewTicker(AckInterval)
	defer ackTicker.Stop()

	frames := make(chan struct {
		offset uint64
		frame  []byte
	})
	errs := make(chan error, 1)

	go func() {
		for {
			header, err := readLine(r)
			if err != nil {
				errs <- err
				return
			}
			var offset uint64
			var n int
			if _, err := fmt.Sscanf(header, "FRAME %d %d", &offset, &n); err != nil {
				errs <- fmt.Errorf("bad frame header %q: %w", header, err)
				return
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				errs <- err
				return
			}
			frames <- struct {
				offset uint64
				frame  []byte
			}{offset, buf}
		}
	}()

	for {
		select {
		case <-stop:
			return nil
		case err := <-errs:
			return err
		case f := <-frames:
			if err := c.applier.ApplyFrame(f.frame); err != nil {
				c.logger.Error().Err(err).Uint64("offset", f.offset).Msg("apply replicated frame failed")
				return err
			}
			c.offset = f.offset + uint64(len(f.frame))
		case <-ackTicker.C:
			if _, err := fmt.Fprintf(c.conn, "ACK %d\r\n", c.offset); err != nil {
				return fmt.Errorf("send ACK: %w", err)
			}
		}
	}
}

func readBulk(r *bufio.Reader) ([]byte, error) {
	header, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(header) == 0 || header[0] != '$' {
		return nil, fmt.Errorf("expected bulk header, got %q", header)
	}
	n, err := strconv.Atoi(header[1:])
	if err != nil {
		return nil, fmt.Errorf("bad bulk length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
