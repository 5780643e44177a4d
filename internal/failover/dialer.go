package failover

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/kvengine/internal/protocol"
)

// wireClient is the real Dialer: a bare TCP connection to an instance's
// command port, speaking the same RESP-shaped frames the engine's ordinary
// client connections do. It bridges the wire protocol's own "master"/
// "slave" vocabulary (ROLE, INFO) to this package's "primary"/"replica"
// vocabulary.
type wireClient struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewWireDialer returns a Dialer that opens a plain TCP connection to addr
// for each call. dialTimeout bounds the TCP handshake only; per-command
// deadlines come from the ctx passed to each InstanceClient method.
func NewWireDialer(dialTimeout time.Duration) Dialer {
	return func(ctx context.Context, addr string) (InstanceClient, error) {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return &wireClient{conn: conn, r: bufio.NewReader(conn)}, nil
	}
}

func (c *wireClient) do(ctx context.Context, args ...string) (*protocol.Reply, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	frame := make([][]byte, len(args))
	for i, a := range args {
		frame[i] = []byte(a)
	}
	if err := protocol.WriteFrame(c.conn, frame); err != nil {
		return nil, fmt.Errorf("send %s: %w", args[0], err)
	}
	reply, err := protocol.ReadReply(c.r)
	if err != nil {
		return nil, fmt.Errorf("read %s reply: %w", args[0], err)
	}
	if reply.Kind == protocol.ReplyError {
		return nil, fmt.Errorf("%s: %s", args[0], reply.Str)
	}
	return reply, nil
}

func (c *wireClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "PING")
	return err
}

func (c *wireClient) ReplicaOfNoOne(ctx context.Context) error {
	_, err := c.do(ctx, "REPLICAOF", "NO", "ONE")
	return err
}

func (c *wireClient) ReplicaOf(ctx context.Context, addr string) error {
	host, port := splitAddr(addr)
	_, err := c.do(ctx, "REPLICAOF", host, strconv.FormatInt(port, 10))
	return err
}

// InfoReplication sends INFO and parses the `# Replication` section's
// role/run_id/master_run_id/master_repl_offset lines, translating the wire
// reply's master/slave vocabulary into this package's primary/replica one.
func (c *wireClient) InfoReplication(ctx context.Context) (InfoReplication, error) {
	reply, err := c.do(ctx, "INFO")
	if err != nil {
		return InfoReplication{}, err
	}
	info := InfoReplication{}
	for _, line := range strings.Split(string(reply.Bulk), "\r\n") {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "run_id":
			info.RunID = val
		case "role":
			info.Role = wireRoleToPrimaryReplica(val)
		case "master_run_id":
			info.MasterRunID = val
		case "master_repl_offset":
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				info.ReplicationOffset = n
			}
		}
	}
	return info, nil
}

func (c *wireClient) FailoverPoison(ctx context.Context, oldPrimaryRunID string, graceSeconds int) error {
	_, err := c.do(ctx, "FAILOVER", "POISON", oldPrimaryRunID, strconv.Itoa(graceSeconds))
	return err
}

func (c *wireClient) Close() error { return c.conn.Close() }

func wireRoleToPrimaryReplica(wireRole string) string {
	if wireRole == "slave" {
		return "replica"
	}
	return "primary"
}

func splitAddr(addr string) (host string, port int64) {
	parts := strings.SplitN(addr, ":", 2)
	host = parts[0]
	if len(parts) == 2 {
		port, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return host, port
}
