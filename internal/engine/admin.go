package engine

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("PING", cmdPing)
	register("ROLE", cmdRole)
	register("INFO", cmdInfo)
	register("REPLCONF", cmdReplConf)
	register("PSYNC", cmdPSync)
	register("REPLICAOF", cmdReplicaOf)
	register("FAILOVER", cmdFailover)
}

// cmdPing implements PING [message]: a plain liveness probe, used by
// clients and by the failover monitor's InstanceClient alike.
func cmdPing(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	if len(ctx.Cmd.Args) > 1 {
		return protocol.Bulk(ctx.Cmd.Args[1]), nil
	}
	return protocol.Simple("PONG"), nil
}

// cmdRole implements ROLE. The actual byte-stream takeover PSYNC triggers
// happens at the connection layer via internal/replication.PrimarySession;
// this only reports the role this process currently believes it has.
func cmdRole(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	e.replMu.Lock()
	role, masterAddr := e.Role, e.MasterAddr
	e.replMu.Unlock()

	offset := int64(0)
	if e.Feeder != nil {
		offset = int64(e.Feeder.NextOffset())
	}

	if role == "slave" {
		host, port := splitAddr(masterAddr)
		return protocol.Array(
			protocol.Bulk([]byte("slave")),
			protocol.Bulk([]byte(host)),
			protocol.Int(port),
			protocol.Bulk([]byte("connected")),
			protocol.Int(offset),
		), nil
	}
	return protocol.Array(
		protocol.Bulk([]byte("master")),
		protocol.Int(offset),
		&protocol.Reply{Kind: protocol.ReplyArray},
	), nil
}

func splitAddr(addr string) (host string, port int64) {
	parts := strings.SplitN(addr, ":", 2)
	host = parts[0]
	if len(parts) == 2 {
		fmt.Sscanf(parts[1], "%d", &port)
	}
	return host, port
}

// cmdInfo implements a `# Replication` / `# Server` subset of INFO,
// enough for a failover monitor's InstanceClient to parse role, run-id,
// and replication offset out of a plain key:value reply.
func cmdInfo(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	e.replMu.Lock()
	role, masterAddr, masterRunID := e.Role, e.MasterAddr, e.MasterRunID
	e.replMu.Unlock()

	offset := int64(0)
	if e.Feeder != nil {
		offset = int64(e.Feeder.NextOffset())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Server\r\n")
	fmt.Fprintf(&b, "run_id:%s\r\n", e.RunID)
	fmt.Fprintf(&b, "go_version:%s\r\n", runtime.Version())
	fmt.Fprintf(&b, "process_id:%d\r\n", 0)
	fmt.Fprintf(&b, "\r\n# Replication\r\n")
	fmt.Fprintf(&b, "role:%s\r\n", role)
	if role == "slave" {
		host, port := splitAddr(masterAddr)
		fmt.Fprintf(&b, "master_host:%s\r\n", host)
		fmt.Fprintf(&b, "master_port:%d\r\n", port)
		fmt.Fprintf(&b, "master_run_id:%s\r\n", masterRunID)
		fmt.Fprintf(&b, "master_link_status:up\r\n")
	}
	fmt.Fprintf(&b, "master_replid:%s\r\n", e.RunID)
	fmt.Fprintf(&b, "master_repl_offset:%d\r\n", offset)

	if e.CPU != nil {
		pct, throttle, err := e.CPU.GetPercent()
		fmt.Fprintf(&b, "\r\n# CPU\r\n")
		fmt.Fprintf(&b, "cpu_mode:%s\r\n", e.CPU.Mode())
		fmt.Fprintf(&b, "cpu_allocated:%.2f\r\n", e.CPU.Allocation())
		if err == nil {
			fmt.Fprintf(&b, "cpu_used_percent:%.2f\r\n", pct)
			fmt.Fprintf(&b, "cpu_throttled_periods:%d\r\n", throttle.NrThrottled)
		}
	}

	e.replMu.Lock()
	poisonedRunID, poisonedUntil := e.PoisonedRunID, e.PoisonedUntil
	e.replMu.Unlock()
	if poisonedRunID != "" && time.Now().Before(poisonedUntil) {
		fmt.Fprintf(&b, "poisoned_run_id:%s\r\n", poisonedRunID)
		fmt.Fprintf(&b, "poisoned_until:%d\r\n", poisonedUntil.UnixMilli())
	}
	return protocol.Bulk([]byte(b.String())), nil
}

// cmdReplConf acknowledges REPLCONF's various sub-forms (listening-port,
// capa, GETACK, ACK) with a plain OK; offset bookkeeping from ACK is
// handled out-of-band by the PrimarySession a follower connection is
// upgraded to after PSYNC, not through the ordinary command path.
func cmdReplConf(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	if len(ctx.Cmd.Args) >= 2 && strings.EqualFold(string(ctx.Cmd.Args[1]), "GETACK") {
		return protocol.Simple("OK"), nil
	}
	return protocol.Simple("OK"), nil
}

// cmdPSync replies with the FULLRESYNC preamble (Redis's handshake
// convention: +FULLRESYNC <replid> <offset>); the connection is handed
// off to internal/replication.PrimarySession immediately afterward for
// the actual snapshot + backlog stream, outside Dispatch's one-reply
// model.
func cmdPSync(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	offset := int64(0)
	if e.Feeder != nil {
		offset = int64(e.Feeder.NextOffset())
	}
	return protocol.Simple(fmt.Sprintf("FULLRESYNC %s %d", e.RunID, offset)), nil
}

// cmdReplicaOf implements REPLICAOF host port / REPLICAOF NO ONE, flipping
// this process's reported role. Actually establishing (or tearing down)
// the follower connection is the server's job once it observes the role
// change, per the separation between this package's single-reply command
// handlers and the connection-lifetime replication client.
func cmdReplicaOf(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	host := string(ctx.Cmd.Args[1])
	portArg := string(ctx.Cmd.Args[2])

	e.replMu.Lock()
	defer e.replMu.Unlock()
	if strings.EqualFold(host, "no") && strings.EqualFold(portArg, "one") {
		e.Role = "master"
		e.MasterAddr = ""
		e.MasterRunID = ""
		return protocol.Simple("OK"), nil
	}
	e.Role = "slave"
	e.MasterAddr = host + ":" + portArg
	return protocol.Simple("OK"), nil
}

// cmdFailover implements FAILOVER POISON old-run-id grace-seconds, the
// mutating command a failover monitor sends to surviving replicas after
// promoting one of their peers: it records that old-run-id must not be
// re-trusted as a primary for grace-seconds, surfaced via INFO so a
// reconnect attempt from a demoted-but-still-running old primary can be
// recognized and rejected at the operator layer rather than silently
// accepted as a valid replication source.
func cmdFailover(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	if len(ctx.Cmd.Args) < 2 || !strings.EqualFold(string(ctx.Cmd.Args[1]), "POISON") {
		return nil, kverrors.New(kverrors.SyntaxError, "FAILOVER supports only the POISON subcommand")
	}
	if len(ctx.Cmd.Args) != 4 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for FAILOVER POISON")
	}
	oldRunID := string(ctx.Cmd.Args[2])
	graceSeconds, err := strconv.Atoi(string(ctx.Cmd.Args[3]))
	if err != nil {
		return nil, kverrors.New(kverrors.NotAnInteger, "grace seconds must be an integer")
	}

	e.replMu.Lock()
	e.PoisonedRunID = oldRunID
	e.PoisonedUntil = time.Now().Add(time.Duration(graceSeconds) * time.Second)
	e.replMu.Unlock()
	return protocol.Simple("OK"), nil
}
