package failover

import "context"

// InstanceClient is the control-plane surface the monitor needs against
// one watched instance (primary or replica): health probe, replication
// role introspection, and the two mutating commands a monitor is allowed
// to send (REPLICAOF, FAILOVER POISON).
type InstanceClient interface {
	Ping(ctx context.Context) error
	ReplicaOfNoOne(ctx context.Context) error
	ReplicaOf(ctx context.Context, addr string) error
	InfoReplication(ctx context.Context) (InfoReplication, error)
	FailoverPoison(ctx context.Context, oldPrimaryRunID string, graceSeconds int) error
	Close() error
}

// InfoReplication is the decoded shape of an `INFO replication` reply.
type InfoReplication struct {
	Role              string // "primary" | "replica"
	RunID             string
	MasterRunID       string // the replica's view of its current primary's run-id
	ReplicationOffset uint64
}

// Dialer opens an InstanceClient to addr. Production wiring dials a real
// TCP connection speaking the wire protocol; tests supply a fake.
type Dialer func(ctx context.Context, addr string) (InstanceClient, error)
