// Package metrics exposes the engine's Prometheus surface: command
// latency, keyspace hit/miss counters, replication lag, and consumer-group
// pending depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kv_commands_total",
		Help: "Total commands executed, by name and outcome.",
	}, []string{"command", "outcome"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kv_command_duration_seconds",
		Help:    "Command execution latency from lock acquisition to lock release.",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"command"})

	KeyspaceHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_keyspace_hits_total",
		Help: "Total successful key lookups.",
	})

	KeyspaceMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_keyspace_misses_total",
		Help: "Total key lookups that found nothing.",
	})

	ExpiredKeysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_expired_keys_total",
		Help: "Total keys removed by the expiry-cycle worker.",
	})

	EvictedKeysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_evicted_keys_total",
		Help: "Total keys removed by the maxmemory eviction policy.",
	})

	MemoryUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kv_memory_used_bytes",
		Help: "Total tracked memory across all shards.",
	})

	ShardMemoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kv_shard_memory_bytes",
		Help: "Tracked memory for one shard.",
	}, []string{"shard"})

	ReplicationLagBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kv_replication_lag_bytes",
		Help: "Bytes the slowest connected follower is behind the backlog head.",
	})

	ReplicationFollowers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kv_replication_followers",
		Help: "Count of currently connected follower sessions.",
	})

	ConsumerGroupPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kv_consumer_group_pending",
		Help: "Pending-entry-list size for one stream consumer group.",
	}, []string{"stream", "group"})

	FailoverElectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_failover_elections_total",
		Help: "Total failover elections initiated by this node as a sentinel.",
	})

	TransactionsAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kv_transactions_aborted_total",
		Help: "Total EXEC calls aborted due to a watched key changing.",
	})
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		KeyspaceHits,
		KeyspaceMisses,
		ExpiredKeysTotal,
		EvictedKeysTotal,
		MemoryUsedBytes,
		ShardMemoryBytes,
		ReplicationLagBytes,
		ReplicationFollowers,
		ConsumerGroupPending,
		FailoverElectionsTotal,
		TransactionsAbortedTotal,
	)
}

// Handler returns the /metrics scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
