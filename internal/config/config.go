// Package config loads and validates server configuration from the
// environment, with an optional local .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable of a single engine process. Priority:
// environment variables > .env file > struct-tag defaults.
type Config struct {
	Addr string `env:"KV_ADDR" envDefault:":6380"`

	NumShards      int    `env:"KV_NUM_SHARDS" envDefault:"16"`
	MaxMemoryBytes int64  `env:"KV_MAXMEMORY_BYTES" envDefault:"0"` // 0 == unbounded
	EvictionPolicy string `env:"KV_EVICTION_POLICY" envDefault:"approx-lru"`

	ExpiryCycleInterval   time.Duration `env:"KV_EXPIRY_INTERVAL" envDefault:"100ms"`
	ExpirySamplesPerCycle int           `env:"KV_EXPIRY_SAMPLES" envDefault:"20"`

	AOFEnabled         bool          `env:"KV_AOF_ENABLED" envDefault:"false"`
	AOFPath            string        `env:"KV_AOF_PATH" envDefault:"kvengine.aof"`
	AOFFsync           string        `env:"KV_AOF_FSYNC" envDefault:"everysec"` // never | everysec | always
	AOFRewriteInterval time.Duration `env:"KV_AOF_REWRITE_INTERVAL" envDefault:"5m"`

	ReplicationEnabled bool          `env:"KV_REPL_ENABLED" envDefault:"false"`
	ReplicationRole    string        `env:"KV_REPL_ROLE" envDefault:"leader"` // leader | follower
	ReplListenAddr     string        `env:"KV_REPL_LISTEN_ADDR" envDefault:":6381"`
	ReplicaOfAddr      string        `env:"KV_REPLICAOF" envDefault:""`
	BacklogBytes       int64         `env:"KV_REPL_BACKLOG_BYTES" envDefault:"1048576"`
	MaxPropagationRate int           `env:"KV_REPL_MAX_RATE" envDefault:"10000"` // frames/sec
	MinReplicas        int           `env:"KV_REPL_MIN_REPLICAS" envDefault:"0"`
	MaxReplicaLag      time.Duration `env:"KV_REPL_MAX_LAG" envDefault:"10s"`

	KafkaRelayEnabled bool   `env:"KV_KAFKA_RELAY_ENABLED" envDefault:"false"`
	KafkaBrokers      string `env:"KV_KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic        string `env:"KV_KAFKA_TOPIC" envDefault:"kvengine-replication"`

	PubSubEnabled        bool          `env:"KV_PUBSUB_ENABLED" envDefault:"false"`
	NATSURL              string        `env:"KV_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	FailoverEnabled      bool          `env:"KV_FAILOVER_ENABLED" envDefault:"false"`
	FailoverQuorum       int           `env:"KV_FAILOVER_QUORUM" envDefault:"2"`
	HeartbeatPeriod      time.Duration `env:"KV_HEARTBEAT_PERIOD" envDefault:"1s"`
	FailoverTimeout      time.Duration `env:"KV_FAILOVER_TIMEOUT" envDefault:"5s"`
	FailoverPrimaryName  string        `env:"KV_FAILOVER_PRIMARY_NAME" envDefault:"mymaster"`
	FailoverPrimaryAddr  string        `env:"KV_FAILOVER_PRIMARY_ADDR" envDefault:""`
	FailoverReplicaAddrs string        `env:"KV_FAILOVER_REPLICA_ADDRS" envDefault:""` // comma-separated
	FailoverDownAfter    time.Duration `env:"KV_FAILOVER_DOWN_AFTER" envDefault:"5s"`
	FailoverDialTimeout  time.Duration `env:"KV_FAILOVER_DIAL_TIMEOUT" envDefault:"2s"`

	OpsViewAddr     string        `env:"KV_OPSVIEW_ADDR" envDefault:""` // empty disables the dashboard
	MetricsAddr     string        `env:"KV_METRICS_ADDR" envDefault:":9121"`
	MetricsInterval time.Duration `env:"KV_METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"KV_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KV_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a local .env file (if present) and the
// environment, then validates it.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("KV_ADDR is required")
	}
	if c.NumShards < 1 {
		return fmt.Errorf("KV_NUM_SHARDS must be > 0, got %d", c.NumShards)
	}
	if c.MaxMemoryBytes < 0 {
		return fmt.Errorf("KV_MAXMEMORY_BYTES must be >= 0, got %d", c.MaxMemoryBytes)
	}

	validPolicies := map[string]bool{"approx-lru": true, "ttl-first": true, "random": true, "lfu-approx": true}
	if !validPolicies[c.EvictionPolicy] {
		return fmt.Errorf("KV_EVICTION_POLICY must be one of: approx-lru, ttl-first, random, lfu-approx (got: %s)", c.EvictionPolicy)
	}

	validRoles := map[string]bool{"leader": true, "follower": true}
	if !validRoles[c.ReplicationRole] {
		return fmt.Errorf("KV_REPL_ROLE must be one of: leader, follower (got: %s)", c.ReplicationRole)
	}
	if c.ReplicationRole == "follower" && c.ReplicaOfAddr == "" {
		return fmt.Errorf("KV_REPLICAOF is required when KV_REPL_ROLE=follower")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("KV_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("KV_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}

	if c.FailoverEnabled && c.FailoverPrimaryAddr == "" {
		return fmt.Errorf("KV_FAILOVER_PRIMARY_ADDR is required when KV_FAILOVER_ENABLED=true")
	}

	validFsync := map[string]bool{"never": true, "everysec": true, "always": true}
	if !validFsync[c.AOFFsync] {
		return fmt.Errorf("KV_AOF_FSYNC must be one of: never, everysec, always (got: %s)", c.AOFFsync)
	}
	return nil
}
