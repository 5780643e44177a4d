package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsZeroShards(t *testing.T) {
	c := &Config{Addr: ":6380", NumShards: 0, EvictionPolicy: "approx-lru", ReplicationRole: "leader", LogLevel: "info", LogFormat: "json"}
	require.Error(t, c.Validate())
}

func TestValidateRequiresReplicaOfWhenFollower(t *testing.T) {
	c := &Config{Addr: ":6380", NumShards: 4, EvictionPolicy: "approx-lru", ReplicationRole: "follower", LogLevel: "info", LogFormat: "json", AOFFsync: "everysec"}
	require.Error(t, c.Validate())
	c.ReplicaOfAddr = "10.0.0.1:6380"
	require.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownEvictionPolicy(t *testing.T) {
	c := &Config{Addr: ":6380", NumShards: 4, EvictionPolicy: "bogus", ReplicationRole: "leader", LogLevel: "info", LogFormat: "json"}
	require.Error(t, c.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{Addr: ":6380", NumShards: 16, EvictionPolicy: "approx-lru", ReplicationRole: "leader", LogLevel: "info", LogFormat: "json", AOFFsync: "everysec"}
	require.NoError(t, c.Validate())
}
