package failover

import (
	"encoding/json"
	"time"
)

// Gossip is the subset of internal/pubsub.Bus the monitor needs: channel
// subscribe/publish. Peer discovery and the vote protocol ride on top of
// it instead of a dedicated socket layer, per the "failover as message
// passing" design.
type Gossip interface {
	Subscribe(subscriberID, channel string, cb func(payload []byte))
	Publish(channel string, payload []byte) (int, error)
}

func helloChannel(name string) string   { return "failover." + name + ".hello" }
func voteReqChannel(name string) string { return "failover." + name + ".vote_request" }
func voteAckChannel(name string) string { return "failover." + name + ".vote_ack" }

type helloMsg struct {
	RunID  string `json:"run_id"`
	Addr   string `json:"addr"`
	Epoch  uint64 `json:"epoch"`
	SentAt int64  `json:"sent_at_unix_ms"`
}

type voteRequestMsg struct {
	CandidateRunID string `json:"candidate_run_id"`
	MasterName     string `json:"master_name"`
	Epoch          uint64 `json:"epoch"`
}

type voteAckMsg struct {
	VoterRunID string `json:"voter_run_id"`
	Epoch      uint64 `json:"epoch"`
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func unmarshalHello(b []byte) (helloMsg, bool) {
	var m helloMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return helloMsg{}, false
	}
	return m, true
}

func unmarshalVoteRequest(b []byte) (voteRequestMsg, bool) {
	var m voteRequestMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return voteRequestMsg{}, false
	}
	return m, true
}

func unmarshalVoteAck(b []byte) (voteAckMsg, bool) {
	var m voteAckMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return voteAckMsg{}, false
	}
	return m, true
}

func unixMillis(t time.Time) int64 { return t.UnixMilli() }
