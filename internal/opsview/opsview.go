// Package opsview serves a live operator dashboard over a plain WebSocket
// upgrade: connect, receive one JSON stats snapshot per tick for as long as
// the connection stays open. It is read-only and independent of the RESP
// wire protocol the command engine speaks -- an operator with curl/websocat
// and no client library can watch a node's health.
package opsview

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Snapshot is one tick's worth of reported node health. StatsFunc builds a
// fresh one per broadcast; callers populate it from the engine, replication
// feeder, and keyspace the way admin.go's INFO reply does, just shaped for
// JSON instead of RESP bulk strings.
type Snapshot struct {
	Role                 string           `json:"role"`
	RunID                string           `json:"run_id"`
	UptimeSeconds        float64          `json:"uptime_seconds"`
	ConnectedClients     int              `json:"connected_clients"`
	CommandsPerSecond    float64          `json:"commands_per_second"`
	MemoryUsedBytes      int64            `json:"memory_used_bytes"`
	ReplicationOffset    uint64           `json:"replication_offset"`
	ReplicationFollowers int              `json:"replication_followers"`
	ConsumerGroupLag     map[string]int64 `json:"consumer_group_lag,omitempty"`
}

// StatsFunc produces the current Snapshot; called once per broadcast tick,
// never concurrently with itself.
type StatsFunc func() Snapshot

// Dashboard owns the set of connected operator sessions and the ticker that
// fans a fresh Snapshot out to all of them.
type Dashboard struct {
	stats  StatsFunc
	period time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once
}

func New(period time.Duration, stats StatsFunc, logger zerolog.Logger) *Dashboard {
	if period <= 0 {
		period = time.Second
	}
	return &Dashboard{
		stats:   stats,
		period:  period,
		logger:  logger.With().Str("component", "opsview").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection for broadcast until it disconnects.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		d.logger.Warn().Err(err).Msg("opsview upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 8)}
	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()

	go d.writePump(c)
	d.readPump(c)
}

// readPump discards client frames (the dashboard is one-way) and exits on
// any read error or close frame, which is this connection's only signal to
// deregister.
func (d *Dashboard) readPump(c *client) {
	defer d.remove(c)
	for {
		_, op, err := wsutil.ReadClientData(c.conn)
		if err != nil || op == ws.OpClose {
			return
		}
	}
}

func (d *Dashboard) remove(c *client) {
	d.mu.Lock()
	delete(d.clients, c)
	d.mu.Unlock()
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

func (d *Dashboard) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpText, msg); err != nil {
				d.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				d.remove(c)
				return
			}
		}
	}
}

// Run broadcasts a fresh snapshot to every connected client once per
// period, until stop is closed.
func (d *Dashboard) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.broadcast()
		case <-stop:
			return
		}
	}
}

func (d *Dashboard) broadcast() {
	snap := d.stats()
	body, err := json.Marshal(snap)
	if err != nil {
		d.logger.Error().Err(err).Msg("marshal opsview snapshot")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		select {
		case c.send <- body:
		default:
			// Slow client: drop this tick rather than block the broadcast
			// for everyone else.
		}
	}
}
