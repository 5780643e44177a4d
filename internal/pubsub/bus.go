// Package pubsub implements the channel messaging surface (SUBSCRIBE,
// PSUBSCRIBE, PUBLISH, PUBSUB) over NATS core pub/sub. Every engine
// process publishes PUBLISH traffic onto NATS so subscribers connected to
// any replica in a deployment receive it, not just ones attached to the
// publishing process.
package pubsub

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "kv.channel."

func toSubject(channel string) string   { return subjectPrefix + channel }
func fromSubject(subject string) string { return strings.TrimPrefix(subject, subjectPrefix) }

// Config mirrors the reconnect/keepalive knobs a production NATS client
// exposes.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1 // retry forever
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = time.Second
	}
	if c.MaxPingsOut == 0 {
		c.MaxPingsOut = 3
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// Delivery is one message handed to a subscriber's callback.
type Delivery struct {
	Channel string
	Pattern string // non-empty for pattern subscriptions
	Payload []byte
}

// Bus is one process's view of the channel message space: local
// SUBSCRIBE/PSUBSCRIBE bookkeeping plus a NATS connection carrying
// PUBLISH traffic between processes.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]map[string]func(Delivery) // channel -> subscriberID -> callback
	patterns map[string]map[string]func(Delivery) // glob pattern -> subscriberID -> callback
	natsSub  *nats.Subscription
}

func NewBus(cfg Config, logger zerolog.Logger) (*Bus, error) {
	cfg = cfg.withDefaults()
	b := &Bus{
		logger:   logger.With().Str("component", "pubsub").Logger(),
		channels: make(map[string]map[string]func(Delivery)),
		patterns: make(map[string]map[string]func(Delivery)),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b.conn = conn

	sub, err := conn.Subscribe(subjectPrefix+">", b.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to channel wildcard: %w", err)
	}
	b.natsSub = sub
	return b, nil
}

func (b *Bus) onMessage(msg *nats.Msg) {
	channel := fromSubject(msg.Subject)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cb := range b.channels[channel] {
		cb(Delivery{Channel: channel, Payload: msg.Data})
	}
	for pattern, subs := range b.patterns {
		if !globMatch(pattern, channel) {
			continue
		}
		for _, cb := range subs {
			cb(Delivery{Channel: channel, Pattern: pattern, Payload: msg.Data})
		}
	}
}

// Subscribe registers cb for every PUBLISH to channel from this process or
// any other connected to the same NATS deployment.
func (b *Bus) Subscribe(subscriberID, channel string, cb func(Delivery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[string]func(Delivery))
	}
	b.channels[channel][subscriberID] = cb
}

// Unsubscribe removes subscriberID's registration for channel.
func (b *Bus) Unsubscribe(subscriberID, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels[channel], subscriberID)
	if len(b.channels[channel]) == 0 {
		delete(b.channels, channel)
	}
}

// PSubscribe registers cb for every channel matching pattern (glob syntax:
// '*' any run of characters, '?' one character).
func (b *Bus) PSubscribe(subscriberID, pattern string, cb func(Delivery)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.patterns[pattern] == nil {
		b.patterns[pattern] = make(map[string]func(Delivery))
	}
	b.patterns[pattern][subscriberID] = cb
}

// PUnsubscribe removes subscriberID's registration for pattern.
func (b *Bus) PUnsubscribe(subscriberID, pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.patterns[pattern], subscriberID)
	if len(b.patterns[pattern]) == 0 {
		delete(b.patterns, pattern)
	}
}

// Publish fans payload out to every local and remote subscriber of
// channel, returning the count of distinct local+pattern receivers at the
// moment of publish (an approximation, since remote subscriber counts are
// not visible from here).
func (b *Bus) Publish(channel string, payload []byte) (int, error) {
	b.mu.RLock()
	n := len(b.channels[channel])
	for pattern := range b.patterns {
		if globMatch(pattern, channel) {
			n += len(b.patterns[pattern])
		}
	}
	b.mu.RUnlock()

	if err := b.conn.Publish(toSubject(channel), payload); err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return n, nil
}

// Channels lists currently-subscribed channel names, optionally filtered
// by a glob pattern (empty pattern == all).
func (b *Bus) Channels(pattern string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for ch := range b.channels {
		if pattern == "" || globMatch(pattern, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// NumSub returns the local subscriber count for channel.
func (b *Bus) NumSub(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// NumPatterns returns the number of distinct patterns with at least one
// local PSUBSCRIBE registration.
func (b *Bus) NumPatterns() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.patterns)
}

func (b *Bus) Close() error {
	if b.natsSub != nil {
		_ = b.natsSub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// globMatch implements Redis-style glob matching for '*' and '?' only;
// '[...]' character classes are not supported.
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchRunes(p[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}
