package failover

import "github.com/adred-codev/kvengine/internal/pubsub"

// BusGossip adapts a *pubsub.Bus (NATS-backed) to the Gossip interface the
// monitor uses for hello/vote traffic, sharing the same transport PUBLISH
// uses rather than opening a second connection.
type BusGossip struct {
	bus *pubsub.Bus
}

func NewBusGossip(bus *pubsub.Bus) *BusGossip { return &BusGossip{bus: bus} }

func (g *BusGossip) Subscribe(subscriberID, channel string, cb func(payload []byte)) {
	g.bus.Subscribe(subscriberID, channel, func(d pubsub.Delivery) { cb(d.Payload) })
}

func (g *BusGossip) Publish(channel string, payload []byte) (int, error) {
	return g.bus.Publish(channel, payload)
}
