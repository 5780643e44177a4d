package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/engine"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/pubsub"
	"github.com/adred-codev/kvengine/internal/replication"
)

// clientConn holds the state one accepted client connection needs beyond
// the engine session: a write mutex shared between the connection's own
// read/dispatch loop and any pub/sub delivery callbacks, which fire from
// NATS's own goroutine.
type clientConn struct {
	conn    net.Conn
	writeMu sync.Mutex
	session *engine.Session
}

func (c *clientConn) writeReply(reply *protocol.Reply) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteReply(c.conn, reply)
}

// pushMessage writes an unsolicited ["message", channel, payload] (or
// ["pmessage", pattern, channel, payload]) array, the shape a subscribed
// connection expects for every delivery regardless of which command
// opened the subscription.
func (c *clientConn) pushMessage(d pubsub.Delivery) {
	var reply *protocol.Reply
	if d.Pattern != "" {
		reply = &protocol.Reply{Kind: protocol.ReplyArray, Array: []*protocol.Reply{
			protocol.Bulk([]byte("pmessage")),
			protocol.Bulk([]byte(d.Pattern)),
			protocol.Bulk([]byte(d.Channel)),
			protocol.Bulk(d.Payload),
		}}
	} else {
		reply = &protocol.Reply{Kind: protocol.ReplyArray, Array: []*protocol.Reply{
			protocol.Bulk([]byte("message")),
			protocol.Bulk([]byte(d.Channel)),
			protocol.Bulk(d.Payload),
		}}
	}
	if err := c.writeReply(reply); err != nil {
		// the read loop will observe the same broken connection and tear
		// everything down; nothing further to do from a delivery callback.
		return
	}
}

// serveClient runs one client command-port connection end to end: decode
// a frame, dispatch it (with SUBSCRIBE-family commands special-cased
// against the pub/sub bus), write the reply, repeat until the client
// disconnects or the connection errors.
func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()
	cc := &clientConn{conn: conn, session: s.Engine.NewSession()}
	subscriberID := strconv.FormatUint(cc.session.ID, 10)
	reader := bufio.NewReader(conn)

	defer func() {
		if s.Engine.PubSub != nil {
			s.Engine.PubSub.Unsubscribe(subscriberID, "")
			s.Engine.PubSub.PUnsubscribe(subscriberID, "")
		}
	}()

	for {
		args, err := protocol.ReadFrame(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}

		name := strings.ToUpper(string(args[0]))
		switch name {
		case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE":
			s.handleSubscription(cc, subscriberID, name, args[1:])
			continue
		}

		cmd, err := command.Parse(s.Engine.Registry, args)
		if err != nil {
			if werr := cc.writeReply(protocol.Err(err.Error())); werr != nil {
				return
			}
			continue
		}
		reply := s.Engine.Dispatch(cc.session, cmd)
		if err := cc.writeReply(reply); err != nil {
			return
		}
	}
}

// handleSubscription registers or tears down the bus callbacks for one
// SUBSCRIBE-family command, replying with the per-channel confirmation
// array the wire protocol expects for each argument.
func (s *Server) handleSubscription(cc *clientConn, subscriberID, name string, channels [][]byte) {
	if s.Engine.PubSub == nil {
		_ = cc.writeReply(protocol.Err("ERR pub/sub is not enabled on this node"))
		return
	}
	for _, raw := range channels {
		channel := string(raw)
		switch name {
		case "SUBSCRIBE":
			s.Engine.PubSub.Subscribe(subscriberID, channel, cc.pushMessage)
		case "PSUBSCRIBE":
			s.Engine.PubSub.PSubscribe(subscriberID, channel, cc.pushMessage)
		case "UNSUBSCRIBE":
			s.Engine.PubSub.Unsubscribe(subscriberID, channel)
		case "PUNSUBSCRIBE":
			s.Engine.PubSub.PUnsubscribe(subscriberID, channel)
		}
		kind := "subscribe"
		switch name {
		case "PSUBSCRIBE":
			kind = "psubscribe"
		case "UNSUBSCRIBE":
			kind = "unsubscribe"
		case "PUNSUBSCRIBE":
			kind = "punsubscribe"
		}
		_ = cc.writeReply(&protocol.Reply{Kind: protocol.ReplyArray, Array: []*protocol.Reply{
			protocol.Bulk([]byte(kind)),
			protocol.Bulk([]byte(channel)),
			protocol.Int(1),
		}})
	}
}

// serveFollower runs the primary side of one connected follower: handshake,
// then stream backlog frames while concurrently draining the follower's
// periodic ACK lines on the same connection.
func (s *Server) serveFollower(conn net.Conn) {
	defer conn.Close()
	id := conn.RemoteAddr().String()
	session := replication.NewPrimarySession(id, s.feeder, s.backlog, s.snapshotFunc, s.logger)

	syncedTo, err := session.Handshake(conn, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("follower", id).Msg("replication handshake failed")
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- session.Stream(ctx, conn, syncedTo)
	}()
	go func() {
		err := s.readAcks(conn, session)
		cancel()
		errCh <- err
	}()

	if err := <-errCh; err != nil {
		s.logger.Info().Err(err).Str("follower", id).Msg("follower session ended")
	}
}

func (s *Server) readAcks(conn net.Conn, session *replication.PrimarySession) error {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		var offset uint64
		if _, err := fmt.Sscanf(line, "ACK %d", &offset); err != nil {
			continue
		}
		session.HandleAck(offset)
	}
}

// snapshotFunc builds a full-resync snapshot blob via the engine's own
// snapshot encoder, the same format AOF replay understands.
func (s *Server) snapshotFunc() ([]byte, error) {
	return s.Engine.Snapshot()
}
