package engine

import (
	"strings"

	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/protocol"
)

func init() {
	register("PUBLISH", cmdPublish)
	register("PUBSUB", cmdPubSub)
}

// cmdPublish fans payload out over e.PubSub. SUBSCRIBE/PSUBSCRIBE aren't
// handled here: they hold the connection open for delivery and are wired
// at the connection layer directly against e.PubSub rather than through
// Dispatch.
func cmdPublish(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	channel := string(ctx.Cmd.Args[1])
	payload := ctx.Cmd.Args[2]
	if e.PubSub == nil {
		return protocol.Int(0), nil
	}
	n, err := e.PubSub.Publish(channel, payload)
	if err != nil {
		return nil, kverrors.New(kverrors.Internal, err.Error())
	}
	return protocol.Int(int64(n)), nil
}

func cmdPubSub(e *Engine, ctx *exec.Context) (*protocol.Reply, error) {
	if len(ctx.Cmd.Args) < 2 {
		return nil, kverrors.New(kverrors.WrongArgumentCount, "wrong number of arguments for PUBSUB")
	}
	sub := strings.ToUpper(string(ctx.Cmd.Args[1]))
	switch sub {
	case "CHANNELS":
		pattern := ""
		if len(ctx.Cmd.Args) > 2 {
			pattern = string(ctx.Cmd.Args[2])
		}
		if e.PubSub == nil {
			return &protocol.Reply{Kind: protocol.ReplyArray}, nil
		}
		channels := e.PubSub.Channels(pattern)
		out := make([]*protocol.Reply, len(channels))
		for i, c := range channels {
			out[i] = protocol.Bulk([]byte(c))
		}
		return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil

	case "NUMSUB":
		out := make([]*protocol.Reply, 0, len(ctx.Cmd.Args[2:])*2)
		for _, a := range ctx.Cmd.Args[2:] {
			channel := string(a)
			n := 0
			if e.PubSub != nil {
				n = e.PubSub.NumSub(channel)
			}
			out = append(out, protocol.Bulk([]byte(channel)), protocol.Int(int64(n)))
		}
		return &protocol.Reply{Kind: protocol.ReplyArray, Array: out}, nil

	case "NUMPAT":
		if e.PubSub == nil {
			return protocol.Int(0), nil
		}
		return protocol.Int(int64(e.PubSub.NumPatterns())), nil

	default:
		return nil, kverrors.Newf(kverrors.SyntaxError, "unknown PUBSUB subcommand %q", sub)
	}
}
