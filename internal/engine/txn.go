package engine

import (
	"strconv"

	"github.com/adred-codev/kvengine/internal/command"
	"github.com/adred-codev/kvengine/internal/exec"
	"github.com/adred-codev/kvengine/internal/kverrors"
	"github.com/adred-codev/kvengine/internal/metrics"
	"github.com/adred-codev/kvengine/internal/protocol"
	"github.com/adred-codev/kvengine/internal/txn"
)

// cmdMulti, cmdDiscard, cmdWatch and cmdExec implement §4.F outside the
// handler table: they manipulate Dispatch's own queueing decision and the
// session's transaction state rather than touching the keyspace through a
// single lock plan the way an ordinary command does.

// cmdSelect implements SELECT index, switching the session's active
// database. Like MULTI/WATCH, it mutates session state directly rather
// than the keyspace, so it runs outside the handler table.
func (e *Engine) cmdSelect(sess *Session, cmd *command.Command) *protocol.Reply {
	idx, err := strconv.Atoi(string(cmd.Args[1]))
	if err != nil || idx < 0 || idx >= len(e.DBs) {
		return errReply(kverrors.Newf(kverrors.SyntaxError, "DB index is out of range"))
	}
	sess.DBIndex = idx
	return protocol.Simple("OK")
}

func (e *Engine) cmdMulti(sess *Session) *protocol.Reply {
	if err := sess.Txn.Multi(); err != nil {
		return errReply(err)
	}
	return protocol.Simple("OK")
}

func (e *Engine) cmdDiscard(sess *Session) *protocol.Reply {
	if err := sess.Txn.Discard(); err != nil {
		return errReply(err)
	}
	return protocol.Simple("OK")
}

func (e *Engine) cmdWatch(sess *Session, cmd *command.Command) *protocol.Reply {
	keys := cmd.Keys()
	db := e.db(sess)
	locks := db.Planner.PlanForKeys(keys)
	err := sess.Txn.Watch(keys, txn.VersionReader(db.KS))
	locks.Unlock()
	if err != nil {
		return errReply(err)
	}
	return protocol.Simple("OK")
}

// cmdExec implements EXEC (§4.F, §8 WATCH correctness). The watched keys'
// shards AND every queued command's shards are locked together, once, in
// canonical order -- a single combined plan, not one plan per queued
// command -- so the relevant shard locks are held continuously between
// EXEC's version check and the queue running (§5), and no queued
// command's own lock acquisition can ever double-lock a shard this
// goroutine already holds.
func (e *Engine) cmdExec(sess *Session) *protocol.Reply {
	if !sess.Txn.InMulti() {
		return errReply(kverrors.New(kverrors.InvalidState, "EXEC without MULTI"))
	}
	db := e.db(sess)
	queue := sess.Txn.Queue()

	keys := append([]string{}, sess.Txn.WatchedKeys()...)
	keys = append(keys, sess.Txn.QueuedKeys()...)
	locks := db.Planner.PlanForKeys(keys)

	if sess.Txn.Aborted(txn.VersionReader(db.KS)) {
		locks.Unlock()
		sess.Txn.Exec()
		metrics.TransactionsAbortedTotal.Inc()
		return protocol.NullArray()
	}

	results := make([]*protocol.Reply, 0, len(queue))
	for _, qcmd := range queue {
		h, ok := handlers[qcmd.Name()]
		if !ok {
			results = append(results, errReply(kverrors.Newf(kverrors.UnknownCommand, "unknown command %q", qcmd.Name())))
			continue
		}
		ctx := &exec.Context{DB: db.KS, Locks: locks, SessionID: sess.ID, User: sess.User, Cmd: qcmd}
		reply, err := h(e, ctx)
		if err != nil {
			results = append(results, errReply(err))
			continue
		}
		results = append(results, reply)
		if qcmd.Desc.Flags.Has(command.Write) && reply.Kind != protocol.ReplyError {
			e.propagate(qcmd)
		}
	}
	locks.Unlock()
	sess.Txn.Exec()
	return &protocol.Reply{Kind: protocol.ReplyArray, Array: results}
}
