package replication

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	mu        sync.Mutex
	snapshots [][]byte
	frames    [][]byte
}

func (f *fakeApplier) LoadSnapshot(blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, blob)
	return nil
}

func (f *fakeApplier) ApplyFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeApplier) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func TestHandshakeContinuesFromOffsetWhenBacklogHasIt(t *testing.T) {
	backlog := NewBacklog(4096)
	backlog.Add([]byte("frame-one"))

	primaryConn, followerConn := net.Pipe()
	defer primaryConn.Close()
	defer followerConn.Close()

	session := NewPrimarySession("f1", NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop()), backlog, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { _, err := session.Handshake(primaryConn, 0); done <- err }()

	applier := &fakeApplier{}
	client := NewClient(followerConn, applier, zerolog.Nop())
	stop := make(chan struct{})
	connectDone := make(chan error, 1)
	go func() { connectDone <- client.Connect(0, stop) }()

	require.NoError(t, <-done)
	// stop only once the backlogged frame has been applied
	require.Eventually(t, func() bool { return applier.frameCount() >= 1 }, 500*time.Millisecond, 10*time.Millisecond)
	close(stop)

	err := <-connectDone
	require.NoError(t, err)
	require.Equal(t, 1, applier.frameCount())
}

func TestHandshakeFullResyncWhenBacklogMissesOffset(t *testing.T) {
	backlog := NewBacklog(3)
	backlog.Add([]byte("aaa"))
	backlog.Add([]byte("bbb")) // evicts the first record, offset 0 now misses

	primaryConn, followerConn := net.Pipe()
	defer primaryConn.Close()
	defer followerConn.Close()

	snapshot := func() ([]byte, error) { return []byte("snapshot-blob"), nil }
	session := NewPrimarySession("f1", NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop()), backlog, snapshot, zerolog.Nop())

	done := make(chan error, 1)
	go func() { _, err := session.Handshake(primaryConn, 0); done <- err }()

	applier := &fakeApplier{}
	client := NewClient(followerConn, applier, zerolog.Nop())
	stop := make(chan struct{})
	close(stop)

	err := client.Connect(0, stop)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, applier.snapshots, 1)
	require.Equal(t, []byte("snapshot-blob"), applier.snapshots[0])
}

func TestStreamForwardsNewlyBacklogedFrames(t *testing.T) {
	backlog := NewBacklog(4096)
	feeder := NewFeeder(backlog, FeederConfig{}, nil, zerolog.Nop())
	session := NewPrimarySession("f1", feeder, backlog, nil, zerolog.Nop())

	primaryConn, followerConn := net.Pipe()
	defer primaryConn.Close()
	defer followerConn.Close()

	ctx, cancel := context.WithCancel(context.Background())

	streamDone := make(chan error, 1)
	go func() {
		syncedTo, err := session.Handshake(primaryConn, 0)
		if err != nil {
			streamDone <- err
			return
		}
		streamDone <- session.Stream(ctx, primaryConn, syncedTo)
	}()

	applier := &fakeApplier{}
	client := NewClient(followerConn, applier, zerolog.Nop())
	stop := make(chan struct{})
	connectDone := make(chan error, 1)
	go func() { connectDone <- client.Connect(0, stop) }()

	backlog.Add([]byte("hello"))

	require.Eventually(t, func() bool { return applier.frameCount() >= 1 }, time.Second, 10*time.Millisecond)
	close(stop)
	cancel()
	<-connectDone
	followerConn.Close()
	<-streamDone
}
