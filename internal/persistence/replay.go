package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/adred-codev/kvengine/internal/protocol"
)

// Replay reads every frame from the log file at path in order and hands
// its decoded args to apply, stopping cleanly at EOF. A missing file is not
// an error -- a node's first boot has nothing to replay.
//
// If the log begins with a record written by (*Log).Rewrite, that leading
// record is a compact snapshot rather than a command frame: it is handed to
// loadSnapshot instead of apply, and every frame after it (the commands
// logged during and after that rewrite) is replayed with apply exactly as
// for a log that was never rewritten.
func Replay(path string, loadSnapshot func(blob []byte) error, apply func(args [][]byte) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open persistence log %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	n := 0
	first := true
	for {
		args, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("read persistence log frame %d: %w", n, err)
		}
		if first {
			first = false
			if len(args) == 2 && string(args[0]) == snapshotRecordTag {
				if err := loadSnapshot(args[1]); err != nil {
					return n, fmt.Errorf("load rewritten snapshot: %w", err)
				}
				n++
				continue
			}
		}
		if err := apply(args); err != nil {
			return n, fmt.Errorf("apply persistence log frame %d: %w", n, err)
		}
		n++
	}
}
