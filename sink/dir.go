package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klaki892/chunked-dc/iox"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/types"
)

// IndexFile is the name of the per-directory JSONL index.
const IndexFile = "index.jsonl"

// IndexEntry is one line of the directory index.
type IndexEntry struct {
	Seq         uint64           `json:"seq"`
	File        string           `json:"file"`
	Size        int64            `json:"size"`
	Frames      []types.FrameRef `json:"frames"`
	DeliveredAt string           `json:"delivered_at"`
}

// DirSink streams each message body into its own file and appends an
// IndexEntry per message. Bodies are copied through a reader, so blob
// messages are never held in memory whole.
type DirSink struct {
	mu     sync.Mutex
	dir    string
	index  *os.File
	closed bool
}

// MessageFileName returns the file name used for the message with seq.
func MessageFileName(seq uint64) string {
	return fmt.Sprintf("%010d.msg", seq)
}

// NewDirSink creates dir if needed and opens its index for appending.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	index, err := os.OpenFile(filepath.Join(dir, IndexFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink index: %w", err)
	}
	return &DirSink{dir: dir, index: index}, nil
}

// WriteMessages implements policy.Sink.
func (s *DirSink) WriteMessages(ctx context.Context, msgs []*types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := MessageFileName(m.Seq)
		if err := s.writeBody(name, m); err != nil {
			return err
		}
		line, err := json.Marshal(IndexEntry{
			Seq:         m.Seq,
			File:        name,
			Size:        m.Size,
			Frames:      m.Frames,
			DeliveredAt: m.DeliveredAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("encode index entry: %w", err)
		}
		if _, err := s.index.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
	}
	return nil
}

// writeBody writes to a temp file and renames it into place, so a reader
// never sees a partial message file.
func (s *DirSink) writeBody(name string, m *types.Message) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create message file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, m.Reader())
	if err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("write message %d: %w", m.Seq, err)
	}
	if n != m.Size {
		iox.DiscardClose(tmp)
		return fmt.Errorf("write message %d: short body %d of %d bytes", m.Seq, n, m.Size)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close message file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// Close closes the index. Subsequent calls are no-ops.
func (s *DirSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

var _ policy.Sink = (*DirSink)(nil)
