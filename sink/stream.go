// Package sink provides policy.Sink implementations that write reassembled
// messages to a framed byte stream or to a directory.
//
// The Lode dataset sink lives in package lode.
package sink

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/klaki892/chunked-dc/ipc"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/types"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink closed")

// StreamSink writes each message as a length-prefixed msgpack
// ipc.MessageRecord. Close writes an ipc.SessionEndRecord trailer.
type StreamSink struct {
	mu        sync.Mutex
	enc       *ipc.FrameEncoder
	closer    io.Closer
	sessionID string
	messages  int64
	bytes     int64
	closed    bool
}

// NewStreamSink creates a stream sink over w. If w is an io.Closer it is
// closed by Close; pass a wrapper to keep it open (e.g. os.Stdout).
func NewStreamSink(w io.Writer, sessionID string) *StreamSink {
	s := &StreamSink{enc: ipc.NewFrameEncoder(w), sessionID: sessionID}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// WriteMessages implements policy.Sink.
func (s *StreamSink) WriteMessages(ctx context.Context, msgs []*types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := m.Bytes()
		if err != nil {
			return err
		}
		payload, err := ipc.EncodeRecord(&ipc.MessageRecord{
			Type:        ipc.MessageRecordType,
			Version:     types.RecordVersion,
			SessionID:   s.sessionID,
			Seq:         m.Seq,
			Size:        m.Size,
			Frames:      m.Frames,
			DeliveredAt: m.DeliveredAt.UTC().Format(time.RFC3339Nano),
			Body:        body,
		})
		if err != nil {
			return err
		}
		if err := s.enc.WriteFrame(payload); err != nil {
			return err
		}
		s.messages++
		s.bytes += m.Size
	}
	return nil
}

// Close writes the session trailer and closes the writer if it owns one.
// Subsequent calls are no-ops.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	payload, err := ipc.EncodeRecord(&ipc.SessionEndRecord{
		Type:      ipc.SessionEndType,
		SessionID: s.sessionID,
		Messages:  s.messages,
		Bytes:     s.bytes,
	})
	if err == nil {
		err = s.enc.WriteFrame(payload)
	}
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
	}
	return err
}

var _ policy.Sink = (*StreamSink)(nil)
