package types

import (
	"fmt"
	"io"
	"time"
)

// FrameRef is the per-chunk context the runtime attaches to every raw chunk.
// A delivered message carries the refs of the chunks it was built from, in
// serial order.
type FrameRef struct {
	// Source is the transport the chunk arrived on.
	Source string `msgpack:"source" json:"source"`
	// Seq is the 1-based arrival position of the chunk within the session.
	Seq uint64 `msgpack:"seq" json:"seq"`
	// Size is the raw chunk length, header included.
	Size int64 `msgpack:"size" json:"size"`
}

// Message is a reassembled message handed to a delivery policy.
type Message struct {
	// Seq is the 1-based delivery position within the session.
	Seq uint64
	// Size is the message length in bytes.
	Size int64
	// Body holds the message bytes. For the blob variant it is a lazy view
	// over the chunk sources and reads may block.
	Body io.ReaderAt
	// Frames are the refs of the contributing chunks, in serial order.
	Frames []FrameRef
	// DeliveredAt is when the engine completed the message.
	DeliveredAt time.Time
}

// Reader returns a fresh reader over the whole body.
func (m *Message) Reader() io.Reader {
	return io.NewSectionReader(m.Body, 0, m.Size)
}

// Bytes reads the whole body into memory.
func (m *Message) Bytes() ([]byte, error) {
	buf := make([]byte, m.Size)
	if _, err := io.ReadFull(m.Reader(), buf); err != nil {
		return nil, fmt.Errorf("read message %d: %w", m.Seq, err)
	}
	return buf, nil
}
