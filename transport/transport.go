// Package transport defines where raw chunks come from.
//
// Each subpackage adapts one carrier (a framed byte stream, a directory of
// chunk files, Redis pub/sub, a WebRTC data channel) to Source.
package transport

import (
	"context"

	"github.com/klaki892/chunked-dc/chunk"
)

// Source yields raw chunk buffers in arrival order.
//
// Next blocks until a chunk is available. It returns io.EOF once the source
// is drained; any other error ends the session as a stream error. Next is
// called from a single goroutine; Close may be called concurrently with it
// and must unblock it.
type Source interface {
	// Name identifies the source in logs, frame refs and partitions.
	Name() string
	// Next returns the next raw chunk.
	Next(ctx context.Context) (chunk.Input, error)
	// Close releases the source.
	Close() error
}
