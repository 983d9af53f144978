package runtime

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/unchunk"
)

// engine is the variant-independent surface of an unchunk.Unchunker.
type engine interface {
	Add(ctx context.Context, raw chunk.Input, userCtx any) (unchunk.Outcome, error)
	GC(maxAge time.Duration) int
	Len() int
	Stats() unchunk.Stats
	Variant() string
}

// deliverFunc receives a completed message as a random-access body.
type deliverFunc func(body io.ReaderAt, size int64, contexts []any)

// newEngine builds the Unchunker for v and routes its deliveries to fn.
func newEngine(v unchunk.Variant, fn deliverFunc, opts ...unchunk.Option) engine {
	if v == unchunk.VariantBlob {
		u := unchunk.NewBlob(opts...)
		u.OnMessage(func(m *chunk.Blob, contexts []any) {
			fn(m, m.Len(), contexts)
		})
		return u
	}

	u := unchunk.NewBytes(opts...)
	u.OnMessage(func(m chunk.Bytes, contexts []any) {
		fn(bytes.NewReader(m), int64(len(m)), contexts)
	})
	return u
}
