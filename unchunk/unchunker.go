// Package unchunk reassembles chunked messages.
//
// An Unchunker keeps one Collector per message id. Chunks may arrive in any
// order and may repeat; once every serial of a message is present the
// payloads are joined in serial order and handed to the registered Handler.
//
// The engine starts no goroutines and holds no locks. Callers that share an
// Unchunker across goroutines must serialize Add and GC themselves. Partial
// messages are only reclaimed by GC, which the owner must call on its own
// schedule; without it, every message that never completes stays in memory.
package unchunk

import (
	"context"
	"fmt"
	"time"

	"github.com/klaki892/chunked-dc/chunk"
)

// Handler receives a completed message and the contexts of the chunks that
// carried one, in serial order.
type Handler[P chunk.Payload] func(message P, contexts []any)

// Outcome describes what Add did with a chunk.
type Outcome int

const (
	// OutcomeRejected accompanies every Add error: the chunk failed to parse
	// or its message was abandoned.
	OutcomeRejected Outcome = iota
	// OutcomeBuffered means the chunk was stored and its message is incomplete.
	OutcomeBuffered
	// OutcomeDuplicate means the serial was already held; nothing changed.
	OutcomeDuplicate
	// OutcomeDelivered means the chunk completed its message.
	OutcomeDelivered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Option configures an Unchunker.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the source of chunk arrival times.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	PendingMessages int   `json:"pending_messages"`
	PendingChunks   int   `json:"pending_chunks"`
	PendingBytes    int64 `json:"pending_bytes"`
}

// Unchunker routes chunks to per-message collectors and delivers completed
// messages. Build one with New, NewBytes or NewBlob.
type Unchunker[P chunk.Payload] struct {
	rep      chunk.Representation[P]
	registry map[uint32]*Collector[P]
	handler  Handler[P]
	now      func() time.Time
}

// New returns an Unchunker over the given payload representation.
func New[P chunk.Payload](rep chunk.Representation[P], opts ...Option) *Unchunker[P] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Unchunker[P]{
		rep:      rep,
		registry: make(map[uint32]*Collector[P]),
		now:      o.now,
	}
}

// NewBytes returns an Unchunker that delivers contiguous in-memory messages.
func NewBytes(opts ...Option) *Unchunker[chunk.Bytes] {
	return New(chunk.Memory, opts...)
}

// NewBlob returns an Unchunker that delivers messages as blobs stitched
// from chunk-sized pieces, without concatenating them in memory.
func NewBlob(opts ...Option) *Unchunker[*chunk.Blob] {
	return New(chunk.Stream, opts...)
}

// OnMessage replaces the delivery handler. With no handler, completed
// messages are dropped.
func (u *Unchunker[P]) OnMessage(h Handler[P]) {
	u.handler = h
}

// Variant returns the name of the payload representation.
func (u *Unchunker[P]) Variant() string {
	return u.rep.Name()
}

// Add parses raw and feeds it to the engine. The handler, if the chunk
// completes a message, runs synchronously before Add returns.
//
// A single-chunk message (serial 0 with the end flag) is delivered without
// creating a collector, and discards any partial collector registered under
// the same id.
//
// Errors:
//   - KindChunkTooShort, KindUnsupportedInput: parse failure, nothing changed
//   - KindChunkTooLarge: the message was abandoned and its collector removed
func (u *Unchunker[P]) Add(ctx context.Context, raw chunk.Input, userCtx any) (Outcome, error) {
	ch, err := u.rep.Parse(ctx, raw, userCtx)
	if err != nil {
		return OutcomeRejected, err
	}

	col, exists := u.registry[ch.ID]
	if exists && col.Has(ch.Serial) {
		return OutcomeDuplicate, nil
	}

	if ch.Serial == 0 && ch.End {
		delete(u.registry, ch.ID)
		contexts := make([]any, 0, 1)
		if userCtx != nil {
			contexts = append(contexts, userCtx)
		}
		u.deliver(ch.Payload, contexts)
		return OutcomeDelivered, nil
	}

	if !exists {
		col = NewCollector(ch.ID, u.rep, u.now())
		u.registry[ch.ID] = col
	}
	col.Add(ch, u.now())

	if !col.Complete() {
		return OutcomeBuffered, nil
	}

	message, contexts, err := col.Merge()
	delete(u.registry, ch.ID)
	if err != nil {
		return OutcomeRejected, err
	}
	u.deliver(message, contexts)
	return OutcomeDelivered, nil
}

func (u *Unchunker[P]) deliver(message P, contexts []any) {
	if u.handler == nil {
		return
	}
	u.handler(message, contexts)
}

// GC removes every collector whose last accepted chunk is older than maxAge
// and returns the number of chunks they held.
func (u *Unchunker[P]) GC(maxAge time.Duration) int {
	now := u.now()
	removed := 0
	for id, col := range u.registry {
		if col.OlderThan(maxAge, now) {
			removed += col.Len()
			delete(u.registry, id)
		}
	}
	return removed
}

// Len returns the number of messages awaiting completion.
func (u *Unchunker[P]) Len() int {
	return len(u.registry)
}

// Stats summarizes the partial messages currently held.
func (u *Unchunker[P]) Stats() Stats {
	s := Stats{PendingMessages: len(u.registry)}
	for _, col := range u.registry {
		s.PendingChunks += col.Len()
		s.PendingBytes += col.Size()
	}
	return s
}
