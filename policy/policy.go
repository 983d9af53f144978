// Package policy defines how delivered messages reach a Sink.
package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/klaki892/chunked-dc/types"
)

// ErrClosed is returned by Deliver after Close.
var ErrClosed = errors.New("policy closed")

// Policy controls buffering and persistence of reassembled messages.
//
//   - Policy must not alter message bodies or frame refs
//   - Messages reach the sink in delivery order
//   - Policy failure terminates the session
type Policy interface {
	// Deliver hands a completed message to the policy.
	// Returns error on failure (terminates session).
	Deliver(ctx context.Context, msg *types.Message) error

	// Flush writes any buffered messages.
	// Called when the source drains and on session termination.
	Flush(ctx context.Context) error

	// Close cleans up policy resources, including the sink.
	Close() error

	// Stats returns an atomic snapshot of policy counters.
	Stats() Stats
}

// Stats represents policy observability counters.
type Stats struct {
	// TotalMessages is the number of messages handed to Deliver.
	TotalMessages int64 `json:"total_messages"`
	// MessagesPersisted is the number of messages the sink accepted.
	MessagesPersisted int64 `json:"messages_persisted"`
	// MessagesDropped is the number of messages discarded by policy.
	MessagesDropped int64 `json:"messages_dropped"`
	// BytesPersisted is the total body size of persisted messages.
	BytesPersisted int64 `json:"bytes_persisted"`
	// BufferedMessages is the current number of buffered messages.
	BufferedMessages int64 `json:"buffered_messages"`
	// BufferSize is the current buffer size in bytes (if buffered).
	BufferSize int64 `json:"buffer_size"`
	// FlushCount is the number of flush operations.
	FlushCount int64 `json:"flush_count"`
	// Errors is the count of sink errors encountered.
	Errors int64 `json:"errors"`
}

// statsRecorder is an internal helper for thread-safe stats management.
//
// Lock discipline:
//   - StrictPolicy and NoopPolicy use the locking methods
//   - BufferedPolicy uses the Locked methods only while holding
//     BufferedPolicy.mu, keeping buffer state and counters atomic
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) incTotal() {
	r.mu.Lock()
	r.stats.TotalMessages++
	r.mu.Unlock()
}

func (r *statsRecorder) incPersisted(n, bytes int64) {
	r.mu.Lock()
	r.stats.MessagesPersisted += n
	r.stats.BytesPersisted += bytes
	r.mu.Unlock()
}

func (r *statsRecorder) incDropped() {
	r.mu.Lock()
	r.stats.MessagesDropped++
	r.mu.Unlock()
}

func (r *statsRecorder) incErrors() {
	r.mu.Lock()
	r.stats.Errors++
	r.mu.Unlock()
}

func (r *statsRecorder) incFlush() {
	r.mu.Lock()
	r.stats.FlushCount++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// --- Locked methods for BufferedPolicy ---
// Caller must hold BufferedPolicy.mu.

func (r *statsRecorder) incTotalLocked() {
	r.stats.TotalMessages++
}

func (r *statsRecorder) incPersistedLocked(n, bytes int64) {
	r.stats.MessagesPersisted += n
	r.stats.BytesPersisted += bytes
}

func (r *statsRecorder) incErrorsLocked() {
	r.stats.Errors++
}

func (r *statsRecorder) incFlushLocked() {
	r.stats.FlushCount++
}

// snapshotLocked returns a snapshot with the given buffer gauges.
func (r *statsRecorder) snapshotLocked(messages int, bytes int64) Stats {
	s := r.stats
	s.BufferedMessages = int64(messages)
	s.BufferSize = bytes
	return s
}

// totalSize sums the body sizes of msgs.
func totalSize(msgs []*types.Message) int64 {
	var n int64
	for _, m := range msgs {
		n += m.Size
	}
	return n
}
