// Package metrics provides per-session counters for the reassembly runtime.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies. Delivery policy counters are
// absorbed from policy.Stats at session end rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsFailed    int64

	// Ingestion
	FramesReceived    int64
	FrameDecodeErrors int64
	ChunkParseErrors  int64

	// Reassembly
	ChunksAccepted        int64
	ChunksDuplicate       int64
	MessagesDelivered     int64
	SingleChunkDeliveries int64
	MergeErrors           int64
	GCSweeps              int64
	ChunksCollected       int64

	// Delivery (absorbed from policy.Stats at session end)
	MessagesPersisted int64
	MessagesDropped   int64
	BytesPersisted    int64

	// Sink
	SinkWriteSuccess int64
	SinkWriteFailure int64

	// Notification adapter
	NotifySuccess int64
	NotifyFailure int64

	// Dimensions (informational, set at construction)
	Variant   string
	Policy    string
	Sink      string
	SessionID string
}

// Collector accumulates counters during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64

	framesReceived    int64
	frameDecodeErrors int64
	chunkParseErrors  int64

	chunksAccepted        int64
	chunksDuplicate       int64
	messagesDelivered     int64
	singleChunkDeliveries int64
	mergeErrors           int64
	gcSweeps              int64
	chunksCollected       int64

	messagesPersisted int64
	messagesDropped   int64
	bytesPersisted    int64

	sinkWriteSuccess int64
	sinkWriteFailure int64

	notifySuccess int64
	notifyFailure int64

	variant   string
	policy    string
	sink      string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(variant, policy, sink, sessionID string) *Collector {
	return &Collector{
		variant:   variant,
		policy:    policy,
		sink:      sink,
		sessionID: sessionID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsStarted, 1)
}

// IncSessionCompleted records a session that drained its source cleanly.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsCompleted, 1)
}

// IncSessionFailed records a session ended by a source, policy or sink error.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.add(&c.sessionsFailed, 1)
}

// --- Ingestion ---

// IncFramesReceived records a raw chunk read from the source.
func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.add(&c.framesReceived, 1)
}

// IncFrameDecodeErrors records a transport framing error.
func (c *Collector) IncFrameDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.frameDecodeErrors, 1)
}

// IncChunkParseErrors records a raw chunk rejected by the parser.
func (c *Collector) IncChunkParseErrors() {
	if c == nil {
		return
	}
	c.add(&c.chunkParseErrors, 1)
}

// --- Reassembly ---

// IncChunksAccepted records a chunk the engine stored or delivered.
func (c *Collector) IncChunksAccepted() {
	if c == nil {
		return
	}
	c.add(&c.chunksAccepted, 1)
}

// IncChunksDuplicate records a chunk dropped because its serial was held.
func (c *Collector) IncChunksDuplicate() {
	if c == nil {
		return
	}
	c.add(&c.chunksDuplicate, 1)
}

// IncMessagesDelivered records a completed message.
func (c *Collector) IncMessagesDelivered() {
	if c == nil {
		return
	}
	c.add(&c.messagesDelivered, 1)
}

// IncSingleChunkDeliveries records a message delivered without a collector.
func (c *Collector) IncSingleChunkDeliveries() {
	if c == nil {
		return
	}
	c.add(&c.singleChunkDeliveries, 1)
}

// IncMergeErrors records a message abandoned at merge time.
func (c *Collector) IncMergeErrors() {
	if c == nil {
		return
	}
	c.add(&c.mergeErrors, 1)
}

// RecordGC records one sweep and the number of chunks it discarded.
func (c *Collector) RecordGC(chunks int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.gcSweeps++
	c.chunksCollected += int64(chunks)
	c.mu.Unlock()
}

// --- Sink ---
// Sink counters are per-call, not per-message. A single WriteMessages call
// with N messages counts as 1 success.

// IncSinkWriteSuccess records a successful sink write (per-call).
func (c *Collector) IncSinkWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.sinkWriteSuccess, 1)
}

// IncSinkWriteFailure records a failed sink write (per-call).
func (c *Collector) IncSinkWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.sinkWriteFailure, 1)
}

// --- Notifications ---

// IncNotifySuccess records a delivered adapter notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.add(&c.notifySuccess, 1)
}

// IncNotifyFailure records an adapter notification that exhausted its retries.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.add(&c.notifyFailure, 1)
}

// --- Delivery (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies delivery counters from policy.Stats into the
// collector. Called once at session end with the final policy snapshot.
func (c *Collector) AbsorbPolicyStats(persisted, dropped, bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesPersisted = persisted
	c.messagesDropped = dropped
	c.bytesPersisted = bytes
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,

		FramesReceived:    c.framesReceived,
		FrameDecodeErrors: c.frameDecodeErrors,
		ChunkParseErrors:  c.chunkParseErrors,

		ChunksAccepted:        c.chunksAccepted,
		ChunksDuplicate:       c.chunksDuplicate,
		MessagesDelivered:     c.messagesDelivered,
		SingleChunkDeliveries: c.singleChunkDeliveries,
		MergeErrors:           c.mergeErrors,
		GCSweeps:              c.gcSweeps,
		ChunksCollected:       c.chunksCollected,

		MessagesPersisted: c.messagesPersisted,
		MessagesDropped:   c.messagesDropped,
		BytesPersisted:    c.bytesPersisted,

		SinkWriteSuccess: c.sinkWriteSuccess,
		SinkWriteFailure: c.sinkWriteFailure,

		NotifySuccess: c.notifySuccess,
		NotifyFailure: c.notifyFailure,

		Variant:   c.variant,
		Policy:    c.policy,
		Sink:      c.sink,
		SessionID: c.sessionID,
	}
}
