package policy

import (
	"context"
	"errors"
	"sync"

	"github.com/klaki892/chunked-dc/log"
	"github.com/klaki892/chunked-dc/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferMessages flushes once this many messages are buffered.
	// Zero means no count limit (use MaxBufferBytes instead).
	MaxBufferMessages int

	// MaxBufferBytes flushes once buffered bodies reach this many bytes.
	// Zero means no byte limit (use MaxBufferMessages instead).
	// At least one limit must be set.
	MaxBufferBytes int64

	// Logger is an optional logger for policy observability.
	// If nil, no logging is emitted.
	Logger *log.Logger
}

// DefaultBufferedConfig returns sensible defaults for buffered policy.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferMessages: 1000,
		MaxBufferBytes:    10 * 1024 * 1024, // 10 MB
	}
}

// ErrInvalidConfig is returned when BufferedConfig is invalid.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferMessages or MaxBufferBytes must be set")

// BufferedPolicy batches messages and writes them to the sink when a limit
// is reached, on Flush, and on Close.
//
// Flushes are at-least-once: a failed write leaves the whole buffer in
// place, so a later flush retries every message in it. Messages are never
// dropped.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex // guards buffer state and stats
	buffer      []*types.Message
	bufferBytes int64
	stats       statsRecorder
	closed      bool
}

// NewBufferedPolicy creates a new buffered policy.
// Returns error if config is invalid.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferMessages <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}

	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make([]*types.Message, 0, min(max(config.MaxBufferMessages, 16), 1024)),
	}, nil
}

// Deliver buffers the message and flushes if a limit is reached.
// A flush failure is returned; the message stays buffered.
func (p *BufferedPolicy) Deliver(ctx context.Context, msg *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	p.stats.incTotalLocked()
	p.buffer = append(p.buffer, msg)
	p.bufferBytes += msg.Size

	if !p.full() {
		return nil
	}
	return p.flushLocked(ctx, "limit")
}

// full reports whether either limit is reached. Caller must hold mu.
func (p *BufferedPolicy) full() bool {
	if p.config.MaxBufferMessages > 0 && len(p.buffer) >= p.config.MaxBufferMessages {
		return true
	}
	return p.config.MaxBufferBytes > 0 && p.bufferBytes >= p.config.MaxBufferBytes
}

// Flush writes all buffered messages to the sink in one batch.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked(ctx, "explicit")
}

// flushLocked writes the buffer. Caller must hold mu.
func (p *BufferedPolicy) flushLocked(ctx context.Context, trigger string) error {
	p.stats.incFlushLocked()
	if len(p.buffer) == 0 {
		return nil
	}

	batch := p.buffer
	if err := p.sink.WriteMessages(ctx, batch); err != nil {
		p.stats.incErrorsLocked()
		p.logFlushFailure(trigger, len(batch), err)
		return err
	}

	p.stats.incPersistedLocked(int64(len(batch)), p.bufferBytes)
	p.buffer = make([]*types.Message, 0, cap(batch))
	p.bufferBytes = 0
	return nil
}

// Close flushes remaining messages and closes the sink. Only the first
// call does anything.
func (p *BufferedPolicy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	flushErr := p.Flush(context.Background())
	return errors.Join(flushErr, p.sink.Close())
}

// Stats returns an atomic snapshot of counters and buffer gauges.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(len(p.buffer), p.bufferBytes)
}

func (p *BufferedPolicy) logFlushFailure(trigger string, messages int, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error("flush failed", map[string]any{
		"trigger":  trigger,
		"messages": messages,
		"error":    err.Error(),
		"policy":   "buffered",
	})
}

var _ Policy = (*BufferedPolicy)(nil)
