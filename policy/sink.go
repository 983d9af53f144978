package policy

import (
	"context"
	"sync"

	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/types"
)

// Sink abstracts persistence for policies.
// Implementations may write to a stream, a directory, Lode storage, or stub
// for testing.
//
// Methods are batch-oriented to support both strict (batch of 1) and
// buffered policies.
type Sink interface {
	// WriteMessages persists a batch of messages.
	// Must preserve ordering within the batch.
	// Returns error on failure; caller decides whether to retry or fail.
	WriteMessages(ctx context.Context, msgs []*types.Message) error

	// Close releases any resources held by the sink.
	Close() error
}

// StubSink is a test sink that accepts writes without persisting.
// Tracks write statistics for test assertions.
type StubSink struct {
	mu sync.Mutex

	// MessagesWritten is the total count of messages written.
	MessagesWritten int64
	// Batches is the number of WriteMessages calls that succeeded.
	Batches int64
	// Closed indicates whether Close was called.
	Closed bool

	// Written stores all written messages for inspection.
	Written []*types.Message
	// BatchSizes records the size of every successful batch, in order.
	BatchSizes []int

	// ErrorOnWrite, if non-nil, is returned by WriteMessages.
	ErrorOnWrite error
	// ErrorOnClose, if non-nil, is returned by Close.
	ErrorOnClose error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{
		Written: make([]*types.Message, 0),
	}
}

// WriteMessages records the messages without persisting.
func (s *StubSink) WriteMessages(_ context.Context, msgs []*types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}

	s.Batches++
	s.MessagesWritten += int64(len(msgs))
	s.Written = append(s.Written, msgs...)
	s.BatchSizes = append(s.BatchSizes, len(msgs))
	return nil
}

// SetError replaces ErrorOnWrite under the sink lock.
func (s *StubSink) SetError(err error) {
	s.mu.Lock()
	s.ErrorOnWrite = err
	s.mu.Unlock()
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Closed = true
	return s.ErrorOnClose
}

// Stats returns a snapshot of sink statistics.
func (s *StubSink) Stats() StubSinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StubSinkStats{
		MessagesWritten: s.MessagesWritten,
		Batches:         s.Batches,
		Closed:          s.Closed,
	}
}

// StubSinkStats is a snapshot of StubSink statistics.
type StubSinkStats struct {
	MessagesWritten int64
	Batches         int64
	Closed          bool
}

// InstrumentedSink wraps a Sink and records one sink_write_success or
// sink_write_failure per WriteMessages call.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteMessages delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteMessages(ctx context.Context, msgs []*types.Message) error {
	err := s.inner.WriteMessages(ctx, msgs)
	if err != nil {
		s.collector.IncSinkWriteFailure()
	} else {
		s.collector.IncSinkWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var (
	_ Sink = (*StubSink)(nil)
	_ Sink = (*InstrumentedSink)(nil)
)
