// Package runtime drives one reassembly session: it pulls raw chunks from a
// transport, feeds them to an unchunk engine, and hands completed messages
// to a delivery policy.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klaki892/chunked-dc/adapter"
	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/log"
	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/transport"
	"github.com/klaki892/chunked-dc/types"
	"github.com/klaki892/chunked-dc/unchunk"
)

// Default GC settings.
const (
	DefaultGCInterval = 10 * time.Second
	DefaultMaxAge     = 30 * time.Second
)

// SessionConfig configures a single session.
type SessionConfig struct {
	// Meta is the session identity. Meta.Variant selects the engine.
	Meta *types.SessionMeta
	// Source yields raw chunks. The session closes it when Run returns.
	Source transport.Source
	// Policy receives delivered messages. Run flushes and closes it before
	// the session_completed event is published.
	Policy policy.Policy
	// Adapter, if set, is notified when the session ends. The caller
	// closes it.
	Adapter adapter.Adapter
	// NotifyEach additionally publishes one event per delivered message.
	NotifyEach bool
	// GCInterval is how often idle partial messages are swept.
	// Zero disables the sweep.
	GCInterval time.Duration
	// MaxAge is how long a partial message may go without a new chunk.
	MaxAge time.Duration
	// FailOnChunkError ends the session on the first rejected chunk instead
	// of counting and skipping it.
	FailOnChunkError bool
	// Collector records session metrics. May be nil.
	Collector *metrics.Collector
	// Logger overrides the default session logger.
	Logger *log.Logger
	// Clock overrides time.Now for chunk arrival and delivery times.
	Clock func() time.Time
}

// SessionResult summarizes a finished session.
type SessionResult struct {
	// Meta is the session identity.
	Meta *types.SessionMeta
	// Outcome is the terminal status.
	Outcome *Outcome
	// Duration is the wall time of Run.
	Duration time.Duration
	// FramesReceived is the number of raw chunks read from the source.
	FramesReceived int64
	// MessagesDelivered is the number of messages handed to the policy.
	MessagesDelivered int64
	// Pending describes partial messages still held when the session ended.
	Pending unchunk.Stats
	// PolicyStats is the policy's final counters.
	PolicyStats policy.Stats
}

// Session owns one engine. Chunk ingestion and GC sweeps run on the
// goroutine that calls Run, so the engine is never accessed concurrently.
type Session struct {
	config  *SessionConfig
	logger  *log.Logger
	engine  engine
	now     func() time.Time
	pending []*types.Message

	frames    uint64
	delivered uint64
}

// NewSession validates the config and builds the engine.
func NewSession(config *SessionConfig) (*Session, error) {
	if config.Meta == nil {
		return nil, errors.New("session metadata is required")
	}
	if err := config.Meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session metadata: %w", err)
	}
	if config.Source == nil {
		return nil, errors.New("source is required")
	}
	if config.Policy == nil {
		return nil, errors.New("policy is required")
	}
	if config.GCInterval < 0 || config.MaxAge < 0 {
		return nil, errors.New("gc interval and max age must be >= 0")
	}
	if config.MaxAge == 0 {
		config.MaxAge = DefaultMaxAge
	}

	variant, err := unchunk.ParseVariant(config.Meta.Variant)
	if err != nil {
		return nil, err
	}

	s := &Session{config: config, logger: config.Logger, now: config.Clock}
	if s.logger == nil {
		s.logger = log.NewLogger(config.Meta)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.engine = newEngine(variant, s.onMessage, unchunk.WithClock(s.now))
	return s, nil
}

// Run reads the source until it drains, fails or ctx is canceled, then
// flushes and closes the policy. The returned error is nil on a clean drain, otherwise
// an *IngestionError; the result is always non-nil.
func (s *Session) Run(ctx context.Context) (*SessionResult, error) {
	start := time.Now()
	s.config.Collector.IncSessionStarted()
	s.logger.Info("starting session", map[string]any{
		"gc_interval": s.config.GCInterval.String(),
		"max_age":     s.config.MaxAge.String(),
	})

	runErr := s.loop(ctx)

	if err := s.config.Source.Close(); err != nil {
		s.logger.Warn("source close failed", map[string]any{"error": err.Error()})
	}

	// Messages already delivered by the engine are flushed even when the
	// session was canceled.
	if err := s.config.Policy.Flush(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		s.logger.Error("policy flush failed", map[string]any{"error": err.Error()})
		runErr = &IngestionError{Kind: IngestionErrorPolicy, Err: fmt.Errorf("policy flush: %w", err)}
	}
	if err := s.config.Policy.Close(); err != nil && runErr == nil {
		s.logger.Error("policy close failed", map[string]any{"error": err.Error()})
		runErr = &IngestionError{Kind: IngestionErrorPolicy, Err: fmt.Errorf("closing sink: %w", err)}
	}

	pending := s.engine.Stats()
	if pending.PendingMessages > 0 {
		s.logger.Warn("incomplete messages discarded", map[string]any{
			"messages": pending.PendingMessages,
			"chunks":   pending.PendingChunks,
			"bytes":    pending.PendingBytes,
		})
	}

	stats := s.config.Policy.Stats()
	s.config.Collector.AbsorbPolicyStats(stats.MessagesPersisted, stats.MessagesDropped, stats.BytesPersisted)

	outcome := DetermineOutcome(runErr)
	if outcome.Status == OutcomeSuccess || outcome.Status == OutcomeCanceled {
		s.config.Collector.IncSessionCompleted()
	} else {
		s.config.Collector.IncSessionFailed()
	}

	result := &SessionResult{
		Meta:              s.config.Meta,
		Outcome:           outcome,
		Duration:          time.Since(start),
		FramesReceived:    int64(s.frames),
		MessagesDelivered: int64(s.delivered),
		Pending:           pending,
		PolicyStats:       stats,
	}

	if s.config.Adapter != nil {
		event := adapter.NewSessionCompleted(s.config.Meta, string(outcome.Status), result.MessagesDelivered, result.Duration, s.now())
		s.notify(context.WithoutCancel(ctx), event)
	}

	s.logger.Info("session finished", map[string]any{
		"outcome":            outcome.Status,
		"frames_received":    result.FramesReceived,
		"messages_delivered": result.MessagesDelivered,
		"duration_ms":        result.Duration.Milliseconds(),
	})
	return result, runErr
}

type sourceItem struct {
	in  chunk.Input
	err error
}

// loop multiplexes source reads and GC ticks onto the calling goroutine.
func (s *Session) loop(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make(chan sourceItem)
	go s.read(readCtx, items)

	var tick <-chan time.Time
	if s.config.GCInterval > 0 {
		ticker := time.NewTicker(s.config.GCInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}

		case <-tick:
			s.sweep()

		case it := <-items:
			if it.err != nil {
				return s.sourceError(ctx, it.err)
			}
			if err := s.ingest(ctx, it.in); err != nil {
				return err
			}
		}
	}
}

// read pumps the source into items until it fails or ctx ends.
func (s *Session) read(ctx context.Context, items chan<- sourceItem) {
	for {
		in, err := s.config.Source.Next(ctx)
		select {
		case items <- sourceItem{in: in, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) sourceError(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) {
		s.logger.Debug("source drained", nil)
		return nil
	}
	if ctx.Err() != nil {
		return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
	}
	s.config.Collector.IncFrameDecodeErrors()
	s.logger.Error("source error", map[string]any{"error": err.Error()})
	return &IngestionError{Kind: IngestionErrorStream, Err: fmt.Errorf("source %s: %w", s.config.Source.Name(), err)}
}

// ingest feeds one raw chunk to the engine and dispatches what it delivers.
func (s *Session) ingest(ctx context.Context, in chunk.Input) error {
	s.frames++
	s.config.Collector.IncFramesReceived()
	ref := types.FrameRef{Source: s.config.Source.Name(), Seq: s.frames, Size: in.Len()}

	outcome, err := s.engine.Add(ctx, in, ref)
	if err != nil {
		if cerr := s.chunkError(ref, err); cerr != nil {
			return cerr
		}
	} else if outcome == unchunk.OutcomeDuplicate {
		s.config.Collector.IncChunksDuplicate()
		s.logger.Debug("duplicate chunk", map[string]any{"frame_seq": ref.Seq})
	} else {
		s.config.Collector.IncChunksAccepted()
	}

	return s.dispatch(ctx)
}

// chunkError records a rejected chunk and returns non-nil in fail-fast mode.
func (s *Session) chunkError(ref types.FrameRef, err error) error {
	fields := map[string]any{"frame_seq": ref.Seq, "size": ref.Size, "error": err.Error()}
	if chunk.IsKind(err, chunk.KindChunkTooLarge) {
		s.config.Collector.IncMergeErrors()
		s.logger.Warn("message abandoned", fields)
	} else {
		s.config.Collector.IncChunkParseErrors()
		s.logger.Warn("chunk rejected", fields)
	}

	if s.config.FailOnChunkError {
		return &IngestionError{Kind: IngestionErrorChunk, Err: fmt.Errorf("frame %d: %w", ref.Seq, err)}
	}
	return nil
}

// onMessage is the engine handler. It runs inside engine.Add and only
// queues; dispatch does the blocking work.
func (s *Session) onMessage(body io.ReaderAt, size int64, contexts []any) {
	s.delivered++
	frames := make([]types.FrameRef, 0, len(contexts))
	for _, c := range contexts {
		if ref, ok := c.(types.FrameRef); ok {
			frames = append(frames, ref)
		}
	}
	s.pending = append(s.pending, &types.Message{
		Seq:         s.delivered,
		Size:        size,
		Body:        body,
		Frames:      frames,
		DeliveredAt: s.now(),
	})
}

// dispatch hands queued messages to the policy in delivery order.
func (s *Session) dispatch(ctx context.Context) error {
	for len(s.pending) > 0 {
		msg := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]

		s.config.Collector.IncMessagesDelivered()
		if len(msg.Frames) == 1 {
			s.config.Collector.IncSingleChunkDeliveries()
		}
		s.logger.Debug("message delivered", map[string]any{
			"seq":    msg.Seq,
			"size":   msg.Size,
			"chunks": len(msg.Frames),
		})

		if err := s.config.Policy.Deliver(ctx, msg); err != nil {
			s.logger.Error("policy delivery failed", map[string]any{
				"seq":   msg.Seq,
				"error": err.Error(),
			})
			return &IngestionError{Kind: IngestionErrorPolicy, Err: fmt.Errorf("policy failure: %w", err)}
		}

		if s.config.NotifyEach && s.config.Adapter != nil {
			s.notify(ctx, adapter.NewMessageDelivered(s.config.Meta, msg))
		}
	}
	s.pending = nil
	return nil
}

// sweep runs one GC pass over idle partial messages.
func (s *Session) sweep() {
	removed := s.engine.GC(s.config.MaxAge)
	s.config.Collector.RecordGC(removed)
	if removed > 0 {
		s.logger.Info("discarded stale partial messages", map[string]any{
			"chunks":    removed,
			"remaining": s.engine.Len(),
		})
	}
}

// notify publishes an event. Failures are counted and logged only.
func (s *Session) notify(ctx context.Context, event *adapter.Event) {
	if err := s.config.Adapter.Publish(ctx, event); err != nil {
		s.config.Collector.IncNotifyFailure()
		s.logger.Warn("notification failed", map[string]any{
			"event_type": event.EventType,
			"error":      err.Error(),
		})
		return
	}
	s.config.Collector.IncNotifySuccess()
}
