// Package adapter publishes delivery notifications to downstream systems.
//
// The runtime owns adapter lifecycle; users provide configuration only.
// Notification failures are counted and logged, never fatal to a session.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/klaki892/chunked-dc/types"
)

// Event types.
const (
	EventMessageDelivered = "message_delivered"
	EventSessionCompleted = "session_completed"
)

// Event is the JSON payload published for a delivered message or a
// finished session.
type Event struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	Source          string `json:"source"`
	Variant         string `json:"variant"`
	Timestamp       string `json:"timestamp"` // RFC 3339

	// message_delivered
	Seq    uint64 `json:"seq,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Chunks int    `json:"chunks,omitempty"`

	// session_completed
	Outcome           string `json:"outcome,omitempty"`
	MessagesDelivered int64  `json:"messages_delivered,omitempty"`
	DurationMs        int64  `json:"duration_ms,omitempty"`
}

// NewMessageDelivered builds the event for one delivered message.
func NewMessageDelivered(meta *types.SessionMeta, msg *types.Message) *Event {
	return &Event{
		ContractVersion: types.RecordVersion,
		EventType:       EventMessageDelivered,
		SessionID:       meta.SessionID,
		Source:          meta.Source,
		Variant:         meta.Variant,
		Timestamp:       msg.DeliveredAt.UTC().Format(time.RFC3339Nano),
		Seq:             msg.Seq,
		Size:            msg.Size,
		Chunks:          len(msg.Frames),
	}
}

// NewSessionCompleted builds the event for a finished session.
func NewSessionCompleted(meta *types.SessionMeta, outcome string, delivered int64, duration time.Duration, at time.Time) *Event {
	return &Event{
		ContractVersion:   types.RecordVersion,
		EventType:         EventSessionCompleted,
		SessionID:         meta.SessionID,
		Source:            meta.Source,
		Variant:           meta.Variant,
		Timestamp:         at.UTC().Format(time.RFC3339Nano),
		Outcome:           outcome,
		MessagesDelivered: delivered,
		DurationMs:        duration.Milliseconds(),
	}
}

// Adapter publishes events to a downstream system.
// Implementations are used by one session at a time.
type Adapter interface {
	// Publish sends an event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry. Each further retry
// doubles it.
const DefaultBackoff = 500 * time.Millisecond

// Retry runs op up to 1+retries times with exponential backoff between
// attempts. It stops early when fatal reports true for an error. The
// returned error is prefixed with name.
func Retry(ctx context.Context, name string, retries int, backoff time.Duration, op func(context.Context) error, fatal func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff << (i - 1)):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if fatal != nil && fatal(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
