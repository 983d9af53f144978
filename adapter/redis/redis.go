// Package redis delivers notifications to Redis, either as pub/sub
// messages or as entries appended to a stream.
//
// Pub/sub is fire-and-forget: subscribers that are not connected miss the
// event. Stream mode (XADD) keeps events for consumers that attach later.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/klaki892/chunked-dc/adapter"
)

const (
	// DefaultChannel names both the pub/sub channel and the stream key.
	DefaultChannel = "unchunk:events"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]. Required.
	URL string
	// Channel is the pub/sub channel, or the stream key in stream mode.
	Channel string
	// Stream switches from PUBLISH to XADD.
	Stream bool
	// StreamMax caps the stream at roughly this many entries. Zero keeps
	// everything.
	StreamMax int64
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
}

// Adapter writes events to Redis.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New parses the URL and fills in defaults. It does not dial; the first
// publish does.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.StreamMax < 0 {
		return nil, fmt.Errorf("stream max must be >= 0, got %d", cfg.StreamMax)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}

	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish writes the event as JSON. Stream entries also carry the event
// type and session id as separate fields so consumers can filter without
// decoding the payload.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	send := a.publish
	if a.cfg.Stream {
		send = a.xadd
	}
	return adapter.Retry(ctx, "redis", a.cfg.Retries, a.cfg.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		return send(ctx, event, body)
	}, func(err error) bool {
		return errors.Is(err, goredis.ErrClosed)
	})
}

func (a *Adapter) publish(ctx context.Context, _ *adapter.Event, body []byte) error {
	return a.client.Publish(ctx, a.cfg.Channel, body).Err()
}

func (a *Adapter) xadd(ctx context.Context, event *adapter.Event, body []byte) error {
	args := &goredis.XAddArgs{
		Stream: a.cfg.Channel,
		Values: map[string]any{
			"event_type": event.EventType,
			"session_id": event.SessionID,
			"payload":    body,
		},
	}
	if a.cfg.StreamMax > 0 {
		args.MaxLen = a.cfg.StreamMax
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

// Close closes the client. Later publishes fail without retrying.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
