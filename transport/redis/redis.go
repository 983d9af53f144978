// Package redis receives raw chunks from a Redis pub/sub channel. Each
// published message is one chunk.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"

	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/transport"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "unchunk:chunks"

// Config configures the Redis source.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel (default unchunk:chunks).
	Channel string
}

// Source is a subscribed pub/sub channel. Pub/sub is at-most-once:
// chunks published while the source is not subscribed are lost, and the
// engine's GC reclaims the partial messages they leave behind.
type Source struct {
	client *goredis.Client
	sub    *goredis.PubSub
	msgs   <-chan *goredis.Message
}

// New connects, subscribes and waits for the subscription to be confirmed,
// so chunks published after New returns are received.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis source requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis source: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}

	client := goredis.NewClient(opts)
	sub := client.Subscribe(ctx, cfg.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redis source: subscribe %s: %w", cfg.Channel, err)
	}

	return &Source{client: client, sub: sub, msgs: sub.Channel()}, nil
}

// Name implements transport.Source.
func (s *Source) Name() string { return "redis" }

// Next implements transport.Source. It returns io.EOF once the source is
// closed.
func (s *Source) Next(ctx context.Context) (chunk.Input, error) {
	select {
	case <-ctx.Done():
		return chunk.Input{}, ctx.Err()
	case msg, ok := <-s.msgs:
		if !ok {
			return chunk.Input{}, io.EOF
		}
		return chunk.BytesInput([]byte(msg.Payload)), nil
	}
}

// Close unsubscribes and closes the connection.
func (s *Source) Close() error {
	return errors.Join(s.sub.Close(), s.client.Close())
}

var _ transport.Source = (*Source)(nil)
