// Package webhook POSTs delivery notifications as JSON to an HTTP endpoint.
//
// Each request carries the event type, the session id and an idempotency
// key, so a receiver can drop the duplicates that retries may produce.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/klaki892/chunked-dc/adapter"
	"github.com/klaki892/chunked-dc/iox"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3
)

// Request headers set on every notification.
const (
	HeaderEvent          = "X-Unchunk-Event"
	HeaderSession        = "X-Unchunk-Session"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint notifications are POSTed to. Required.
	URL string
	// Headers are added to every request after the built-in ones.
	Headers map[string]string
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retriable failure.
	Retries int
	// Backoff is the delay before the first retry; it doubles each time.
	Backoff time.Duration
}

// Adapter POSTs events to Config.URL.
type Adapter struct {
	url     string
	headers http.Header
	retries int
	backoff time.Duration
	timeout time.Duration
	client  *http.Client
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = adapter.DefaultBackoff
	}

	h := make(http.Header, len(cfg.Headers)+1)
	h.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}

	return &Adapter{
		url:     cfg.URL,
		headers: h,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish POSTs the event. Client errors other than 408 and 429 are not
// retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	h := a.headers.Clone()
	h.Set(HeaderEvent, event.EventType)
	h.Set(HeaderSession, event.SessionID)
	h.Set(HeaderIdempotencyKey, IdempotencyKey(event))

	return adapter.Retry(ctx, "webhook", a.retries, a.backoff, func(ctx context.Context) error {
		return a.post(ctx, h, body)
	}, permanent)
}

// IdempotencyKey identifies an event across retries: the session id plus
// the message sequence, or plus the event type for session events.
func IdempotencyKey(event *adapter.Event) string {
	if event.EventType == adapter.EventMessageDelivered {
		return event.SessionID + "/" + strconv.FormatUint(event.Seq, 10)
	}
	return event.SessionID + "/" + event.EventType
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func permanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

func (a *Adapter) post(ctx context.Context, h http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = h

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
