// Package webrtc receives raw chunks from WebRTC data channels. Each binary
// data channel message is one chunk; text messages are ignored.
package webrtc

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/transport"
)

// DefaultBuffer is the number of chunks queued before HandleMessage blocks
// the data channel's read loop.
const DefaultBuffer = 256

// Source queues chunks from any number of attached data channels.
type Source struct {
	inbox chan []byte
	done  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	channels []*webrtc.DataChannel
	// closeOnDetach ends the source when the last attached channel closes.
	closeOnDetach bool
}

// Option configures a Source.
type Option func(*Source)

// WithBuffer sets the inbox capacity.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.inbox = make(chan []byte, n)
		}
	}
}

// WithCloseOnDetach ends the source once every attached channel has closed.
func WithCloseOnDetach() Option {
	return func(s *Source) { s.closeOnDetach = true }
}

// New creates an empty source. Feed it with Attach or HandleMessage.
func New(opts ...Option) *Source {
	s := &Source{
		inbox: make(chan []byte, DefaultBuffer),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAPI returns a pion API for peers that carry chunks. includeLoopback
// enables loopback ICE candidates, needed when both peers share a host.
func NewAPI(includeLoopback bool) *webrtc.API {
	settings := webrtc.SettingEngine{}
	settings.SetIncludeLoopbackCandidate(includeLoopback)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// Attach routes dc's messages into the source.
func (s *Source) Attach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.channels = append(s.channels, dc)
	s.mu.Unlock()

	dc.OnMessage(s.HandleMessage)
	dc.OnClose(func() { s.detach(dc) })
}

func (s *Source) detach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	for i, c := range s.channels {
		if c == dc {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			break
		}
	}
	last := len(s.channels) == 0
	s.mu.Unlock()

	if last && s.closeOnDetach {
		_ = s.Close()
	}
}

// HandleMessage queues a copy of a binary message as a chunk. It blocks
// while the inbox is full and drops the message once the source is closed.
func (s *Source) HandleMessage(msg webrtc.DataChannelMessage) {
	if msg.IsString {
		return
	}
	select {
	case <-s.done:
	case s.inbox <- slices.Clone(msg.Data):
	}
}

// Name implements transport.Source.
func (s *Source) Name() string { return "webrtc" }

// Next implements transport.Source. Chunks already queued are drained
// before io.EOF is reported.
func (s *Source) Next(ctx context.Context) (chunk.Input, error) {
	select {
	case data := <-s.inbox:
		return chunk.BytesInput(data), nil
	default:
	}

	select {
	case <-ctx.Done():
		return chunk.Input{}, ctx.Err()
	case data := <-s.inbox:
		return chunk.BytesInput(data), nil
	case <-s.done:
		select {
		case data := <-s.inbox:
			return chunk.BytesInput(data), nil
		default:
			return chunk.Input{}, io.EOF
		}
	}
}

// Close stops accepting messages and closes attached channels.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()

	var firstErr error
	for _, dc := range channels {
		if err := dc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ transport.Source = (*Source)(nil)
