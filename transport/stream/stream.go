// Package stream reads raw chunks from a length-prefixed byte stream such as
// stdin, a file or a pipe.
package stream

import (
	"context"
	"io"

	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/ipc"
	"github.com/klaki892/chunked-dc/transport"
)

// Source decodes one chunk per ipc frame.
//
// Framing errors are fatal: after a partial or oversized frame the stream
// cannot be resynchronized.
type Source struct {
	name   string
	dec    *ipc.FrameDecoder
	closer io.Closer
}

// New creates a stream source named name over r. If r is an io.Closer it is
// closed by Close.
func New(name string, r io.Reader) *Source {
	s := &Source{name: name, dec: ipc.NewFrameDecoder(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Name implements transport.Source.
func (s *Source) Name() string { return s.name }

// Next implements transport.Source. The read itself does not observe ctx;
// closing the source unblocks it.
func (s *Source) Next(ctx context.Context) (chunk.Input, error) {
	if err := ctx.Err(); err != nil {
		return chunk.Input{}, err
	}
	payload, err := s.dec.ReadFrame()
	if err != nil {
		return chunk.Input{}, err
	}
	return chunk.BytesInput(payload), nil
}

// Close implements transport.Source.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

var _ transport.Source = (*Source)(nil)
