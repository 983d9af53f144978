// Package ipc implements the length-prefixed framing used on byte streams:
// raw chunks on the way in, msgpack message records on the way out.
//
// A frame is a 4-byte big-endian payload length followed by the payload.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// LengthPrefixSize is the size of the frame header.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a whole frame, header included (16 MiB).
	MaxFrameSize = 16 << 20
	// MaxPayloadSize is the default payload limit for decoders, sized for
	// raw chunks.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// MaxRecordPayload is the most the length prefix can describe. Encoders
	// default to it so reassembled messages larger than any input frame
	// still fit.
	MaxRecordPayload = math.MaxUint32
)

// Option configures a FrameDecoder or FrameEncoder.
type Option func(*int64)

// WithMaxPayload sets the payload limit. Values outside
// (0, MaxRecordPayload] select MaxRecordPayload.
func WithMaxPayload(n int64) Option {
	return func(limit *int64) {
		if n <= 0 || n > MaxRecordPayload {
			n = MaxRecordPayload
		}
		*limit = n
	}
}

func applyLimit(def int64, opts []Option) int64 {
	for _, o := range opts {
		o(&def)
	}
	return def
}

func tooLarge(offset, size, limit int64) *FrameError {
	return &FrameError{Kind: ErrFrameTooLarge, Offset: offset, Detail: fmt.Sprintf("%d bytes, limit %d", size, limit)}
}

// Framing and codec failures. Match with errors.Is.
var (
	// ErrTruncated means the stream ended inside a frame.
	ErrTruncated = errors.New("truncated frame")
	// ErrFrameTooLarge means a payload exceeds the configured limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrBadRecord means a payload is not a known msgpack record.
	ErrBadRecord = errors.New("bad record")
)

// FrameError locates a failure in the stream. Offset is the byte position
// of the frame's length prefix, or -1 when no stream is involved.
type FrameError struct {
	Kind   error
	Offset int64
	Detail string
	Err    error
}

func (e *FrameError) Error() string {
	msg := e.Kind.Error()
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFatal reports whether the stream is desynchronized. A record that fails
// to decode leaves the framing intact.
func (e *FrameError) IsFatal() bool {
	return e.Kind == ErrTruncated || e.Kind == ErrFrameTooLarge
}

// IsFatalFrameError reports whether err carries a fatal FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

// FrameDecoder reads frames from a stream.
type FrameDecoder struct {
	r      io.Reader
	max    int64
	offset int64
	frames int64
	hdr    [LengthPrefixSize]byte
}

// NewFrameDecoder returns a decoder reading from r. The payload limit
// defaults to MaxPayloadSize.
func NewFrameDecoder(r io.Reader, opts ...Option) *FrameDecoder {
	return &FrameDecoder{r: r, max: applyLimit(MaxPayloadSize, opts)}
}

// ReadFrame returns the next payload. It returns io.EOF only at a frame
// boundary; a stream ending anywhere else yields ErrTruncated.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	start := d.offset

	n, err := io.ReadFull(d.r, d.hdr[:])
	d.offset += int64(n)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &FrameError{Kind: ErrTruncated, Offset: start, Detail: "length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(d.hdr[:])
	if int64(size) > d.max {
		return nil, tooLarge(start, int64(size), d.max)
	}

	payload := make([]byte, size)
	n, err = io.ReadFull(d.r, payload)
	d.offset += int64(n)
	if err != nil {
		return nil, &FrameError{Kind: ErrTruncated, Offset: start, Detail: fmt.Sprintf("payload %d of %d bytes", n, size), Err: err}
	}

	d.frames++
	return payload, nil
}

// Offset is the number of bytes consumed so far.
func (d *FrameDecoder) Offset() int64 { return d.offset }

// Frames is the number of complete frames read so far.
func (d *FrameDecoder) Frames() int64 { return d.frames }

// FrameEncoder writes frames to a stream, one Write call per frame.
type FrameEncoder struct {
	w   io.Writer
	max int64
	buf []byte
}

// NewFrameEncoder returns an encoder writing to w. The payload limit
// defaults to MaxRecordPayload.
func NewFrameEncoder(w io.Writer, opts ...Option) *FrameEncoder {
	return &FrameEncoder{w: w, max: applyLimit(MaxRecordPayload, opts)}
}

// WriteFrame frames and writes payload. Oversized payloads are rejected
// before anything is written. Payloads up to a small buffer size are
// written in one call; larger ones as header then payload.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if int64(len(payload)) > e.max {
		return tooLarge(-1, int64(len(payload)), e.max)
	}
	if len(payload) > encodeBufferSize {
		var hdr [LengthPrefixSize]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
		if _, err := e.w.Write(hdr[:]); err != nil {
			return err
		}
		_, err := e.w.Write(payload)
		return err
	}
	e.buf = AppendFrame(e.buf[:0], payload)
	_, err := e.w.Write(e.buf)
	return err
}

// encodeBufferSize caps the reused encode buffer so one huge message does
// not pin its size for the rest of the stream.
const encodeBufferSize = 1 << 20

// AppendFrame appends the framed form of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
