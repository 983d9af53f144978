package chunk

import (
	"context"
	"fmt"
)

// Chunk is an immutable parsed chunk. Context is caller-attached metadata
// carried through to delivery untouched; nil means no context was supplied.
type Chunk[P Payload] struct {
	Header
	Payload P
	Context any
}

// ParseBytes parses an in-memory chunk. The payload is copied, so later
// mutation of raw cannot reach the returned chunk.
func ParseBytes(raw []byte, userCtx any) (*Chunk[Bytes], error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	payload := make(Bytes, len(raw)-HeaderSize)
	copy(payload, raw[HeaderSize:])
	return &Chunk[Bytes]{Header: h, Payload: payload, Context: userCtx}, nil
}

// ParseBlob parses a blob-backed chunk. Only the header bytes are read; the
// payload stays a lazy view into blob. Reading the header is the only point
// where this may block, and ctx is checked on both sides of it.
func ParseBlob(ctx context.Context, blob *Blob, userCtx any) (*Chunk[*Blob], error) {
	if blob == nil {
		return nil, unsupported(InputUnknown)
	}
	if blob.Len() < HeaderSize {
		return nil, tooShort(blob.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw [HeaderSize]byte
	if _, err := blob.ReadAt(raw[:], 0); err != nil {
		return nil, fmt.Errorf("read chunk header: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := DecodeHeader(raw[:])
	if err != nil {
		return nil, err
	}
	return &Chunk[*Blob]{
		Header:  h,
		Payload: blob.Slice(HeaderSize, blob.Len()),
		Context: userCtx,
	}, nil
}

// Representation binds a payload type to the engine: how raw input becomes
// a chunk of that payload, and how ordered payloads are joined into a
// message. Memory and Stream are the two representations.
type Representation[P Payload] interface {
	// Name identifies the representation in logs and reports.
	Name() string
	// Parse builds a chunk from any supported input kind.
	Parse(ctx context.Context, in Input, userCtx any) (*Chunk[P], error)
	// Join concatenates parts in order. size is the sum of their lengths.
	Join(parts []P, size int64) P
}

// Memory parses chunks into Bytes and joins messages into one contiguous
// buffer. Blob inputs are read fully into memory.
var Memory Representation[Bytes] = memory{}

// Stream parses chunks into lazy *Blob views and joins messages without
// copying chunk bytes. Byte inputs are copied into a private blob.
var Stream Representation[*Blob] = stream{}

type memory struct{}

func (memory) Name() string { return "bytes" }

func (memory) Parse(ctx context.Context, in Input, userCtx any) (*Chunk[Bytes], error) {
	switch in.kind {
	case InputBytes:
		return ParseBytes(in.data, userCtx)
	case InputBlob:
		if in.blob.Len() < HeaderSize {
			return nil, tooShort(in.blob.Len())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := in.blob.Bytes()
		if err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		h, err := DecodeHeader(raw)
		if err != nil {
			return nil, err
		}
		return &Chunk[Bytes]{Header: h, Payload: raw[HeaderSize:], Context: userCtx}, nil
	default:
		return nil, unsupported(in.kind)
	}
}

func (memory) Join(parts []Bytes, size int64) Bytes {
	out := make(Bytes, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type stream struct{}

func (stream) Name() string { return "blob" }

func (stream) Parse(ctx context.Context, in Input, userCtx any) (*Chunk[*Blob], error) {
	switch in.kind {
	case InputBlob:
		return ParseBlob(ctx, in.blob, userCtx)
	case InputBytes:
		if len(in.data) < HeaderSize {
			return nil, tooShort(int64(len(in.data)))
		}
		return ParseBlob(ctx, BlobFromBytes(in.data), userCtx)
	default:
		return nil, unsupported(in.kind)
	}
}

func (stream) Join(parts []*Blob, _ int64) *Blob {
	return JoinBlobs(parts)
}
