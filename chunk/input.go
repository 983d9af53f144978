package chunk

import (
	"fmt"
	"io"
)

// InputKind enumerates the raw input shapes a chunk can be parsed from.
type InputKind int

const (
	// InputUnknown is the zero Input. Parsing it fails with KindUnsupportedInput.
	InputUnknown InputKind = iota
	// InputBytes is an addressable in-memory buffer.
	InputBytes
	// InputBlob is a blob whose bytes must be read out before use.
	InputBlob
)

func (k InputKind) String() string {
	switch k {
	case InputBytes:
		return "bytes"
	case InputBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Input is a raw chunk as delivered by a transport. Build one with
// BytesInput, BlobInput or ReaderInput.
type Input struct {
	kind InputKind
	data []byte
	blob *Blob
}

// BytesInput wraps an in-memory buffer. The buffer is copied during parsing,
// so the caller may reuse it once parsing returns.
func BytesInput(b []byte) Input {
	return Input{kind: InputBytes, data: b}
}

// BlobInput wraps a blob. A nil blob yields the zero Input.
func BlobInput(b *Blob) Input {
	if b == nil {
		return Input{}
	}
	return Input{kind: InputBlob, blob: b}
}

// ReaderInput wraps the first size bytes of r as a blob input.
func ReaderInput(r io.ReaderAt, size int64) Input {
	if r == nil {
		return Input{}
	}
	return BlobInput(NewBlob(r, size))
}

// Kind returns the input shape.
func (in Input) Kind() InputKind { return in.kind }

// Len returns the raw length including the header.
func (in Input) Len() int64 {
	switch in.kind {
	case InputBytes:
		return int64(len(in.data))
	case InputBlob:
		return in.blob.Len()
	default:
		return 0
	}
}

func unsupported(kind InputKind) error {
	return &Error{
		Kind: KindUnsupportedInput,
		Msg:  fmt.Sprintf("unsupported chunk input kind %q", kind),
	}
}
