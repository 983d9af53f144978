package chunk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies chunk parsing and reassembly errors.
type ErrorKind int

const (
	// KindChunkTooShort indicates raw input shorter than HeaderSize.
	KindChunkTooShort ErrorKind = iota
	// KindUnsupportedInput indicates an input shape no representation accepts.
	KindUnsupportedInput
	// KindChunkTooLarge indicates a non-first chunk whose payload exceeds the
	// first chunk's payload. The whole message is abandoned.
	KindChunkTooLarge
	// KindNotComplete indicates a merge attempted before every chunk arrived.
	KindNotComplete
)

func (k ErrorKind) String() string {
	switch k {
	case KindChunkTooShort:
		return "chunk_too_short"
	case KindUnsupportedInput:
		return "unsupported_input_kind"
	case KindChunkTooLarge:
		return "chunk_too_large"
	case KindNotComplete:
		return "not_complete"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Error is returned by every parsing and merge operation in this module.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var chunkErr *Error
	if errors.As(err, &chunkErr) {
		return chunkErr.Kind == kind
	}
	return false
}

func tooShort(n int64) error {
	return &Error{
		Kind: KindChunkTooShort,
		Msg:  fmt.Sprintf("chunk length %d is shorter than header size %d", n, HeaderSize),
	}
}
