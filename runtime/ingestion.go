package runtime

import "errors"

// IngestionError classifies session errors for outcome determination.
type IngestionError struct {
	// Kind indicates which stage failed.
	Kind IngestionErrorKind
	// Err is the underlying error.
	Err error
}

// IngestionErrorKind classifies ingestion errors.
type IngestionErrorKind int

const (
	// IngestionErrorStream indicates the source failed.
	IngestionErrorStream IngestionErrorKind = iota
	// IngestionErrorChunk indicates a rejected chunk in fail-fast mode.
	IngestionErrorChunk
	// IngestionErrorPolicy indicates a policy failure.
	IngestionErrorPolicy
	// IngestionErrorCanceled indicates context cancellation.
	IngestionErrorCanceled
)

func (k IngestionErrorKind) String() string {
	switch k {
	case IngestionErrorStream:
		return "stream"
	case IngestionErrorChunk:
		return "chunk"
	case IngestionErrorPolicy:
		return "policy"
	case IngestionErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (e *IngestionError) Error() string {
	return e.Err.Error()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

func ingestionKind(err error) (IngestionErrorKind, bool) {
	var ingErr *IngestionError
	if errors.As(err, &ingErr) {
		return ingErr.Kind, true
	}
	return 0, false
}

// IsPolicyError returns true if the error is a policy failure.
func IsPolicyError(err error) bool {
	k, ok := ingestionKind(err)
	return ok && k == IngestionErrorPolicy
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	k, ok := ingestionKind(err)
	return ok && k == IngestionErrorCanceled
}

// IsStreamError returns true if the error is a source failure.
func IsStreamError(err error) bool {
	k, ok := ingestionKind(err)
	return ok && k == IngestionErrorStream
}

// IsChunkError returns true if the error is a fail-fast chunk rejection.
func IsChunkError(err error) bool {
	k, ok := ingestionKind(err)
	return ok && k == IngestionErrorChunk
}
