package lode

import (
	"errors"
	"fmt"
	"strings"
)

// Storage failure kinds. Match with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed")
	ErrAccessDenied     = errors.New("access denied")
	ErrNetwork          = errors.New("network error")

	errUnclassified = errors.New("storage error")
)

// Storage operations named in StorageError.
const (
	opInit  = "init"
	opWrite = "write"
	opRead  = "read"
)

// StorageError is a dataset failure tagged with its kind. The original
// error stays in the chain.
type StorageError struct {
	// Kind is one of the Err* sentinels.
	Kind error
	// Op is init, write or read.
	Op string
	// Path is the dataset or partition involved.
	Path string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lode %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel as well as the wrapped chain.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Transient reports whether retrying the same operation may succeed.
func (e *StorageError) Transient() bool {
	for _, r := range classifyRules {
		if r.kind == e.Kind {
			return r.transient
		}
	}
	return false
}

// IsTransient reports whether err carries a StorageError worth retrying.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient()
}

// WrapWriteError classifies a failed write. Returns nil if err is nil.
func WrapWriteError(err error, path string) error {
	return wrapStorageError(opWrite, path, err)
}

// WrapReadError classifies a failed read. Returns nil if err is nil.
func WrapReadError(err error, path string) error {
	return wrapStorageError(opRead, path, err)
}

// WrapInitError classifies a failed dataset open. Returns nil if err is nil.
func WrapInitError(err error, dataset string) error {
	return wrapStorageError(opInit, dataset, err)
}

func wrapStorageError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: classifyError(err), Op: op, Path: path, Err: err}
}

// classifyRule maps lowercase message fragments to a kind. A rule with
// require set matches only if one of those fragments is present too.
type classifyRule struct {
	kind      error
	transient bool
	match     []string
	require   []string
}

// Order matters: the first matching rule wins. Object stores report
// authorization failures with "access denied" text, so the S3 rule comes
// before the filesystem permission rule.
var classifyRules = []classifyRule{
	{kind: ErrAccessDenied, match: []string{"permission denied", "eacces", "access denied"}, require: []string{"accessdenied", "forbidden", "403"}},
	{kind: ErrPermissionDenied, match: []string{"permission denied", "eacces", "access denied"}},
	{kind: ErrNotFound, match: []string{"no such file", "does not exist", "not found", "enoent", "404", "nosuchkey", "nosuchbucket"}},
	{kind: ErrDiskFull, match: []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{kind: ErrTimeout, transient: true, match: []string{"timeout", "timed out", "deadline exceeded"}},
	{kind: ErrThrottled, transient: true, match: []string{"slowdown", "rate exceeded", "throttl", "429", "toomanyrequests"}},
	{kind: ErrAuth, match: []string{"nocredentialproviders", "credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "401", "unauthorized"}},
	{kind: ErrAccessDenied, match: []string{"accessdenied", "forbidden", "403"}},
	{kind: ErrNetwork, transient: true, match: []string{"connection refused", "connection reset", "no route to host", "network unreachable", "no such host", "dial tcp"}},
}

func classifyError(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, r := range classifyRules {
		if containsAny(msg, r.match) && (r.require == nil || containsAny(msg, r.require)) {
			return r.kind
		}
	}
	return errUnclassified
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
