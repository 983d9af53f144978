// Package types defines the domain types shared by the reassembly runtime,
// its sinks and its notification adapters.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"time"
)

// SessionMeta identifies one ingestion session.
type SessionMeta struct {
	// SessionID is the canonical session identifier. Must be globally unique.
	SessionID string
	// Source names where chunks come from (e.g. "stdin", "redis:chunks").
	Source string
	// Variant is the payload representation, "bytes" or "blob".
	Variant string
	// StartedAt is when the session began.
	StartedAt time.Time
}

// Validate checks that the identity fields are present and the variant is known.
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if m.Source == "" {
		return errors.New("source must be non-empty")
	}
	switch m.Variant {
	case "bytes", "blob":
	default:
		return fmt.Errorf("variant must be bytes or blob, got %q", m.Variant)
	}
	return nil
}
