package unchunk

import "fmt"

// Variant selects the payload representation an engine delivers.
type Variant string

const (
	// VariantBytes delivers contiguous in-memory messages (NewBytes).
	VariantBytes Variant = "bytes"
	// VariantBlob delivers blobs stitched from chunk pieces (NewBlob).
	VariantBlob Variant = "blob"
)

// ParseVariant parses a variant name. The empty string selects VariantBytes.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case "", VariantBytes:
		return VariantBytes, nil
	case VariantBlob:
		return VariantBlob, nil
	default:
		return "", fmt.Errorf("invalid variant: %q (must be bytes or blob)", s)
	}
}
