package unchunk

import (
	"fmt"
	"slices"
	"time"

	"github.com/klaki892/chunked-dc/chunk"
)

// Collector accumulates the chunks of one message until it is complete.
// It is owned by a single Unchunker registry entry and is not safe for
// concurrent use.
type Collector[P chunk.Payload] struct {
	id     uint32
	rep    chunk.Representation[P]
	chunks map[uint32]*chunk.Chunk[P]
	size   int64

	endArrived bool
	// expected is endSerial+1 once the end chunk has arrived. Held as uint64
	// so an end chunk at serial 0xffffffff cannot wrap to zero.
	expected uint64
	// inRange counts stored serials below expected. Complete requires it to
	// equal expected, which rules out holes masked by stray serials.
	inRange uint64

	lastUpdate time.Time
}

// NewCollector returns an empty collector for message id.
func NewCollector[P chunk.Payload](id uint32, rep chunk.Representation[P], now time.Time) *Collector[P] {
	return &Collector[P]{
		id:         id,
		rep:        rep,
		chunks:     make(map[uint32]*chunk.Chunk[P]),
		lastUpdate: now,
	}
}

// Add stores c unless a chunk with the same serial is already held.
// Returns false for duplicates, which leave the collector untouched.
func (c *Collector[P]) Add(ch *chunk.Chunk[P], now time.Time) bool {
	if _, dup := c.chunks[ch.Serial]; dup {
		return false
	}

	c.chunks[ch.Serial] = ch
	c.size += ch.Payload.Len()
	c.lastUpdate = now

	switch {
	case ch.End:
		c.endArrived = true
		c.expected = uint64(ch.Serial) + 1
		c.inRange = 0
		for serial := range c.chunks {
			if uint64(serial) < c.expected {
				c.inRange++
			}
		}
	case c.endArrived && uint64(ch.Serial) < c.expected:
		c.inRange++
	}
	return true
}

// Has reports whether a chunk with the given serial is held.
func (c *Collector[P]) Has(serial uint32) bool {
	_, ok := c.chunks[serial]
	return ok
}

// Complete reports whether every serial 0..expected-1 is held and nothing else.
func (c *Collector[P]) Complete() bool {
	return c.endArrived &&
		uint64(len(c.chunks)) == c.expected &&
		c.inRange == c.expected
}

// Merge joins the held payloads in serial order and returns them with the
// contexts of the chunks that carried one, also in serial order. Chunks
// without context are skipped rather than padded.
//
// Every payload after the first must be no longer than the first; a longer
// one fails the whole merge with KindChunkTooLarge.
func (c *Collector[P]) Merge() (P, []any, error) {
	var zero P
	if !c.Complete() {
		return zero, nil, &chunk.Error{
			Kind: chunk.KindNotComplete,
			Msg:  fmt.Sprintf("message %d: merge with %d chunks held, end arrived %t", c.id, len(c.chunks), c.endArrived),
		}
	}

	serials := make([]uint32, 0, len(c.chunks))
	for serial := range c.chunks {
		serials = append(serials, serial)
	}
	slices.Sort(serials)

	unit := c.chunks[serials[0]].Payload.Len()
	parts := make([]P, 0, len(serials))
	contexts := make([]any, 0)
	var total int64

	for i, serial := range serials {
		ch := c.chunks[serial]
		n := ch.Payload.Len()
		if i > 0 && n > unit {
			return zero, nil, &chunk.Error{
				Kind: chunk.KindChunkTooLarge,
				Msg: fmt.Sprintf("message %d: chunk %d payload %d bytes exceeds first chunk payload %d bytes",
					c.id, serial, n, unit),
			}
		}
		parts = append(parts, ch.Payload)
		total += n
		if ch.Context != nil {
			contexts = append(contexts, ch.Context)
		}
	}

	return c.rep.Join(parts, total), contexts, nil
}

// OlderThan reports whether the last accepted chunk arrived more than
// maxAge before now.
func (c *Collector[P]) OlderThan(maxAge time.Duration, now time.Time) bool {
	return now.Sub(c.lastUpdate) > maxAge
}

// Len returns the number of chunks held.
func (c *Collector[P]) Len() int { return len(c.chunks) }

// Size returns the total payload bytes held.
func (c *Collector[P]) Size() int64 { return c.size }

// LastUpdate returns when the most recent chunk was accepted.
func (c *Collector[P]) LastUpdate() time.Time { return c.lastUpdate }
