package unchunk

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/klaki892/chunked-dc/chunk"
)

// delivery is one handler invocation recorded by a test.
type delivery struct {
	message  []byte
	contexts []any
}

// fakeClock is advanced manually by tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newRecordingBytes(opts ...Option) (*Unchunker[chunk.Bytes], *[]delivery) {
	u := NewBytes(opts...)
	var got []delivery
	u.OnMessage(func(m chunk.Bytes, contexts []any) {
		got = append(got, delivery{message: m, contexts: contexts})
	})
	return u, &got
}

// split cuts message into unit-sized chunks for id. The last chunk carries
// the end flag and may be shorter.
func split(id uint32, message []byte, unit int) []chunk.Input {
	var inputs []chunk.Input
	serial := uint32(0)
	for {
		n := min(unit, len(message))
		end := n == len(message)
		inputs = append(inputs, chunk.BytesInput(chunk.Encode(
			chunk.Header{ID: id, Serial: serial, End: end},
			message[:n],
		)))
		message = message[n:]
		serial++
		if end {
			return inputs
		}
	}
}

func raw(id, serial uint32, end bool, payload string) chunk.Input {
	return chunk.BytesInput(chunk.Encode(chunk.Header{ID: id, Serial: serial, End: end}, []byte(payload)))
}

func mustAdd(t *testing.T, u *Unchunker[chunk.Bytes], in chunk.Input, userCtx any) Outcome {
	t.Helper()
	outcome, err := u.Add(t.Context(), in, userCtx)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return outcome
}

func TestUnchunker_ConcreteScenario(t *testing.T) {
	u, got := newRecordingBytes()

	p0, p1, p2 := "aaaa", "bbbb", "cc"
	mustAdd(t, u, raw(7, 2, true, p2), nil)
	mustAdd(t, u, raw(7, 0, false, p0), nil)
	if outcome := mustAdd(t, u, raw(7, 1, false, p1), nil); outcome != OutcomeDelivered {
		t.Errorf("outcome = %s, want delivered", outcome)
	}

	if len(*got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(*got))
	}
	msg := (*got)[0].message
	if len(msg) != 10 {
		t.Errorf("message length = %d, want 10", len(msg))
	}
	if string(msg) != p0+p1+p2 {
		t.Errorf("message = %q, want %q", msg, p0+p1+p2)
	}
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0", u.Len())
	}
}

func TestUnchunker_AnyPermutationWithDuplicates(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for n := 1; n <= 8; n++ {
		for trial := 0; trial < 20; trial++ {
			t.Run(fmt.Sprintf("n=%d/trial=%d", n, trial), func(t *testing.T) {
				unit := 5
				size := (n-1)*unit + 1 + rng.IntN(unit)
				message := make([]byte, size)
				for i := range message {
					message[i] = byte(rng.IntN(256))
				}

				inputs := split(99, message, unit)
				if len(inputs) != n {
					t.Fatalf("split produced %d chunks, want %d", len(inputs), n)
				}

				// Shuffle, then repeat any chunk but the completing one
				// anywhere before it. Anything arriving after completion
				// would open a new collector for the same id.
				order := make([]chunk.Input, len(inputs))
				copy(order, inputs)
				rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
				last := order[len(order)-1]
				head := order[:len(order)-1]
				for d := rng.IntN(2 * n); d > 0 && len(head) > 0; d-- {
					dup := head[rng.IntN(len(head))]
					pos := rng.IntN(len(head) + 1)
					head = slices.Insert(slices.Clone(head), pos, dup)
				}
				order = append(head, last)

				u, got := newRecordingBytes()
				for _, in := range order {
					mustAdd(t, u, in, nil)
				}

				if len(*got) != 1 {
					t.Fatalf("deliveries = %d, want 1", len(*got))
				}
				if !bytes.Equal((*got)[0].message, message) {
					t.Error("reassembled message differs from original")
				}
			})
		}
	}
}

func TestUnchunker_DuplicateIsNoOp(t *testing.T) {
	u, got := newRecordingBytes()

	mustAdd(t, u, raw(1, 0, false, "ab"), "first")
	before := u.Stats()

	if outcome := mustAdd(t, u, raw(1, 0, false, "XY"), "second"); outcome != OutcomeDuplicate {
		t.Errorf("outcome = %s, want duplicate", outcome)
	}
	if after := u.Stats(); after != before {
		t.Errorf("stats changed on duplicate: %+v -> %+v", before, after)
	}

	mustAdd(t, u, raw(1, 1, true, "cd"), nil)
	if len(*got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(*got))
	}
	if string((*got)[0].message) != "abcd" {
		t.Errorf("message = %q, want abcd", (*got)[0].message)
	}
	if ctx := (*got)[0].contexts; len(ctx) != 1 || ctx[0] != "first" {
		t.Errorf("contexts = %v, want [first]", ctx)
	}
}

func TestUnchunker_SingleChunkFastPath(t *testing.T) {
	u, got := newRecordingBytes()

	if outcome := mustAdd(t, u, raw(5, 0, true, "solo"), "meta"); outcome != OutcomeDelivered {
		t.Errorf("outcome = %s, want delivered", outcome)
	}
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0", u.Len())
	}
	if len(*got) != 1 || string((*got)[0].message) != "solo" {
		t.Fatalf("deliveries = %+v, want one 'solo'", *got)
	}
	if ctx := (*got)[0].contexts; len(ctx) != 1 || ctx[0] != "meta" {
		t.Errorf("contexts = %v, want [meta]", ctx)
	}

	mustAdd(t, u, raw(6, 0, true, "bare"), nil)
	if ctx := (*got)[1].contexts; ctx == nil || len(ctx) != 0 {
		t.Errorf("contexts = %#v, want empty non-nil", ctx)
	}
}

func TestUnchunker_SingleChunkDiscardsStalePartial(t *testing.T) {
	u, got := newRecordingBytes()

	mustAdd(t, u, raw(3, 1, false, "zz"), nil)
	if u.Len() != 1 {
		t.Fatalf("registry size = %d, want 1", u.Len())
	}

	mustAdd(t, u, raw(3, 0, true, "fresh"), nil)
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0", u.Len())
	}
	if len(*got) != 1 || string((*got)[0].message) != "fresh" {
		t.Errorf("deliveries = %+v, want one 'fresh'", *got)
	}
}

func TestUnchunker_SingleChunkAfterPartialSerialZeroIsDuplicate(t *testing.T) {
	u, got := newRecordingBytes()

	mustAdd(t, u, raw(3, 0, false, "ab"), nil)
	if outcome := mustAdd(t, u, raw(3, 0, true, "ab"), nil); outcome != OutcomeDuplicate {
		t.Errorf("outcome = %s, want duplicate", outcome)
	}
	if len(*got) != 0 {
		t.Errorf("deliveries = %d, want 0", len(*got))
	}
}

func TestUnchunker_ChunkTooLarge(t *testing.T) {
	u, got := newRecordingBytes()

	mustAdd(t, u, raw(4, 0, false, "abcd"), nil)
	mustAdd(t, u, raw(4, 2, true, "ij"), nil)
	outcome, err := u.Add(t.Context(), raw(4, 1, false, "efghX"), nil)
	if !chunk.IsKind(err, chunk.KindChunkTooLarge) {
		t.Fatalf("err = %v, want chunk_too_large", err)
	}
	if outcome != OutcomeRejected {
		t.Errorf("outcome = %s, want rejected", outcome)
	}
	if len(*got) != 0 {
		t.Errorf("deliveries = %d, want 0", len(*got))
	}
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0 after failed merge", u.Len())
	}

	// The id starts over; a late chunk opens a fresh collector.
	if outcome := mustAdd(t, u, raw(4, 1, false, "efgh"), nil); outcome != OutcomeBuffered {
		t.Errorf("outcome = %s, want buffered", outcome)
	}
	if u.Len() != 1 {
		t.Errorf("registry size = %d, want 1", u.Len())
	}
}

func TestUnchunker_ParseErrorsLeaveStateUntouched(t *testing.T) {
	u, got := newRecordingBytes()
	mustAdd(t, u, raw(1, 0, false, "ab"), nil)
	before := u.Stats()

	tests := []struct {
		name string
		in   chunk.Input
		kind chunk.ErrorKind
	}{
		{"too short", chunk.BytesInput([]byte{1, 0, 0}), chunk.KindChunkTooShort},
		{"empty", chunk.BytesInput(nil), chunk.KindChunkTooShort},
		{"unknown input", chunk.Input{}, chunk.KindUnsupportedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := u.Add(t.Context(), tt.in, nil)
			if !chunk.IsKind(err, tt.kind) {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
			if outcome != OutcomeRejected {
				t.Errorf("outcome = %s, want rejected", outcome)
			}
		})
	}

	if after := u.Stats(); after != before {
		t.Errorf("stats changed: %+v -> %+v", before, after)
	}
	if len(*got) != 0 {
		t.Errorf("deliveries = %d, want 0", len(*got))
	}
}

func TestUnchunker_NoHandlerDropsSilently(t *testing.T) {
	u := NewBytes()

	for _, in := range split(1, []byte("dropped on the floor"), 4) {
		if _, err := u.Add(t.Context(), in, nil); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0", u.Len())
	}
}

func TestUnchunker_OnMessageReplacesHandler(t *testing.T) {
	u := NewBytes()
	var first, second int
	u.OnMessage(func(chunk.Bytes, []any) { first++ })
	mustAdd(t, u, raw(1, 0, true, "a"), nil)
	u.OnMessage(func(chunk.Bytes, []any) { second++ })
	mustAdd(t, u, raw(2, 0, true, "b"), nil)

	if first != 1 || second != 1 {
		t.Errorf("handler calls = %d/%d, want 1/1", first, second)
	}
}

func TestUnchunker_GC(t *testing.T) {
	clock := &fakeClock{now: epoch}
	u, got := newRecordingBytes(WithClock(clock.Now))

	// Message 1: two chunks, stale.
	mustAdd(t, u, raw(1, 0, false, "ab"), nil)
	mustAdd(t, u, raw(1, 1, false, "cd"), nil)
	// Message 2: three chunks, stale.
	mustAdd(t, u, raw(2, 0, false, "ab"), nil)
	mustAdd(t, u, raw(2, 1, false, "cd"), nil)
	mustAdd(t, u, raw(2, 3, true, "g"), nil)

	clock.Advance(10 * time.Second)

	// Message 3: fresh.
	mustAdd(t, u, raw(3, 0, false, "ab"), nil)
	// Message 1 touched again: its last update is now fresh too.
	mustAdd(t, u, raw(1, 2, false, "ef"), nil)

	clock.Advance(2 * time.Second)

	if removed := u.GC(5 * time.Second); removed != 3 {
		t.Errorf("GC removed %d chunks, want 3", removed)
	}
	if u.Len() != 2 {
		t.Errorf("registry size = %d, want 2", u.Len())
	}

	// Message 2 is gone: its missing serial now starts a new collector.
	mustAdd(t, u, raw(2, 2, false, "ef"), nil)
	if len(*got) != 0 {
		t.Errorf("deliveries = %d, want 0", len(*got))
	}

	// Message 1 still completes.
	mustAdd(t, u, raw(1, 3, true, "g"), nil)
	if len(*got) != 1 || string((*got)[0].message) != "abcdefg" {
		t.Errorf("deliveries = %+v, want one 'abcdefg'", *got)
	}

	if removed := u.GC(time.Hour); removed != 0 {
		t.Errorf("GC with long maxAge removed %d, want 0", removed)
	}
}

func TestUnchunker_GCEmpty(t *testing.T) {
	u := NewBytes()
	if removed := u.GC(0); removed != 0 {
		t.Errorf("GC removed %d, want 0", removed)
	}
}

func TestUnchunker_Stats(t *testing.T) {
	u := NewBytes()
	mustAdd(t, u, raw(1, 0, false, "abcd"), nil)
	mustAdd(t, u, raw(1, 1, false, "efgh"), nil)
	mustAdd(t, u, raw(2, 1, false, "xy"), nil)

	want := Stats{PendingMessages: 2, PendingChunks: 3, PendingBytes: 10}
	if got := u.Stats(); got != want {
		t.Errorf("Stats = %+v, want %+v", got, want)
	}
	if u.Variant() != "bytes" {
		t.Errorf("Variant = %q, want bytes", u.Variant())
	}
}

func TestUnchunker_BlobVariant(t *testing.T) {
	u := NewBlob()
	var got []*chunk.Blob
	var ctxs [][]any
	u.OnMessage(func(m *chunk.Blob, contexts []any) {
		got = append(got, m)
		ctxs = append(ctxs, contexts)
	})

	message := []byte("a streaming message assembled from pieces")
	inputs := split(11, message, 8)
	for i := len(inputs) - 1; i >= 0; i-- {
		if _, err := u.Add(t.Context(), inputs[i], i); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Len() != int64(len(message)) {
		t.Errorf("Len = %d, want %d", got[0].Len(), len(message))
	}
	body, err := got[0].Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(body, message) {
		t.Errorf("message = %q, want %q", body, message)
	}
	for i, c := range ctxs[0] {
		if c != i {
			t.Errorf("contexts[%d] = %v, want %d", i, c, i)
		}
	}
	if u.Variant() != "blob" {
		t.Errorf("Variant = %q, want blob", u.Variant())
	}
}

func TestUnchunker_BlobVariantCanceledContext(t *testing.T) {
	u := NewBlob()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := u.Add(ctx, raw(1, 0, false, "ab"), nil); err == nil {
		t.Error("expected error for canceled context")
	}
	if u.Len() != 0 {
		t.Errorf("registry size = %d, want 0", u.Len())
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"", VariantBytes, false},
		{"bytes", VariantBytes, false},
		{"blob", VariantBlob, false},
		{"stream", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVariant(%q) err = %v, wantErr %t", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseVariant(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
