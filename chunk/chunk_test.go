package chunk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	payload := []byte("arbitrary payload")
	raw := Encode(Header{ID: 42, Serial: 5, End: false}, payload)

	if len(raw) != HeaderSize+len(payload) {
		t.Fatalf("len = %d, want %d", len(raw), HeaderSize+len(payload))
	}

	h, err := DecodeHeader(raw)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if h.ID != 42 {
		t.Errorf("ID = %d, want 42", h.ID)
	}
	if h.Serial != 5 {
		t.Errorf("Serial = %d, want 5", h.Serial)
	}
	if h.End {
		t.Error("End = true, want false")
	}
	if !bytes.Equal(raw[HeaderSize:], payload) {
		t.Errorf("payload = %q, want %q", raw[HeaderSize:], payload)
	}
}

func TestHeader_WireLayout(t *testing.T) {
	raw := Encode(Header{ID: 0x01020304, Serial: 0x0a0b0c0d, End: true}, nil)
	want := []byte{0x01, 0x01, 0x02, 0x03, 0x04, 0x0a, 0x0b, 0x0c, 0x0d}
	if !bytes.Equal(raw, want) {
		t.Errorf("header bytes = % x, want % x", raw, want)
	}
}

func TestHeader_ReservedBitsIgnored(t *testing.T) {
	raw := Encode(Header{ID: 1, Serial: 2}, nil)
	raw[0] = 0xfe // every reserved bit set, end flag clear

	h, err := DecodeHeader(raw)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if h.End {
		t.Error("End = true, want false")
	}

	raw[0] = 0xff
	h, _ = DecodeHeader(raw)
	if !h.End {
		t.Error("End = false, want true")
	}
}

func TestDecodeHeader_TooShort(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, err := DecodeHeader(make([]byte, n))
		if !IsKind(err, KindChunkTooShort) {
			t.Errorf("len %d: err = %v, want chunk_too_short", n, err)
		}
	}
}

func TestParseBytes_CopiesPayload(t *testing.T) {
	raw := Encode(Header{ID: 7, Serial: 0, End: true}, []byte("abcd"))

	c, err := ParseBytes(raw, "ctx")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	// Mutating the caller's buffer must not reach the parsed chunk.
	for i := range raw {
		raw[i] = 0
	}
	if string(c.Payload) != "abcd" {
		t.Errorf("payload = %q, want %q", c.Payload, "abcd")
	}
	if c.Context != "ctx" {
		t.Errorf("Context = %v, want ctx", c.Context)
	}
	if c.ID != 7 || !c.End {
		t.Errorf("header = %+v, want id 7 end", c.Header)
	}
}

func TestParseBytes_HeaderOnly(t *testing.T) {
	c, err := ParseBytes(Encode(Header{ID: 1}, nil), nil)
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}
	if c.Payload.Len() != 0 {
		t.Errorf("payload len = %d, want 0", c.Payload.Len())
	}
}

// countingReaderAt records how many bytes were requested through ReadAt.
type countingReaderAt struct {
	data []byte
	read atomic.Int64
}

func (r *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.read.Add(int64(len(p)))
	return bytes.NewReader(r.data).ReadAt(p, off)
}

func TestParseBlob_ReadsOnlyHeader(t *testing.T) {
	payload := bytes.Repeat([]byte{0xaa}, 1024)
	src := &countingReaderAt{data: Encode(Header{ID: 3, Serial: 1}, payload)}

	c, err := ParseBlob(t.Context(), NewBlob(src, int64(len(src.data))), nil)
	if err != nil {
		t.Fatalf("ParseBlob failed: %v", err)
	}
	if got := src.read.Load(); got != HeaderSize {
		t.Errorf("bytes read = %d, want %d", got, HeaderSize)
	}
	if c.Payload.Len() != int64(len(payload)) {
		t.Errorf("payload len = %d, want %d", c.Payload.Len(), len(payload))
	}

	got, err := c.Payload.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload bytes differ")
	}
}

func TestParseBlob_TooShort(t *testing.T) {
	_, err := ParseBlob(t.Context(), BlobFromBytes([]byte{1, 2, 3}), nil)
	if !IsKind(err, KindChunkTooShort) {
		t.Errorf("err = %v, want chunk_too_short", err)
	}
}

func TestParseBlob_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := ParseBlob(ctx, BlobFromBytes(Encode(Header{ID: 1}, []byte("x"))), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRepresentations_ParseEveryInputKind(t *testing.T) {
	raw := Encode(Header{ID: 9, Serial: 2, End: true}, []byte("hello"))

	inputs := map[string]Input{
		"bytes": BytesInput(raw),
		"blob":  ReaderInput(bytes.NewReader(raw), int64(len(raw))),
	}

	for name, in := range inputs {
		t.Run("memory/"+name, func(t *testing.T) {
			c, err := Memory.Parse(t.Context(), in, nil)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if string(c.Payload) != "hello" || c.ID != 9 || c.Serial != 2 || !c.End {
				t.Errorf("chunk = %+v", c)
			}
		})
		t.Run("stream/"+name, func(t *testing.T) {
			c, err := Stream.Parse(t.Context(), in, nil)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			got, err := c.Payload.Bytes()
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if string(got) != "hello" || c.ID != 9 || c.Serial != 2 || !c.End {
				t.Errorf("chunk = %+v payload %q", c.Header, got)
			}
		})
	}
}

func TestRepresentations_RejectUnknownInput(t *testing.T) {
	if _, err := Memory.Parse(t.Context(), Input{}, nil); !IsKind(err, KindUnsupportedInput) {
		t.Errorf("memory err = %v, want unsupported_input_kind", err)
	}
	if _, err := Stream.Parse(t.Context(), BlobInput(nil), nil); !IsKind(err, KindUnsupportedInput) {
		t.Errorf("stream err = %v, want unsupported_input_kind", err)
	}
	if _, err := Stream.Parse(t.Context(), ReaderInput(nil, 10), nil); !IsKind(err, KindUnsupportedInput) {
		t.Errorf("stream reader err = %v, want unsupported_input_kind", err)
	}
}

func TestRepresentations_TooShort(t *testing.T) {
	short := []byte{0, 0, 0, 1}
	if _, err := Memory.Parse(t.Context(), BytesInput(short), nil); !IsKind(err, KindChunkTooShort) {
		t.Errorf("memory err = %v, want chunk_too_short", err)
	}
	if _, err := Stream.Parse(t.Context(), BytesInput(short), nil); !IsKind(err, KindChunkTooShort) {
		t.Errorf("stream err = %v, want chunk_too_short", err)
	}
	if _, err := Memory.Parse(t.Context(), BlobInput(BlobFromBytes(short)), nil); !IsKind(err, KindChunkTooShort) {
		t.Errorf("memory blob err = %v, want chunk_too_short", err)
	}
}

func TestStream_ParseBytesIsolatedFromCaller(t *testing.T) {
	raw := Encode(Header{ID: 1, End: true}, []byte("data"))
	c, err := Stream.Parse(t.Context(), BytesInput(raw), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	raw[HeaderSize] = 'X'

	got, _ := c.Payload.Bytes()
	if string(got) != "data" {
		t.Errorf("payload = %q, want data", got)
	}
}

func TestBlob_JoinAndSlice(t *testing.T) {
	a := BlobFromBytes([]byte("hello "))
	b := BlobFromBytes([]byte("chunked "))
	c := BlobFromBytes([]byte("world"))

	joined := JoinBlobs([]*Blob{a, b, c})
	if joined.Len() != 19 {
		t.Fatalf("Len = %d, want 19", joined.Len())
	}

	all, err := io.ReadAll(joined.Reader())
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(all) != "hello chunked world" {
		t.Errorf("joined = %q", all)
	}

	tests := []struct {
		start, end int64
		want       string
	}{
		{0, 5, "hello"},
		{4, 9, "o chu"},
		{6, 19, "chunked world"},
		{14, 100, "world"},
		{-3, 2, "he"},
		{10, 10, ""},
	}
	for _, tt := range tests {
		got, err := joined.Slice(tt.start, tt.end).Bytes()
		if err != nil {
			t.Fatalf("Slice(%d, %d).Bytes failed: %v", tt.start, tt.end, err)
		}
		if string(got) != tt.want {
			t.Errorf("Slice(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

func TestBlob_ReadAtPastEnd(t *testing.T) {
	b := BlobFromBytes([]byte("abc"))

	buf := make([]byte, 5)
	n, err := b.ReadAt(buf, 1)
	if n != 2 || !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt = (%d, %v), want (2, EOF)", n, err)
	}
	if _, err := b.ReadAt(buf, 3); !errors.Is(err, io.EOF) {
		t.Errorf("ReadAt at end err = %v, want EOF", err)
	}
	if _, err := b.ReadAt(buf, -1); err == nil {
		t.Error("expected error for negative offset")
	}
}

func TestBlob_TruncatedBackingReader(t *testing.T) {
	// Claims 10 bytes but the reader only has 4.
	b := NewBlob(bytes.NewReader([]byte("abcd")), 10)
	if _, err := b.Bytes(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}
