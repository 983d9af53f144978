package ipc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func framed(payloads ...string) []byte {
	var out []byte
	for _, p := range payloads {
		out = AppendFrame(out, []byte(p))
	}
	return out
}

func TestAppendFrame_Wire(t *testing.T) {
	got := AppendFrame([]byte{0xEE}, []byte{1, 2, 3})
	want := []byte{0xEE, 0, 0, 0, 3, 1, 2, 3}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendFrame = %v, want %v", got, want)
	}
}

func TestFrameDecoder_ReadsUntilEOF(t *testing.T) {
	big := strings.Repeat("\xab", 4096)
	dec := NewFrameDecoder(bytes.NewReader(framed("first chunk", "", big)))

	for i, want := range []string{"first chunk", "", big} {
		got, err := dec.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if string(got) != want {
			t.Errorf("frame %d = %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := dec.ReadFrame(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
	if dec.Frames() != 3 {
		t.Errorf("Frames() = %d, want 3", dec.Frames())
	}
	if want := int64(3*LengthPrefixSize + 11 + 4096); dec.Offset() != want {
		t.Errorf("Offset() = %d, want %d", dec.Offset(), want)
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	full := framed("ok", "0123456789")
	oversized := append(framed("ok"), 0xFF, 0xFF, 0xFF, 0xFF)

	tests := []struct {
		name       string
		stream     []byte
		wantKind   error
		wantOffset int64
		wantCause  error
	}{
		{"header cut", full[:8], ErrTruncated, 6, io.ErrUnexpectedEOF},
		{"payload cut", full[:len(full)-3], ErrTruncated, 6, io.ErrUnexpectedEOF},
		{"oversized", oversized, ErrFrameTooLarge, 6, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewFrameDecoder(bytes.NewReader(tt.stream))
			if _, err := dec.ReadFrame(); err != nil {
				t.Fatalf("first frame: %v", err)
			}

			_, err := dec.ReadFrame()
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("err = %v, want %v", err, tt.wantKind)
			}
			if tt.wantCause != nil && !errors.Is(err, tt.wantCause) {
				t.Errorf("err = %v, want cause %v", err, tt.wantCause)
			}
			if !IsFatalFrameError(err) {
				t.Error("framing errors are fatal")
			}
			var fe *FrameError
			if !errors.As(err, &fe) || fe.Offset != tt.wantOffset {
				t.Errorf("FrameError = %+v, want offset %d", fe, tt.wantOffset)
			}
		})
	}
}

func TestFrameError_Message(t *testing.T) {
	tests := []struct {
		err  *FrameError
		want string
	}{
		{&FrameError{Kind: ErrTruncated, Offset: 12, Detail: "length prefix", Err: io.ErrUnexpectedEOF}, "truncated frame at offset 12: length prefix: unexpected EOF"},
		{&FrameError{Kind: ErrFrameTooLarge, Offset: -1, Detail: "20 bytes, limit 10"}, "frame too large: 20 bytes, limit 10"},
		{&FrameError{Kind: ErrBadRecord, Offset: -1}, "bad record"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIsFatalFrameError(t *testing.T) {
	for _, err := range []error{nil, io.EOF, errors.New("plain"), &FrameError{Kind: ErrBadRecord, Offset: -1}} {
		if IsFatalFrameError(err) {
			t.Errorf("IsFatalFrameError(%v) = true", err)
		}
	}
}

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func TestFrameEncoder(t *testing.T) {
	var w countingWriter
	enc := NewFrameEncoder(&w)
	for _, p := range []string{"alpha", "", "gamma"} {
		if err := enc.WriteFrame([]byte(p)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if w.writes != 3 {
		t.Errorf("writes = %d, want one per frame", w.writes)
	}
	if !bytes.Equal(w.Bytes(), framed("alpha", "", "gamma")) {
		t.Errorf("encoded = %v", w.Bytes())
	}
}

func TestFrameEncoder_LargerThanDecoderDefault(t *testing.T) {
	var w countingWriter
	big := bytes.Repeat([]byte{0x5a}, MaxPayloadSize+1)
	if err := NewFrameEncoder(&w).WriteFrame(big); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if w.writes != 2 {
		t.Errorf("writes = %d, want header then payload", w.writes)
	}
	encoded := w.Bytes()

	if _, err := NewFrameDecoder(bytes.NewReader(encoded)).ReadFrame(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("default decoder err = %v, want ErrFrameTooLarge", err)
	}
	got, err := NewFrameDecoder(bytes.NewReader(encoded), WithMaxPayload(MaxRecordPayload)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("decoded %d bytes, want %d", len(got), len(big))
	}
}

func TestWithMaxPayload(t *testing.T) {
	var w countingWriter
	enc := NewFrameEncoder(&w, WithMaxPayload(4))
	if err := enc.WriteFrame([]byte("four")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	err := enc.WriteFrame([]byte("fives"))
	if !errors.Is(err, ErrFrameTooLarge) || err.Error() != "frame too large: 5 bytes, limit 4" {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	if w.writes != 1 {
		t.Error("rejected frame must not be written")
	}

	for _, n := range []int64{0, -1, MaxRecordPayload + 1} {
		if got := NewFrameEncoder(io.Discard, WithMaxPayload(n)).max; got != MaxRecordPayload {
			t.Errorf("WithMaxPayload(%d) limit = %d", n, got)
		}
	}
}
