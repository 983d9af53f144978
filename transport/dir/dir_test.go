package dir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klaki892/chunked-dc/chunk"
)

func writeChunk(t *testing.T, dir, name string, h chunk.Header, payload string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), chunk.Encode(h, []byte(payload)), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSource_LexicalOrderAndPattern(t *testing.T) {
	d := t.TempDir()
	writeChunk(t, d, "002.chunk", chunk.Header{ID: 3, Serial: 1, End: true}, "zz")
	writeChunk(t, d, "001.chunk", chunk.Header{ID: 3, Serial: 0}, "yyy")
	writeChunk(t, d, "notes.txt", chunk.Header{}, "ignored")
	if err := os.Mkdir(filepath.Join(d, "sub.chunk"), 0o755); err != nil {
		t.Fatal(err)
	}

	src, err := Open(d, "*.chunk")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len = %d, want 2", src.Len())
	}

	first, err := src.Next(t.Context())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	c, err := chunk.Stream.Parse(t.Context(), first, nil)
	if err != nil {
		t.Fatalf("Stream.Parse failed: %v", err)
	}
	if c.Serial != 0 || c.Payload.Len() != 3 {
		t.Errorf("first chunk = serial %d len %d, want serial 0 len 3", c.Serial, c.Payload.Len())
	}

	if _, err := src.Next(t.Context()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := src.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestSource_FileRemovedAfterOpen(t *testing.T) {
	d := t.TempDir()
	writeChunk(t, d, "a", chunk.Header{ID: 1, End: true}, "x")

	src, err := Open(d, "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := os.Remove(filepath.Join(d, "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(t.Context()); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want stat error", err)
	}
}

func TestSource_CloseSkipsRemaining(t *testing.T) {
	d := t.TempDir()
	writeChunk(t, d, "a", chunk.Header{ID: 1, End: true}, "x")

	src, err := Open(d, "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := src.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// Run with -race: Close is called while another goroutine is inside Next.
func TestSource_CloseConcurrentWithNext(t *testing.T) {
	d := t.TempDir()
	for i := range 50 {
		writeChunk(t, d, fmt.Sprintf("%03d", i), chunk.Header{ID: uint32(i), End: true}, "x")
	}

	for range 20 {
		src, err := Open(d, "")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := src.Next(t.Context()); err != nil {
					if !errors.Is(err, io.EOF) {
						t.Errorf("Next: %v", err)
					}
					return
				}
			}
		}()
		if err := src.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		wg.Wait()

		if _, err := src.Next(t.Context()); !errors.Is(err, io.EOF) {
			t.Errorf("Next after Close = %v, want io.EOF", err)
		}
		if src.Len() != 0 {
			t.Errorf("Len after Close = %d", src.Len())
		}
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for missing dir")
	}
}
