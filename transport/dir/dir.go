// Package dir reads raw chunks from a directory, one chunk per file.
//
// Files are consumed in lexical name order. Chunks are handed out as lazy
// readers, so the blob variant never loads payloads into memory.
package dir

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/klaki892/chunked-dc/chunk"
	"github.com/klaki892/chunked-dc/iox"
	"github.com/klaki892/chunked-dc/transport"
)

// DefaultPattern matches every file.
const DefaultPattern = "*"

// Source walks a directory listing taken at Open. Close may race with Next.
type Source struct {
	dir   string
	files []string

	mu     sync.Mutex
	next   int
	closed bool
}

// Open lists the regular files in dir matching pattern (filepath.Match
// syntax; empty means DefaultPattern). Subdirectories are skipped.
func Open(dir, pattern string) (*Source, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read chunk dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)

	return &Source{dir: dir, files: files}, nil
}

// Name implements transport.Source.
func (s *Source) Name() string { return "dir" }

// Len returns the number of files not yet consumed.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return len(s.files) - s.next
}

// Next implements transport.Source. A file removed after Open is an error.
func (s *Source) Next(ctx context.Context) (chunk.Input, error) {
	if err := ctx.Err(); err != nil {
		return chunk.Input{}, err
	}
	path, ok := s.advance()
	if !ok {
		return chunk.Input{}, io.EOF
	}

	info, err := os.Stat(path)
	if err != nil {
		return chunk.Input{}, fmt.Errorf("stat chunk file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return chunk.Input{}, &fs.PathError{Op: "read", Path: path, Err: fs.ErrInvalid}
	}
	return chunk.ReaderInput(iox.FileReaderAt(path), info.Size()), nil
}

// advance claims the next file. It reports false once the listing is
// exhausted or the source is closed.
func (s *Source) advance() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.files) {
		return "", false
	}
	name := s.files[s.next]
	s.next++
	return filepath.Join(s.dir, name), true
}

// Close implements transport.Source. Remaining files are skipped.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ transport.Source = (*Source)(nil)
