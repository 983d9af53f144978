// Package iox holds small I/O helpers shared by sources, sinks and
// adapters.
package iox

import (
	"io"
	"os"
)

// DiscardClose closes c and drops the error, for deferred closes whose
// failure nobody can act on.
func DiscardClose(c io.Closer) { _ = c.Close() }

// FileReaderAt reads a chunk file by path. Each ReadAt opens and closes
// the file, so a directory source can hold one per pending chunk without
// keeping descriptors open.
type FileReaderAt string

func (p FileReaderAt) ReadAt(b []byte, off int64) (int, error) {
	f, err := os.Open(string(p))
	if err != nil {
		return 0, err
	}
	defer DiscardClose(f)
	return f.ReadAt(b, off)
}
