package chunk

import (
	"errors"
	"io"
)

// Payload is the capability the reassembly engine needs from a chunk body.
// Bytes and *Blob implement it.
type Payload interface {
	Len() int64
}

// Bytes is an in-memory payload.
type Bytes []byte

// Len returns the payload length.
func (b Bytes) Len() int64 { return int64(len(b)) }

// Blob is a read-only byte range whose contents are fetched on demand
// through io.ReaderAt. A Blob may be backed by several underlying readers;
// joining blobs never copies their bytes.
type Blob struct {
	parts []section
	size  int64
}

type section struct {
	r   io.ReaderAt
	off int64
	n   int64
}

// NewBlob returns a Blob covering the first size bytes of r.
func NewBlob(r io.ReaderAt, size int64) *Blob {
	if size <= 0 {
		return &Blob{}
	}
	return &Blob{parts: []section{{r: r, off: 0, n: size}}, size: size}
}

// BlobFromBytes copies b and returns a Blob over the copy.
func BlobFromBytes(b []byte) *Blob {
	owned := make([]byte, len(b))
	copy(owned, b)
	return NewBlob(bytesReaderAt(owned), int64(len(owned)))
}

// JoinBlobs returns a Blob that reads parts back to back.
func JoinBlobs(parts []*Blob) *Blob {
	joined := &Blob{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		joined.parts = append(joined.parts, p.parts...)
		joined.size += p.size
	}
	return joined
}

// Len returns the number of bytes in the blob.
func (b *Blob) Len() int64 { return b.size }

// Slice returns the sub-blob covering [start, end). Bounds are clamped to
// the blob size.
func (b *Blob) Slice(start, end int64) *Blob {
	start = max(start, 0)
	end = min(end, b.size)
	if start >= end {
		return &Blob{}
	}

	out := &Blob{size: end - start}
	pos := int64(0)
	for _, s := range b.parts {
		partStart, partEnd := pos, pos+s.n
		pos = partEnd
		if partEnd <= start {
			continue
		}
		if partStart >= end {
			break
		}
		from := max(start, partStart) - partStart
		to := min(end, partEnd) - partStart
		out.parts = append(out.parts, section{r: s.r, off: s.off + from, n: to - from})
	}
	return out
}

// ReadAt implements io.ReaderAt across every backing section.
func (b *Blob) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("chunk: negative blob offset")
	}
	if off >= b.size {
		return 0, io.EOF
	}

	n := 0
	for _, s := range b.parts {
		if len(p) == 0 {
			break
		}
		if off >= s.n {
			off -= s.n
			continue
		}
		want := min(s.n-off, int64(len(p)))
		m, err := s.r.ReadAt(p[:want], s.off+off)
		n += m
		if int64(m) < want {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
		p = p[m:]
		off = 0
	}
	if len(p) > 0 {
		return n, io.EOF
	}
	return n, nil
}

// Reader returns a sequential reader over the whole blob.
func (b *Blob) Reader() *io.SectionReader {
	return io.NewSectionReader(b, 0, b.size)
}

// Bytes reads the whole blob into a new buffer.
func (b *Blob) Bytes() ([]byte, error) {
	buf := make([]byte, b.size)
	if b.size == 0 {
		return buf, nil
	}
	if _, err := b.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

type bytesReaderAt []byte

func (r bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r)) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
