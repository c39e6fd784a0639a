package pipeline

import (
	"fmt"
	"io"
)

// BufferPipeline is an in-memory byte-vector pipeline, used for manufactured
// blank images and tests (§4.1).
type BufferPipeline struct {
	data []byte
	pos  int64
}

// NewBufferPipeline wraps data (not copied) as a Pipeline.
func NewBufferPipeline(data []byte) *BufferPipeline {
	return &BufferPipeline{data: data}
}

func (b *BufferPipeline) Length() int64    { return int64(len(b.data)) }
func (b *BufferPipeline) Position() int64  { return b.pos }
func (b *BufferPipeline) Close() error     { return nil }

func (b *BufferPipeline) Read(p []byte) (int, error) {
	n, err := b.ReadAt(p, b.pos)
	b.pos += int64(n)
	return n, err
}

func (b *BufferPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) || off < 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *BufferPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, fmt.Errorf("buffer pipeline: invalid whence %d", whence)
	}
	n := base + offset
	if n < 0 {
		return 0, fmt.Errorf("buffer pipeline: negative seek position")
	}
	b.pos = n
	return n, nil
}

// Bytes returns the underlying buffer (for tests and acquisition sources).
func (b *BufferPipeline) Bytes() []byte { return b.data }
