package pipeline

import (
	"fmt"
	"io"
)

// SubPipeline wraps a base Pipeline with a (start, length) window,
// translating every read/seek to the base's absolute coordinates (§4.1).
//
// Unlike the base pipelines, seeking past the window end is an error: the
// window's coordinate space is bounded, never open-ended like a raw file.
type SubPipeline struct {
	base   Pipeline
	start  int64
	length int64
	pos    int64
}

// NewSubPipeline creates a window over base covering [start, start+length).
func NewSubPipeline(base Pipeline, start, length int64) (*SubPipeline, error) {
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("sub-pipeline: negative start/length")
	}
	if start+length > base.Length() {
		return nil, fmt.Errorf("sub-pipeline: window [%d,%d) exceeds base length %d", start, start+length, base.Length())
	}
	return &SubPipeline{base: base, start: start, length: length}, nil
}

func (s *SubPipeline) Length() int64   { return s.length }
func (s *SubPipeline) Position() int64 { return s.pos }
func (s *SubPipeline) Close() error    { return nil }

func (s *SubPipeline) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *SubPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("sub-pipeline: negative read offset")
	}
	if off >= s.length {
		return 0, io.EOF
	}
	// Clip the requested read to the window bound.
	remaining := s.length - off
	want := p
	clipped := false
	if int64(len(want)) > remaining {
		want = want[:remaining]
		clipped = true
	}
	n, err := s.base.ReadAt(want, s.start+off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if clipped && err == nil {
		return n, io.EOF
	}
	return n, err
}

func (s *SubPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.length
	default:
		return 0, fmt.Errorf("sub-pipeline: invalid whence %d", whence)
	}
	n := base + offset
	if n < 0 || n > s.length {
		return 0, fmt.Errorf("sub-pipeline: seek to %d outside window [0,%d]", n, s.length)
	}
	s.pos = n
	return n, nil
}

// BaseOffset returns the absolute offset of this window within its base.
func (s *SubPipeline) BaseOffset() int64 { return s.start }
