// Package pipeline implements the universal byte-stream contract consumed
// by every decoder layer (§3, §4.1). A Pipeline is an owned handle to a
// byte source that supports absolute seek and bounded read; it never
// suspends and every operation completes synchronously on the caller's
// goroutine.
package pipeline

import "io"

// Whence selects the reference point for Seek, mirroring io.Seeker's
// constants so callers can pass io.SeekStart/Current/End directly.
type Whence = int

// Pipeline is the cross-layer contract: an owned, seekable byte window
// that any component can slice (via a SubPipeline) and pass down to the
// next layer.
type Pipeline interface {
	io.Reader
	io.Seeker
	io.Closer

	// Length returns the total addressable size of this pipeline.
	Length() int64

	// Position returns the current absolute read cursor.
	Position() int64

	// ReadAt performs a positioned read without disturbing Position,
	// matching io.ReaderAt semantics but clipped to Length like Read.
	ReadAt(buf []byte, off int64) (int, error)
}

// Window returns a SubPipeline over base covering [start, start+length).
func Window(base Pipeline, start, length int64) (*SubPipeline, error) {
	return NewSubPipeline(base, start, length)
}
