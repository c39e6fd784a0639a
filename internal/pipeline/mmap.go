package pipeline

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
)

// MmapPipeline memory-maps a regular file read-only, giving O(1) random
// access (§4.1). Before mapping it rejects non-regular files and files
// over tdconfig.MaxMmapFileSize to prevent address-space exhaustion.
type MmapPipeline struct {
	f      *os.File
	data   []byte
	pos    int64
	length int64
}

// OpenMmapPipeline opens path read-only and maps its contents.
func OpenMmapPipeline(path string) (*MmapPipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap pipeline: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap pipeline: stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("mmap pipeline: %s is not a regular file", path)
	}
	if fi.Size() > tdconfig.MaxMmapFileSize {
		f.Close()
		return nil, fmt.Errorf("mmap pipeline: %s exceeds max mappable size %d bytes", path, tdconfig.MaxMmapFileSize)
	}

	size := fi.Size()
	var data []byte
	if size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("mmap pipeline: mmap %s: %w", path, err)
		}
	}

	return &MmapPipeline{f: f, data: data, length: size}, nil
}

func (m *MmapPipeline) Length() int64   { return m.length }
func (m *MmapPipeline) Position() int64 { return m.pos }

func (m *MmapPipeline) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *MmapPipeline) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *MmapPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= m.length || off < 0 {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MmapPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = m.pos
	case io.SeekEnd:
		base = m.length
	default:
		return 0, fmt.Errorf("mmap pipeline: invalid whence %d", whence)
	}
	n := base + offset
	if n < 0 {
		return 0, fmt.Errorf("mmap pipeline: negative seek position")
	}
	m.pos = n
	return n, nil
}

// FilePipeline is a non-mmap fallback over a plain *os.File, used when
// VaultOpenConfig.UseMmap is false (small files, tests).
type FilePipeline struct {
	f      *os.File
	pos    int64
	length int64
}

// OpenFilePipeline opens path read-only without mapping it.
func OpenFilePipeline(path string) (*FilePipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file pipeline: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file pipeline: stat %s: %w", path, err)
	}
	return &FilePipeline{f: f, length: fi.Size()}, nil
}

func (fp *FilePipeline) Length() int64   { return fp.length }
func (fp *FilePipeline) Position() int64 { return fp.pos }
func (fp *FilePipeline) Close() error    { return fp.f.Close() }

func (fp *FilePipeline) Read(p []byte) (int, error) {
	n, err := fp.ReadAt(p, fp.pos)
	fp.pos += int64(n)
	return n, err
}

func (fp *FilePipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= fp.length || off < 0 {
		return 0, io.EOF
	}
	n, err := fp.f.ReadAt(p, off)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, fmt.Errorf("file pipeline: read: %w", err)
	}
	return n, nil
}

func (fp *FilePipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = fp.pos
	case io.SeekEnd:
		base = fp.length
	default:
		return 0, fmt.Errorf("file pipeline: invalid whence %d", whence)
	}
	n := base + offset
	if n < 0 {
		return 0, fmt.Errorf("file pipeline: negative seek position")
	}
	fp.pos = n
	return n, nil
}
