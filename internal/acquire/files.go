package acquire

import (
	"io"
	"os"

	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

// openSource opens path for reading and seeks skip bytes into it.
func openSource(path string, skip int64) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tderrors.Wrap(tderrors.KindNotFound, "source", "failed to open source", err)
	}
	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			f.Close()
			return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to seek to start offset", err)
		}
	}
	return f, nil
}

// createDest creates (or truncates) path for writing.
func createDest(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to create destination", err)
	}
	return f, nil
}
