// Package acquire implements the forensic block-copy engine (§4.5): a
// cancellable, hashing, optionally verifying copy loop from a source stream
// to a raw or VHD destination.
package acquire

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

// operationAcquiring is the progress label used for the main copy pass; the
// VHD writers report their own labels for the scan and write passes.
const operationAcquiring = "acquiring"

// Result summarizes a completed (or partially completed, on error) copy.
type Result struct {
	BytesAcquired  int64
	Hashes         []HashResult
	Elapsed        time.Duration
	BytesPerSecond float64
	BadBlocks      int64
	Verified       *bool
}

type syncer interface{ Sync() error }
type flusher interface{ Flush() error }

func flushDest(dest io.Writer) error {
	if s, ok := dest.(syncer); ok {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	if f, ok := dest.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// AcquireStream runs the block-copy loop (§4.5) from source to dest: reads
// at most BlockSize bytes per iteration, feeds every configured hash
// algorithm with the bytes actually written, and honors ByteLimit,
// SkipBadBlocks, SyncEachWrite, and cancellation. It does not perform
// verify-after-copy, since that requires re-opening the destination by
// path; AcquireToFile layers that on top.
//
// cancel may be nil, meaning the run cannot be cancelled.
func AcquireStream(source io.Reader, dest io.Writer, opts tdconfig.AcquireOptions, progress Callback, cancel *atomic.Bool) (*Result, error) {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = tdconfig.DefaultAcquireOptions().BlockSize
	}

	var totalPtr *int64
	if opts.ByteLimit > 0 {
		total := opts.ByteLimit
		totalPtr = &total
	}

	hasher := newMultiHasher(opts.Algorithms)
	buf := make([]byte, blockSize)

	start := time.Now()
	var acquired int64
	var badBlocks int64

	for {
		if cancel != nil && cancel.Load() {
			return nil, tderrors.Wrap(tderrors.KindCancelled, "acquire", "acquisition cancelled", nil)
		}

		toRead := int64(len(buf))
		if opts.ByteLimit > 0 {
			remaining := opts.ByteLimit - acquired
			if remaining <= 0 {
				break
			}
			if remaining < toRead {
				toRead = remaining
			}
		}

		n, err := source.Read(buf[:toRead])
		bytesRead := n
		if err != nil && err != io.EOF {
			if !opts.SkipBadBlocks {
				return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to read source block", err)
			}
			for i := range buf[:toRead] {
				buf[i] = 0
			}
			bytesRead = int(toRead)
			badBlocks++
		}

		if bytesRead > 0 {
			hasher.Write(buf[:bytesRead])
			if _, werr := dest.Write(buf[:bytesRead]); werr != nil {
				return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to write destination block", werr)
			}
			if opts.SyncEachWrite {
				if err := flushDest(dest); err != nil {
					return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to sync destination block", err)
				}
			}
			acquired += int64(bytesRead)
			report(progress, totalPtr, acquired, start, operationAcquiring)
		}

		if err == io.EOF || (bytesRead == 0 && n == 0 && err == nil) {
			break
		}
	}

	if err := flushDest(dest); err != nil {
		return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to flush destination", err)
	}

	elapsed := time.Since(start)
	result := &Result{
		BytesAcquired: acquired,
		Hashes:        hasher.Finalize(),
		Elapsed:       elapsed,
		BadBlocks:     badBlocks,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		result.BytesPerSecond = float64(acquired) / secs
	}
	return result, nil
}

// AcquireToFile opens sourcePath/destPath, runs AcquireStream starting
// StartSkip bytes into the source, and, if VerifyAfterCopy is set and at
// least one algorithm was requested, re-opens destPath and re-hashes it,
// comparing every digest against the one computed during the copy.
func AcquireToFile(sourcePath, destPath string, opts tdconfig.AcquireOptions, progress Callback, cancel *atomic.Bool) (*Result, error) {
	src, err := openSource(sourcePath, opts.StartSkip)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst, err := createDest(destPath)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	result, err := AcquireStream(src, dst, opts, progress, cancel)
	if err != nil {
		return nil, err
	}

	if opts.VerifyAfterCopy && len(opts.Algorithms) > 0 {
		if err := verifyFile(destPath, result.Hashes); err != nil {
			return nil, err
		}
		verified := true
		result.Verified = &verified
	}

	return result, nil
}

// verifyFile re-hashes destPath and compares every digest against expected,
// returning a KindHashMismatch error (carrying both hex digests) on the
// first mismatch.
func verifyFile(path string, expected []HashResult) error {
	f, err := openSource(path, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	algos := make([]tdconfig.HashAlgorithm, len(expected))
	for i, e := range expected {
		algos[i] = e.Algorithm
	}

	actual, err := hashReader(f, algos)
	if err != nil {
		return err
	}

	for _, exp := range expected {
		act, ok := lookupHash(actual, exp.Algorithm)
		if !ok || act.Hex != exp.Hex {
			actualHex := "missing"
			if ok {
				actualHex = act.Hex
			}
			msg := fmt.Sprintf("expected %s, got %s", exp.Hex, actualHex)
			return tderrors.Wrap(tderrors.KindHashMismatch, string(exp.Algorithm), msg, nil)
		}
	}
	return nil
}
