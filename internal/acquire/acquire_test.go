package acquire

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

func TestAcquireStreamHashesAndCopies(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 1024)
	var dest bytes.Buffer

	opts := tdconfig.DefaultAcquireOptions()
	opts.Algorithms = []tdconfig.HashAlgorithm{tdconfig.HashMD5, tdconfig.HashSHA256}

	result, err := AcquireStream(bytes.NewReader(content), &dest, opts, nil, nil)
	require.NoError(t, err)

	require.Equal(t, int64(1024), result.BytesAcquired)
	require.Equal(t, content, dest.Bytes())

	want := md5.Sum(content)
	md5Result, ok := lookupHash(result.Hashes, tdconfig.HashMD5)
	require.True(t, ok)
	require.Equal(t, hex.EncodeToString(want[:]), md5Result.Hex)

	_, ok = lookupHash(result.Hashes, tdconfig.HashSHA256)
	require.True(t, ok)
}

func TestAcquireToFileVerifyAfterCopy(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.img")
	dstPath := filepath.Join(dir, "dest.img")

	content := bytes.Repeat([]byte{0xAB}, 1024)
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	opts := tdconfig.DefaultAcquireOptions()
	opts.Algorithms = []tdconfig.HashAlgorithm{tdconfig.HashMD5, tdconfig.HashSHA256}
	opts.VerifyAfterCopy = true

	result, err := AcquireToFile(srcPath, dstPath, opts, nil, nil)
	require.NoError(t, err)

	require.Equal(t, int64(1024), result.BytesAcquired)
	require.NotNil(t, result.Verified)
	require.True(t, *result.Verified)

	want := md5.Sum(content)
	md5Result, ok := lookupHash(result.Hashes, tdconfig.HashMD5)
	require.True(t, ok)
	require.Equal(t, hex.EncodeToString(want[:]), md5Result.Hex)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestAcquireToFileVerifyAfterCopyDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.img")
	dstPath := filepath.Join(dir, "dest.img")

	require.NoError(t, os.WriteFile(srcPath, bytes.Repeat([]byte{0xAB}, 1024), 0o644))

	opts := tdconfig.DefaultAcquireOptions()
	opts.Algorithms = []tdconfig.HashAlgorithm{tdconfig.HashMD5}
	opts.VerifyAfterCopy = true

	result, err := AcquireToFile(srcPath, dstPath, opts, nil, nil)
	require.NoError(t, err)

	// Corrupt the destination after the copy but before an independent
	// verification pass, simulating bit rot between copy and check.
	require.NoError(t, os.WriteFile(dstPath, bytes.Repeat([]byte{0xAC}, 1024), 0o644))

	err = verifyFile(dstPath, result.Hashes)
	require.Error(t, err)
	require.True(t, tderrors.Is(err, tderrors.KindHashMismatch))
}

func TestAcquireStreamCancelledBeforeFirstBlock(t *testing.T) {
	content := bytes.Repeat([]byte{0x11}, 1<<20)
	var dest bytes.Buffer

	opts := tdconfig.DefaultAcquireOptions()
	opts.BlockSize = 1 << 10

	var cancel atomic.Bool
	cancel.Store(true)

	result, err := AcquireStream(bytes.NewReader(content), &dest, opts, nil, &cancel)
	require.Error(t, err)
	require.Nil(t, result)
	require.True(t, tderrors.Is(err, tderrors.KindCancelled))
	require.LessOrEqual(t, dest.Len(), int(opts.BlockSize))
}

func TestAcquireStreamSkipBadBlocksSubstitutesZeros(t *testing.T) {
	source := &failingReader{
		chunks:   [][]byte{{1, 2, 3, 4}, nil, {5, 6, 7, 8}},
		failOn:   1,
		failWith: tderrors.New(tderrors.KindReadError, "simulated read failure"),
	}
	var dest bytes.Buffer

	opts := tdconfig.DefaultAcquireOptions()
	opts.BlockSize = 4
	opts.SkipBadBlocks = true

	result, err := AcquireStream(source, &dest, opts, nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.BadBlocks)
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0, 5, 6, 7, 8}, dest.Bytes())
}

// failingReader returns each chunk in sequence, failing with failWith
// instead of returning the chunk at index failOn.
type failingReader struct {
	chunks   [][]byte
	failOn   int
	failWith error
	idx      int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.idx >= len(f.chunks) {
		return 0, io.EOF
	}
	i := f.idx
	f.idx++
	if i == f.failOn {
		return 0, f.failWith
	}
	n := copy(p, f.chunks[i])
	return n, nil
}
