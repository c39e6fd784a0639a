package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/stretchr/testify/require"
)

func resetAcquireFlags() {
	acquireBlockSize = 0
	acquireAlgos = nil
	acquireSkipBadBlocks = false
	acquireVerify = false
	acquireSync = false
	acquireByteLimit = 0
	acquireStartSkip = 0
	acquireDestFormat = string(tdconfig.DestRaw)
	acquireFormat = "text"
	acquireShowProgress = true
}

func TestExecuteAcquireRawCopyJSON(t *testing.T) {
	defer resetAcquireFlags()
	resetAcquireFlags()

	dir := t.TempDir()
	source := filepath.Join(dir, "src.raw")
	dest := filepath.Join(dir, "dst.raw")
	require.NoError(t, os.WriteFile(source, []byte("totaldiskdata"), 0o644))

	cmd := createAcquireCommand()
	require.NoError(t, cmd.Flags().Set("format", "json"))
	require.NoError(t, cmd.Flags().Set("progress", "false"))
	require.NoError(t, cmd.Flags().Set("algo", "sha256"))

	out, err := execCmd(t, cmd, source, dest)
	require.NoError(t, err)

	var got AcquireSummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, int64(len("totaldiskdata")), got.BytesAcquired)
	require.NotEmpty(t, got.Hashes["sha256"])

	copied, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "totaldiskdata", string(copied))
}

func TestExecuteAcquireUnsupportedAlgo(t *testing.T) {
	defer resetAcquireFlags()
	resetAcquireFlags()

	dir := t.TempDir()
	source := filepath.Join(dir, "src.raw")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	cmd := createAcquireCommand()
	require.NoError(t, cmd.Flags().Set("progress", "false"))
	require.NoError(t, cmd.Flags().Set("algo", "crc32"))

	_, err := execCmd(t, cmd, source, filepath.Join(dir, "dst.raw"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported --algo")
}

func TestExecuteAcquireUnsupportedDestFormat(t *testing.T) {
	defer resetAcquireFlags()
	resetAcquireFlags()

	dir := t.TempDir()
	source := filepath.Join(dir, "src.raw")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	cmd := createAcquireCommand()
	require.NoError(t, cmd.Flags().Set("progress", "false"))
	require.NoError(t, cmd.Flags().Set("dest-format", "qcow2"))

	_, err := execCmd(t, cmd, source, filepath.Join(dir, "dst.raw"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported --dest-format")
}

func TestExecuteAcquireVHDFixed(t *testing.T) {
	defer resetAcquireFlags()
	resetAcquireFlags()

	dir := t.TempDir()
	source := filepath.Join(dir, "src.raw")
	dest := filepath.Join(dir, "dst.vhd")
	require.NoError(t, os.WriteFile(source, make([]byte, 4096), 0o644))

	cmd := createAcquireCommand()
	require.NoError(t, cmd.Flags().Set("progress", "false"))
	require.NoError(t, cmd.Flags().Set("dest-format", "vhd-fixed"))

	_, err := execCmd(t, cmd, source, dest)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(4096))
}

func TestSourceSizeHintMissingFile(t *testing.T) {
	opts := tdconfig.DefaultAcquireOptions()
	require.Equal(t, int64(-1), sourceSizeHint("/nonexistent/path", opts))
}
