package factory

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
)

func writeZip(t *testing.T, entries map[string]string) string {
	path := filepath.Join(t.TempDir(), "image.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, contents := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDetectZIPWithoutAFF4MetadataFallsBackToRaw(t *testing.T) {
	// Plain ZIP magic alone satisfies Detect's sniff window, but the
	// archive carries no .turtle/.description entry, so aff4.Open finds
	// no image streams and Open must fall back to raw rather than fail.
	path := writeZip(t, map[string]string{"readme.txt": "not an AFF4 container"})

	v, err := Open(path, tdconfig.DefaultVaultOpenConfig())
	require.NoError(t, err)
	defer v.Close()
	require.Equal(t, "raw", v.Identify())
}

func TestDetectZIPWithTurtleMetadataOpensAsAFF4(t *testing.T) {
	turtle := `@prefix aff4: <http://aff4.org/Schema#> .
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
<aff4://stream1> rdf:type aff4:ImageStream .
<aff4://stream1> aff4:size "10" .
<aff4://stream1> aff4:chunkSize "512" .
<aff4://stream1> aff4:chunksInSegment "16" .
<aff4://stream1> aff4:compressionMethod <http://aff4.org/Schema#DeflateCompressor> .
`
	path := writeZip(t, map[string]string{"information.turtle": turtle})

	v, err := Open(path, tdconfig.DefaultVaultOpenConfig())
	require.NoError(t, err)
	defer v.Close()
	require.Equal(t, "aff4", v.Identify())
}

func TestDetectExtensionFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o644))
	require.Equal(t, "raw", Detect(path, []byte{0, 0, 0, 0}, nil))
}
