package aff4

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

const testURN = "aff4://11111111-2222-3333-4444-555555555555"

func buildAFF4Image(t *testing.T, chunkSize int, plain []byte) []byte {
	t.Helper()

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var buf bytes.Buffer
	zipw := zip.NewWriter(&buf)

	turtle := `
@prefix aff4: <http://aff4.org/Schema#> .
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .

<` + testURN + `> rdf:type aff4:ImageStream .
<` + testURN + `> aff4:size "` + itoa(len(plain)) + `" .
<` + testURN + `> aff4:chunkSize "` + itoa(chunkSize) + `" .
<` + testURN + `> aff4:chunksInSegment "2048" .
<` + testURN + `> aff4:compressionMethod <http://aff4.org/Schema#DeflateCompressor> .
`
	descW, err := zipw.Create("container.description")
	require.NoError(t, err)
	_, err = descW.Write([]byte(turtle))
	require.NoError(t, err)

	urnFragment := urnToZipPathFragment(testURN)
	segmentName := urnFragment + "/00000000"
	segW, err := zipw.Create(segmentName)
	require.NoError(t, err)
	_, err = segW.Write(compressed.Bytes())
	require.NoError(t, err)

	indexEntry := make([]byte, 12)
	binary.LittleEndian.PutUint64(indexEntry[0:8], 0)
	binary.LittleEndian.PutUint32(indexEntry[8:12], uint32(compressed.Len()))
	idxW, err := zipw.Create(segmentName + ".index")
	require.NoError(t, err)
	_, err = idxW.Write(indexEntry)
	require.NoError(t, err)

	require.NoError(t, zipw.Close())
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestAFF4SingleChunkRoundTrip(t *testing.T) {
	const chunkSize = 1024
	plain := make([]byte, chunkSize)
	for i := range plain {
		plain[i] = byte(i % 211)
	}

	img := buildAFF4Image(t, chunkSize, plain)
	backing := pipeline.NewBufferPipeline(img)

	v, err := FromPipeline(backing)
	require.NoError(t, err)
	require.Equal(t, "aff4", v.Identify())
	require.EqualValues(t, chunkSize, v.Length())

	p, err := v.Content()
	require.NoError(t, err)
	got := make([]byte, chunkSize)
	n, err := p.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, chunkSize, n)
	require.Equal(t, plain, got)
}

func TestAFF4UnsupportedCompressionIsHardError(t *testing.T) {
	const chunkSize = 256
	plain := make([]byte, chunkSize)

	img := buildAFF4Image(t, chunkSize, plain)
	backing := pipeline.NewBufferPipeline(img)

	v, err := FromPipeline(backing)
	require.NoError(t, err)

	v.stream.compression = CompressionUnknown

	p, err := v.Content()
	require.NoError(t, err)
	got := make([]byte, chunkSize)
	_, err = p.ReadAt(got, 0)
	require.Error(t, err)
	require.True(t, tderrors.Is(err, tderrors.KindUnsupported))
}
