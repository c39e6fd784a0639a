package e01

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

// buildSingleChunkImage assembles the same minimal one-chunk EWF image as
// TestE01SingleChunkRoundTrip, returning the encoded bytes plus the absolute
// offset of the table section's descriptor so a test can corrupt its
// trailing Adler-32 in place.
func buildSingleChunkImage(t *testing.T) (image []byte, tableSectionOffset int64) {
	t.Helper()
	const sectorsPerChunk = 2
	const bytesPerSector = 512
	const sectorCount = 2
	chunkSize := sectorsPerChunk * bytesPerSector

	plain := make([]byte, chunkSize)
	for i := range plain {
		plain[i] = byte(i % 200)
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var buf bytes.Buffer
	buf.Write(signature[:])
	buf.WriteByte(1)
	buf.Write(make([]byte, 2))
	buf.Write(make([]byte, 2))

	volumeBody := make([]byte, 28)
	binary.LittleEndian.PutUint32(volumeBody[4:8], sectorsPerChunk)
	binary.LittleEndian.PutUint32(volumeBody[8:12], bytesPerSector)
	binary.LittleEndian.PutUint64(volumeBody[12:20], sectorCount)

	nextAfterVolume := int64(buf.Len()) + sectionSize + int64(len(volumeBody))
	writeSection(&buf, "volume", nextAfterVolume, volumeBody)

	sectorsStart := int64(buf.Len())
	nextAfterSectors := sectorsStart + sectionSize + int64(compressed.Len())
	writeSection(&buf, "sectors", nextAfterSectors, compressed.Bytes())

	tableHeader := make([]byte, tableHeaderSz)
	binary.LittleEndian.PutUint32(tableHeader[0:4], 1)
	tableEntries := make([]byte, 4)
	binary.LittleEndian.PutUint32(tableEntries[0:4], compressedFlag|0)
	tableBody := append(tableHeader, tableEntries...)

	tableStart := int64(buf.Len())
	nextAfterTable := tableStart + sectionSize + int64(len(tableBody))
	writeSection(&buf, "table", nextAfterTable, tableBody)

	writeSection(&buf, "done", 0, nil)

	return buf.Bytes(), tableStart
}

// corruptChecksum flips the trailing Adler-32 field of the section
// descriptor starting at sectionOffset so it no longer matches its body.
func corruptChecksum(image []byte, sectionOffset int64) {
	off := sectionOffset + sectionChecksumOffset
	image[off] ^= 0xFF
}

// writeSection appends a 76-byte section descriptor followed by body to buf,
// returning the absolute offset the descriptor was written at. The trailing
// Adler-32 is filled in correctly so callers get a clean section by default;
// tests that want a corrupt checksum overwrite it after the fact.
func writeSection(buf *bytes.Buffer, typeDef string, nextOffset int64, body []byte) int64 {
	start := int64(buf.Len())
	hdr := make([]byte, sectionSize)
	copy(hdr[0:16], typeDef)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(nextOffset))
	binary.LittleEndian.PutUint64(hdr[24:32], uint64(sectionSize+len(body)))
	binary.LittleEndian.PutUint32(hdr[sectionChecksumOffset:sectionChecksumOffset+4], adler32.Checksum(hdr[0:sectionChecksumOffset]))
	buf.Write(hdr)
	buf.Write(body)
	return start
}

func TestE01SingleChunkRoundTrip(t *testing.T) {
	const sectorsPerChunk = 2
	const bytesPerSector = 512
	const sectorCount = 2 // one chunk, fits exactly
	chunkSize := sectorsPerChunk * bytesPerSector

	plain := make([]byte, chunkSize)
	for i := range plain {
		plain[i] = byte(i % 200)
	}

	image, _ := buildSingleChunkImage(t)
	backing := pipeline.NewBufferPipeline(image)
	v, err := FromPipeline(backing)
	require.NoError(t, err)
	require.Equal(t, "e01", v.Identify())
	require.EqualValues(t, sectorCount*bytesPerSector, v.Length())

	p, err := v.Content()
	require.NoError(t, err)
	got := make([]byte, chunkSize)
	n, err := p.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, chunkSize, n)
	require.Equal(t, plain, got)
}

func TestE01NonCriticalSectionChecksumMismatchLogsAndContinues(t *testing.T) {
	image, _ := buildSingleChunkImage(t)
	// The first section past the 13-byte file header is "volume", which is
	// not in isCriticalSection's list; corrupting it should only warn.
	corruptChecksum(image, fileHeaderSize)

	backing := pipeline.NewBufferPipeline(image)
	v, err := FromPipeline(backing)
	require.NoError(t, err)
	require.Equal(t, "e01", v.Identify())
}

func TestE01CriticalSectionChecksumMismatchFails(t *testing.T) {
	image, tableOffset := buildSingleChunkImage(t)
	corruptChecksum(image, tableOffset)

	backing := pipeline.NewBufferPipeline(image)
	_, err := FromPipeline(backing)
	require.Error(t, err)
	require.True(t, tderrors.Is(err, tderrors.KindChecksumMismatch))
}
