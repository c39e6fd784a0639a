package ntfs

import (
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
)

const (
	testBytesPerSector = 512
	testSectorsPerClus = 1
	testRecordSize     = 512
	testMFTLCN         = 4
	rootRecNum         = 5
	fileRecNum         = 6
)

func buildBootSector(mftLCN uint64) []byte {
	img := make([]byte, testBytesPerSector)
	copy(img[3:11], "NTFS    ")
	binary.LittleEndian.PutUint16(img[11:13], testBytesPerSector)
	img[13] = testSectorsPerClus
	binary.LittleEndian.PutUint64(img[48:56], mftLCN)
	img[64] = byte(int8(-9)) // 2^9 = 512 bytes per MFT record
	img[510] = 0x55
	img[511] = 0xAA
	return img
}

// buildFileNameValue returns an $FILE_NAME attribute value (66 fixed bytes
// plus the UTF-16LE name).
func buildFileNameValue(parentRef uint64, name string, realSize uint64) []byte {
	units := utf16.Encode([]rune(name))
	v := make([]byte, 66+len(units)*2)
	binary.LittleEndian.PutUint64(v[0:8], parentRef)
	binary.LittleEndian.PutUint64(v[48:56], realSize)
	v[64] = byte(len(units))
	v[65] = 1 // WIN32 namespace
	for i, u := range units {
		binary.LittleEndian.PutUint16(v[66+i*2:68+i*2], u)
	}
	return v
}

func buildIndexEntry(fileRef uint64, fnValue []byte) []byte {
	e := make([]byte, 16+len(fnValue))
	binary.LittleEndian.PutUint64(e[0:8], fileRef)
	binary.LittleEndian.PutUint16(e[8:10], uint16(len(e)))
	binary.LittleEndian.PutUint16(e[10:12], uint16(len(fnValue)))
	copy(e[16:], fnValue)
	return e
}

func buildIndexTerminator() []byte {
	e := make([]byte, 16)
	binary.LittleEndian.PutUint16(e[8:10], 16)
	binary.LittleEndian.PutUint16(e[12:14], 0x0002)
	return e
}

func buildIndexRootValue(entries []byte) []byte {
	v := make([]byte, 32+len(entries))
	binary.LittleEndian.PutUint32(v[0:4], attrFileName)
	binary.LittleEndian.PutUint32(v[16:20], 16) // firstEntry offset, relative to header start
	binary.LittleEndian.PutUint32(v[20:24], uint32(16+len(entries)))
	binary.LittleEndian.PutUint32(v[24:28], uint32(16+len(entries)))
	v[28] = 0 // small index, no $INDEX_ALLOCATION
	copy(v[32:], entries)
	return v
}

func buildResidentAttr(attrType uint32, value []byte) []byte {
	a := make([]byte, 24+len(value))
	binary.LittleEndian.PutUint32(a[0:4], attrType)
	binary.LittleEndian.PutUint32(a[4:8], uint32(len(a)))
	binary.LittleEndian.PutUint32(a[16:20], uint32(len(value)))
	binary.LittleEndian.PutUint16(a[20:22], 24)
	copy(a[24:], value)
	return a
}

// buildRecord assembles one fixed-up 512-byte MFT record containing a
// single attribute followed by the end-of-attributes marker.
func buildRecord(flags uint16, attr []byte) []byte {
	const firstAttrOffset = 56
	rec := make([]byte, testRecordSize)
	copy(rec[0:4], "FILE")
	binary.LittleEndian.PutUint16(rec[4:6], 48) // usaOffset
	binary.LittleEndian.PutUint16(rec[6:8], 2)  // usaCount
	binary.LittleEndian.PutUint16(rec[20:22], firstAttrOffset)
	binary.LittleEndian.PutUint16(rec[22:24], flags)
	binary.LittleEndian.PutUint32(rec[28:32], testRecordSize)

	end := firstAttrOffset + len(attr)
	copy(rec[firstAttrOffset:end], attr)
	binary.LittleEndian.PutUint32(rec[end:end+4], attrEnd)
	binary.LittleEndian.PutUint32(rec[24:28], uint32(end+4))

	// Update sequence array: both slots already match the record's
	// resting bytes at offset 510, so applying the fixup is a no-op.
	binary.LittleEndian.PutUint16(rec[48:50], 1)
	binary.LittleEndian.PutUint16(rec[50:52], binary.LittleEndian.Uint16(rec[510:512]))

	return rec
}

func TestNTFSFileRoundTrip(t *testing.T) {
	bootSector := buildBootSector(testMFTLCN)

	content := make([]byte, 300)
	for i := range content {
		content[i] = byte(i % 89)
	}

	fileNameValue := buildFileNameValue(rootRecNum, "hello.txt", uint64(len(content)))
	indexEntries := append(buildIndexEntry(fileRecNum, fileNameValue), buildIndexTerminator()...)
	indexRootValue := buildIndexRootValue(indexEntries)
	rootAttr := buildResidentAttr(attrIndexRoot, indexRootValue)
	rootRecord := buildRecord(flagRecordInUse|flagRecordIsDirectory, rootAttr)

	dataAttr := buildResidentAttr(attrData, content)
	fileRecord := buildRecord(flagRecordInUse, dataAttr)

	mftOffset := int64(testMFTLCN) * testBytesPerSector * testSectorsPerClus
	img := make([]byte, mftOffset+int64((fileRecNum+1)*testRecordSize))
	copy(img[0:testBytesPerSector], bootSector)
	copy(img[mftOffset+rootRecNum*testRecordSize:], rootRecord)
	copy(img[mftOffset+fileRecNum*testRecordSize:], fileRecord)

	backing := pipeline.NewBufferPipeline(img)
	tr, err := Open(backing)
	require.NoError(t, err)
	require.Equal(t, "ntfs", tr.Kind())

	occupants, err := tr.List("")
	require.NoError(t, err)
	require.Len(t, occupants, 1)
	require.Equal(t, "hello.txt", occupants[0].Name)
	require.False(t, occupants[0].IsDirectory)
	require.Equal(t, int64(len(content)), occupants[0].SizeBytes)

	got, err := tr.ReadFile("hello.txt")
	require.NoError(t, err)
	require.Equal(t, content, got)
}
