package iso9660

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
)

func putBothEndianUint32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst[0:4], v)
	binary.BigEndian.PutUint32(dst[4:8], v)
}

func putBothEndianUint16(dst []byte, v uint16) {
	binary.LittleEndian.PutUint16(dst[0:2], v)
	binary.BigEndian.PutUint16(dst[2:4], v)
}

// buildDirRecord returns a directory record (ECMA-119 §9.1), padded to an
// even length as the format requires.
func buildDirRecord(name string, isDir bool, lba, size uint32) []byte {
	nameLen := len(name)
	recLen := 33 + nameLen
	if recLen%2 != 0 {
		recLen++
	}
	rec := make([]byte, recLen)
	rec[0] = byte(33 + nameLen)
	if rec[0]%2 != 0 {
		rec[0]++
	}
	putBothEndianUint32(rec[2:10], lba)
	putBothEndianUint32(rec[10:18], size)
	if isDir {
		rec[25] = 0x02
	}
	rec[32] = byte(nameLen)
	copy(rec[33:33+nameLen], name)
	return rec
}

func TestISO9660FileRoundTrip(t *testing.T) {
	const rootLBA = 20
	const fileLBA = 21

	content := make([]byte, 123)
	for i := range content {
		content[i] = byte(i % 173)
	}

	fileRec := buildDirRecord("HELLO.TXT", false, fileLBA, uint32(len(content)))
	dot := buildDirRecord("\x00", false, rootLBA, sectorSize)
	dotdot := buildDirRecord("\x01", false, rootLBA, sectorSize)

	var rootDir []byte
	rootDir = append(rootDir, dot...)
	rootDir = append(rootDir, dotdot...)
	rootDir = append(rootDir, fileRec...)

	totalSectors := fileLBA + 1 + int((len(content)+sectorSize-1)/sectorSize)
	img := make([]byte, totalSectors*sectorSize)

	pvd := img[16*sectorSize : 17*sectorSize]
	pvd[0] = typePrimary
	copy(pvd[1:6], standardIdentifier[:])
	pvd[6] = 1
	putBothEndianUint32(pvd[80:88], uint32(totalSectors))
	putBothEndianUint16(pvd[128:132], sectorSize)

	rootRecord := pvd[156:190]
	rootRecord[0] = 34
	putBothEndianUint32(rootRecord[2:10], rootLBA)
	putBothEndianUint32(rootRecord[10:18], uint32(len(rootDir)))
	rootRecord[25] = 0x02
	rootRecord[32] = 1
	rootRecord[33] = 0x00

	copy(img[rootLBA*sectorSize:], rootDir)

	term := img[18*sectorSize : 19*sectorSize]
	term[0] = typeTerminator
	copy(term[1:6], standardIdentifier[:])
	term[6] = 1

	copy(img[fileLBA*sectorSize:], content)

	backing := pipeline.NewBufferPipeline(img)
	tr, err := Open(backing)
	require.NoError(t, err)
	require.Equal(t, "iso9660", tr.Kind())

	occupants, err := tr.List("")
	require.NoError(t, err)
	require.Len(t, occupants, 1)
	require.Equal(t, "HELLO.TXT", occupants[0].Name)
	require.Equal(t, int64(len(content)), occupants[0].SizeBytes)

	got, err := tr.ReadFile("HELLO.TXT")
	require.NoError(t, err)
	require.Equal(t, content, got)
}
