package gpt

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

const testSectorSize = 512

// buildGPTImage manufactures a 1000-sector disk with a single Linux
// filesystem partition at LBA 100..199, matching spec.md §8 scenario 2.
func buildGPTImage(t *testing.T, corrupt bool) []byte {
	t.Helper()
	total := 1000 * testSectorSize
	img := make([]byte, total)

	entriesLBA := uint64(2)
	numEntries := uint32(128)
	entrySz := uint32(128)
	entriesBytes := make([]byte, int64(numEntries)*int64(entrySz))

	// Single Linux filesystem entry.
	e := entriesBytes[0:entrySz]
	typeGUID := mixedEndianGUIDBytes("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	copy(e[0:16], typeGUID)
	uniqueGUID := mixedEndianGUIDBytes("11111111-2222-3333-4444-555555555555")
	copy(e[16:32], uniqueGUID)
	binary.LittleEndian.PutUint64(e[32:40], 100)
	binary.LittleEndian.PutUint64(e[40:48], 199)
	name := []byte{'T', 0, 'e', 0, 's', 0, 't', 0}
	copy(e[56:56+len(name)], name)

	copy(img[entriesLBA*testSectorSize:], entriesBytes)
	entriesCRC := crc32.ChecksumIEEE(entriesBytes)

	hdr := make([]byte, testSectorSize)
	copy(hdr[0:8], signature)
	binary.LittleEndian.PutUint32(hdr[8:12], 0x00010000)
	binary.LittleEndian.PutUint32(hdr[12:16], 92)
	// CRC field [16:20] filled below.
	binary.LittleEndian.PutUint64(hdr[72:80], entriesLBA)
	binary.LittleEndian.PutUint32(hdr[80:84], numEntries)
	binary.LittleEndian.PutUint32(hdr[84:88], entrySz)
	binary.LittleEndian.PutUint32(hdr[88:92], entriesCRC)

	headerCRC := crc32.ChecksumIEEE(hdr[:92])
	binary.LittleEndian.PutUint32(hdr[16:20], headerCRC)

	if corrupt {
		hdr[50] ^= 0xFF
	}

	copy(img[headerLBA*testSectorSize:], hdr)
	return img
}

func mixedEndianGUIDBytes(s string) []byte {
	u, err := parseGUIDToMixedEndian(s)
	if err != nil {
		panic(err)
	}
	return u
}

func parseGUIDToMixedEndian(s string) ([]byte, error) {
	// Inverse of guidFromMixedEndianBytes: take the canonical hyphenated
	// string and produce raw on-disk mixed-endian bytes.
	plain := make([]byte, 0, 16)
	hexDigits := func(c byte) byte {
		switch {
		case c >= '0' && c <= '9':
			return c - '0'
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10
		}
		return 0
	}
	for i := 0; i < len(s); {
		if s[i] == '-' {
			i++
			continue
		}
		hi := hexDigits(s[i])
		lo := hexDigits(s[i+1])
		plain = append(plain, hi<<4|lo)
		i += 2
	}
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = plain[3], plain[2], plain[1], plain[0]
	out[4], out[5] = plain[5], plain[4]
	out[6], out[7] = plain[7], plain[6]
	copy(out[8:], plain[8:16])
	return out, nil
}

func TestParseGPTSingleLinuxPartition(t *testing.T) {
	img := buildGPTImage(t, false)
	content := pipeline.NewBufferPipeline(img)

	table, err := Parse(content, testSectorSize)
	require.NoError(t, err)
	require.Len(t, table.Zones(), 1)

	z := table.Zones()[0]
	require.EqualValues(t, 51200, z.Offset)
	require.EqualValues(t, 51200, z.Length)
	require.Contains(t, z.TypeName, "Linux filesystem")
	require.Contains(t, z.TypeName, "Test")
}

func TestParseGPTCorruptHeaderFailsChecksum(t *testing.T) {
	img := buildGPTImage(t, true)
	content := pipeline.NewBufferPipeline(img)

	_, err := Parse(content, testSectorSize)
	require.Error(t, err)
	require.True(t, tderrors.Is(err, tderrors.KindChecksumMismatch))
}
