// Package gpt decodes the GUID Partition Table (§4.3.2), including the
// mandatory header and partition-entry-array CRC32 verification. A
// checksum failure here is a hard error: the caller must not silently
// fall back to another parser (§7 Propagation).
package gpt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/zone"
)

const (
	signature      = "EFI PART"
	headerLBA      = 1
	entrySize      = 128
	nameFieldSize  = 72
)

// Table is the parsed GPT partition table.
type Table struct {
	DiskGUID   string
	sectorSize uint32
	zones      []zone.Zone
}

func (t *Table) Kind() string       { return "gpt" }
func (t *Table) Zones() []zone.Zone { return t.zones }
func (t *Table) SectorSize() uint32 { return t.sectorSize }

// Parse reads the primary GPT header at LBA 1 and its partition-entry
// array, verifying both CRC32 fields before trusting any entry.
func Parse(content pipeline.Pipeline, sectorSizeBytes uint32) (*Table, error) {
	if sectorSizeBytes == 0 {
		sectorSizeBytes = 512
	}
	if sectorSizeBytes > tdconfig.UnrealisticSectorSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "sector_size", "unrealistic sector size", nil)
	}

	hdrBuf := make([]byte, sectorSizeBytes)
	if _, err := content.ReadAt(hdrBuf, int64(headerLBA)*int64(sectorSizeBytes)); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "header", "failed to read GPT header LBA", err)
	}

	if string(hdrBuf[0:8]) != signature {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "signature", "missing EFI PART signature", nil)
	}

	revision := binary.LittleEndian.Uint32(hdrBuf[8:12])
	headerSize := binary.LittleEndian.Uint32(hdrBuf[12:16])
	if headerSize < 92 || headerSize > sectorSizeBytes {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "header_size", "implausible header size", nil)
	}
	_ = revision

	declaredCRC := binary.LittleEndian.Uint32(hdrBuf[16:20])

	// Verify header CRC32 over the declared header size with the CRC
	// field zeroed.
	headerCopy := make([]byte, headerSize)
	copy(headerCopy, hdrBuf[:headerSize])
	binary.LittleEndian.PutUint32(headerCopy[16:20], 0)
	if crc32.ChecksumIEEE(headerCopy) != declaredCRC {
		return nil, tderrors.Wrap(tderrors.KindChecksumMismatch, "header_crc32", "GPT header CRC32 mismatch", nil)
	}

	partEntryLBA := binary.LittleEndian.Uint64(hdrBuf[72:80])
	numEntries := binary.LittleEndian.Uint32(hdrBuf[80:84])
	entrySz := binary.LittleEndian.Uint32(hdrBuf[84:88])
	entriesCRC := binary.LittleEndian.Uint32(hdrBuf[88:92])

	if entrySz == 0 || entrySz != entrySize {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "entry_size", fmt.Sprintf("unexpected partition entry size %d", entrySz), nil)
	}
	if numEntries > tdconfig.MaxGPTEntries {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "num_entries", "implausible partition entry count", nil)
	}

	entriesBytes := int64(numEntries) * int64(entrySz)
	entriesBuf := make([]byte, entriesBytes)
	if entriesBytes > 0 {
		if _, err := content.ReadAt(entriesBuf, int64(partEntryLBA)*int64(sectorSizeBytes)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "partition_entries", "failed to read partition entry array", err)
		}
	}

	if crc32.ChecksumIEEE(entriesBuf) != entriesCRC {
		return nil, tderrors.Wrap(tderrors.KindChecksumMismatch, "partition_entries_crc32", "GPT partition entry array CRC32 mismatch", nil)
	}

	diskGUIDBytes := hdrBuf[56:72]
	diskGUID := guidFromMixedEndianBytes(diskGUIDBytes)

	t := &Table{
		DiskGUID:   diskGUID,
		sectorSize: sectorSizeBytes,
	}

	idx := 1
	for i := uint32(0); i < numEntries; i++ {
		e := entriesBuf[int64(i)*int64(entrySz) : int64(i+1)*int64(entrySz)]

		typeGUIDBytes := e[0:16]
		if isZero(typeGUIDBytes) {
			continue
		}
		uniqueGUIDBytes := e[16:32]
		firstLBA := binary.LittleEndian.Uint64(e[32:40])
		lastLBA := binary.LittleEndian.Uint64(e[40:48])
		attrs := binary.LittleEndian.Uint64(e[48:56])
		name := decodeUTF16Name(e[56:56+nameFieldSize])

		length := uint64(0)
		if lastLBA >= firstLBA {
			length = (lastLBA - firstLBA + 1) * uint64(sectorSizeBytes)
		}

		typeName := guidFromMixedEndianBytes(typeGUIDBytes)
		label := knownTypeName(typeName)
		if name != "" {
			label = fmt.Sprintf("%s %q", label, name)
		}

		z := zone.Zone{
			Index:      idx,
			Offset:     firstLBA * uint64(sectorSizeBytes),
			Length:     length,
			TypeName:   label,
			GUID:       guidFromMixedEndianBytes(uniqueGUIDBytes),
			Name:       name,
			Attributes: attrs,
		}
		t.zones = append(t.zones, z)
		idx++
	}

	return t, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// guidFromMixedEndianBytes converts the on-disk mixed-endian GUID encoding
// (first three fields little-endian, last two big-endian) to the canonical
// hyphenated upper-case string form.
func guidFromMixedEndianBytes(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	var reordered [16]byte
	reordered[0], reordered[1], reordered[2], reordered[3] = b[3], b[2], b[1], b[0]
	reordered[4], reordered[5] = b[5], b[4]
	reordered[6], reordered[7] = b[7], b[6]
	copy(reordered[8:], b[8:16])

	u, err := uuid.FromBytes(reordered[:])
	if err != nil {
		return ""
	}
	return strings.ToUpper(u.String())
}

// decodeUTF16Name decodes a UTF-16LE partition name field, stopping at the
// first NUL code unit.
func decodeUTF16Name(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// knownTypeGUIDs maps well-known GPT partition type GUIDs to labels.
var knownTypeGUIDs = map[string]string{
	"C12A7328-F81F-11D2-BA4B-00A0C93EC93B": "EFI system",
	"E3C9E316-0B5C-4DB8-817D-F92DF00215AE": "Microsoft reserved",
	"EBD0A0A2-B9E5-4433-87C0-68B6B72699C7": "Microsoft basic data",
	"0FC63DAF-8483-4772-8E79-3D69D8477DE4": "Linux filesystem",
	"0657FD6D-A4AB-43C4-84E5-0933C84B4F4F": "Linux swap",
	"E6D6D379-F507-44C2-A23C-238F2A3DF928": "Linux LVM",
	"48465300-0000-11AA-AA11-00306543ECAC": "Apple HFS+",
	"7C3457EF-0000-11AA-AA11-00306543ECAC": "Apple APFS",
	"21686148-6449-6E6F-744E-656564454649": "BIOS boot",
}

func knownTypeName(guid string) string {
	if n, ok := knownTypeGUIDs[strings.ToUpper(guid)]; ok {
		return n
	}
	return fmt.Sprintf("unknown type GUID %s", guid)
}
