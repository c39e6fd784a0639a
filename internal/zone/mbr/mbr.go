// Package mbr decodes the classic DOS Master Boot Record partition table
// (§4.3.1).
package mbr

import (
	"encoding/binary"
	"fmt"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/open-edge-platform/totaldisk/internal/zone"
)

var log = logger.Logger()

const (
	sectorSize       = 512
	bootSignatureOff = 510
	partitionTblOff  = 446
	entrySize        = 16
)

// Table is the parsed MBR partition table.
type Table struct {
	DiskSignature uint32
	sectorSize    uint32
	zones         []zone.Zone
}

func (t *Table) Kind() string         { return "mbr" }
func (t *Table) Zones() []zone.Zone   { return t.zones }
func (t *Table) SectorSize() uint32   { return t.sectorSize }

// typeNames maps an MBR partition type byte to a human-readable label.
// Covers the spec's required set plus the fuller vendor table the original
// Rust implementation carries (§3 SPEC_FULL supplement).
var typeNames = map[byte]string{
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT",
	0x0B: "FAT32 CHS",
	0x0C: "FAT32 LBA",
	0x0E: "FAT16 LBA",
	0x0F: "Extended LBA",
	0x82: "Linux swap",
	0x83: "Linux",
	0x8E: "Linux LVM",
	0xA5: "FreeBSD",
	0xA8: "Darwin/macOS",
	0xA9: "NetBSD",
	0xEE: "GPT protective",
	0xEF: "EFI system",
}

// TypeName returns the human-readable label for a partition type byte.
func TypeName(t byte) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown (0x%02x)", t)
}

// Parse reads sector 0 of content and enumerates its MBR partitions.
// sectorSizeBytes is the logical sector size (usually 512).
func Parse(content pipeline.Pipeline, sectorSizeBytes uint32) (*Table, error) {
	if sectorSizeBytes == 0 {
		sectorSizeBytes = sectorSize
	}

	buf := make([]byte, sectorSize)
	if _, err := content.ReadAt(buf, 0); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "sector0", "failed to read sector 0", err)
	}

	if buf[bootSignatureOff] != 0x55 || buf[bootSignatureOff+1] != 0xAA {
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "boot_signature", "missing 0x55AA boot signature", nil)
	}

	t := &Table{
		DiskSignature: binary.LittleEndian.Uint32(buf[440:444]),
		sectorSize:    sectorSizeBytes,
	}

	idx := 1
	for i := 0; i < 4; i++ {
		e := buf[partitionTblOff+i*entrySize : partitionTblOff+(i+1)*entrySize]
		typ := e[4]
		lbaStart := binary.LittleEndian.Uint32(e[8:12])
		lbaLen := binary.LittleEndian.Uint32(e[12:16])

		if typ == 0x00 || lbaLen == 0 {
			continue
		}

		z := zone.Zone{
			Index:    idx,
			Offset:   uint64(lbaStart) * uint64(sectorSizeBytes),
			Length:   uint64(lbaLen) * uint64(sectorSizeBytes),
			TypeName: TypeName(typ),
		}
		if z.Offset+z.Length > uint64(content.Length()) {
			log.Warnf("mbr: entry %d extends past vault length, clamping", idx)
			if z.Offset >= uint64(content.Length()) {
				continue
			}
			z.Length = uint64(content.Length()) - z.Offset
		}

		if typ == 0xEE {
			log.Warnf("mbr: type 0xEE (GPT protective) found; caller should prefer the GPT parser")
		}

		t.zones = append(t.zones, z)
		idx++
	}

	return t, nil
}
