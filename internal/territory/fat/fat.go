// Package fat implements the FAT12/16/32 filesystem family (§4.4.1):
// BPB parsing, FAT table decoding (including the FAT12 packed-nibble
// layout the teacher code left unimplemented), cluster-chain walking with
// loop detection, and long-file-name assembly.
package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
)

type kind int

const (
	kindUnknown kind = iota
	kindFAT12
	kindFAT16
	kindFAT32
)

func (k kind) String() string {
	switch k {
	case kindFAT12:
		return "fat12"
	case kindFAT16:
		return "fat16"
	case kindFAT32:
		return "fat32"
	default:
		return "fat-unknown"
	}
}

// Territory implements territory.Territory over a FAT12/16/32 volume.
type Territory struct {
	content pipeline.Pipeline
	kind    kind

	bytesPerSector uint16
	sectorsPerClus uint8
	clusterSize    uint32

	fatStart       int64
	fatTable       []byte
	rootDirStart   int64
	rootDirSectors uint32
	rootCluster    uint32
	dataStart      int64
}

// Open parses content's boot sector and FAT table.
func Open(content pipeline.Pipeline) (*Territory, error) {
	bs := make([]byte, 512)
	if _, err := content.ReadAt(bs, 0); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_sector", "failed to read boot sector", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_signature", "missing 0x55AA boot signature", nil)
	}

	t := &Territory{content: content}

	t.bytesPerSector = binary.LittleEndian.Uint16(bs[11:13])
	t.sectorsPerClus = bs[13]
	rsvdSecCnt := binary.LittleEndian.Uint16(bs[14:16])
	numFATs := bs[16]
	rootEntCnt := binary.LittleEndian.Uint16(bs[17:19])

	totSec16 := binary.LittleEndian.Uint16(bs[19:21])
	fatSz16 := binary.LittleEndian.Uint16(bs[22:24])
	totSec32 := binary.LittleEndian.Uint32(bs[32:36])

	totSec := uint32(totSec16)
	if totSec == 0 {
		totSec = totSec32
	}

	if t.bytesPerSector == 0 || t.sectorsPerClus == 0 || rsvdSecCnt == 0 || numFATs == 0 {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "bpb", "invalid BIOS parameter block fields", nil)
	}
	if t.bytesPerSector > tdconfig.UnrealisticSectorSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "bytes_per_sector", "unrealistic sector size", nil)
	}
	t.clusterSize = uint32(t.bytesPerSector) * uint32(t.sectorsPerClus)

	fatSz32 := binary.LittleEndian.Uint32(bs[36:40])
	rootClus := binary.LittleEndian.Uint32(bs[44:48])

	t.fatStart = int64(rsvdSecCnt) * int64(t.bytesPerSector)

	isFAT32 := rootEntCnt == 0 && fatSz16 == 0 && fatSz32 != 0

	var fatSizeSectors uint32
	if isFAT32 {
		t.kind = kindFAT32
		fatSizeSectors = fatSz32
		t.rootCluster = rootClus
		t.dataStart = t.fatStart + int64(numFATs)*int64(fatSizeSectors)*int64(t.bytesPerSector)
	} else {
		if fatSz16 == 0 {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_size", "FAT16 BPB has zero FAT size and is not FAT32", nil)
		}
		fatSizeSectors = uint32(fatSz16)
		t.rootDirSectors = ((uint32(rootEntCnt) * 32) + (uint32(t.bytesPerSector) - 1)) / uint32(t.bytesPerSector)
		t.rootDirStart = t.fatStart + int64(numFATs)*int64(fatSizeSectors)*int64(t.bytesPerSector)
		t.dataStart = t.rootDirStart + int64(t.rootDirSectors)*int64(t.bytesPerSector)

		dataSectors := totSec - (uint32(rsvdSecCnt) + uint32(numFATs)*fatSizeSectors + t.rootDirSectors)
		clusterCount := dataSectors / uint32(t.sectorsPerClus)

		switch {
		case clusterCount < 4085:
			t.kind = kindFAT12
		case clusterCount < 65525:
			t.kind = kindFAT16
		default:
			t.kind = kindFAT16
		}
	}

	fatTableBytes := int64(fatSizeSectors) * int64(t.bytesPerSector)
	if fatTableBytes > tdconfig.MaxFATTableBytes {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_table_size", "FAT table exceeds maximum read size", nil)
	}
	t.fatTable = make([]byte, fatTableBytes)
	if fatTableBytes > 0 {
		if _, err := content.ReadAt(t.fatTable, t.fatStart); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_table", "failed to read FAT table", err)
		}
	}

	return t, nil
}

func (t *Territory) Kind() string { return t.kind.String() }

func (t *Territory) isEOC(c uint32) bool {
	switch t.kind {
	case kindFAT32:
		return c >= 0x0FFFFFF8
	case kindFAT12:
		return c >= 0xFF8
	default:
		return c >= 0xFFF8
	}
}

func (t *Territory) clusterOff(cluster uint32) int64 {
	if cluster < 2 {
		return t.dataStart
	}
	return t.dataStart + int64(cluster-2)*int64(t.clusterSize)
}

// fatEntry reads the FAT table entry for cluster, decoding the FAT12
// packed-nibble layout, the FAT16 16-bit layout, or the FAT32 28-bit
// (top-nibble-reserved) layout.
func (t *Territory) fatEntry(cluster uint32) (uint32, error) {
	switch t.kind {
	case kindFAT32:
		off := int64(cluster) * 4
		if off+4 > int64(len(t.fatTable)) {
			return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_entry", "cluster index exceeds FAT table", nil)
		}
		return binary.LittleEndian.Uint32(t.fatTable[off:off+4]) & 0x0FFFFFFF, nil
	case kindFAT12:
		off := int64(cluster) + int64(cluster)/2
		if off+2 > int64(len(t.fatTable)) {
			return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_entry", "cluster index exceeds FAT table", nil)
		}
		packed := binary.LittleEndian.Uint16(t.fatTable[off : off+2])
		if cluster%2 == 0 {
			return uint32(packed & 0x0FFF), nil
		}
		return uint32(packed >> 4), nil
	default: // FAT16
		off := int64(cluster) * 2
		if off+2 > int64(len(t.fatTable)) {
			return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_entry", "cluster index exceeds FAT table", nil)
		}
		return uint32(binary.LittleEndian.Uint16(t.fatTable[off : off+2])), nil
	}
}

// dirEntry is one decoded directory entry, prior to conversion to the
// cross-filesystem territory.Occupant shape.
type dirEntry struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint32
	modTime      time.Time
	attr         byte
}

func (t *Territory) readRootDir() ([]dirEntry, error) {
	if t.kind == kindFAT32 {
		return t.readDirFromCluster(t.rootCluster)
	}
	sizeBytes := int64(t.rootDirSectors) * int64(t.bytesPerSector)
	buf := make([]byte, sizeBytes)
	if _, err := t.content.ReadAt(buf, t.rootDirStart); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "root_dir", "failed to read fixed root directory", err)
	}
	return parseDirEntries(buf), nil
}

func (t *Territory) readDirFromCluster(start uint32) ([]dirEntry, error) {
	var all []byte
	c := start
	seen := make(map[uint32]bool)
	steps := 0

	for c >= 2 && !t.isEOC(c) {
		steps++
		if steps > tdconfig.MaxClusterChainLength {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster chain exceeds maximum length", nil)
		}
		if seen[c] {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", fmt.Sprintf("loop detected at cluster %d", c), nil)
		}
		seen[c] = true

		chunk := make([]byte, t.clusterSize)
		if _, err := t.content.ReadAt(chunk, t.clusterOff(c)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_read", "failed to read directory cluster", err)
		}
		all = append(all, chunk...)

		next, err := t.fatEntry(c)
		if err != nil {
			return nil, err
		}
		c = next
	}

	return parseDirEntries(all), nil
}

func (t *Territory) readFileChain(first uint32, size int64) ([]byte, error) {
	out := make([]byte, 0, size)
	remaining := size
	c := first
	seen := make(map[uint32]bool)
	steps := 0

	for c >= 2 && !t.isEOC(c) && remaining > 0 {
		steps++
		if steps > tdconfig.MaxClusterChainLength {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster chain exceeds maximum length", nil)
		}
		if seen[c] {
			// A self-referencing or cyclic chain is not corruption worth
			// failing the read over: return what was read so far, truncated.
			break
		}
		seen[c] = true

		chunk := make([]byte, t.clusterSize)
		if _, err := t.content.ReadAt(chunk, t.clusterOff(c)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_read", "failed to read file cluster", err)
		}

		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		out = append(out, chunk[:n]...)
		remaining -= n

		next, err := t.fatEntry(c)
		if err != nil {
			return nil, err
		}
		c = next
	}

	return out, nil
}

func parseDirEntries(buf []byte) []dirEntry {
	var out []dirEntry
	var lfnParts []string

	for off := 0; off+32 <= len(buf); off += 32 {
		e := buf[off : off+32]
		if e[0] == 0x00 {
			break
		}
		if e[0] == 0xE5 {
			lfnParts = nil
			continue
		}

		attr := e[11]
		if attr == 0x0F {
			if part := decodeLFNPart(e); part != "" {
				lfnParts = append(lfnParts, part)
			}
			continue
		}
		if attr&0x08 != 0 {
			lfnParts = nil
			continue
		}

		var name string
		if len(lfnParts) > 0 {
			for i, j := 0, len(lfnParts)-1; i < j; i, j = i+1, j-1 {
				lfnParts[i], lfnParts[j] = lfnParts[j], lfnParts[i]
			}
			name = strings.Join(lfnParts, "")
		} else {
			name = decode83Name(e[0:11])
		}
		lfnParts = nil

		if name == "." || name == ".." {
			continue
		}

		clusHi := binary.LittleEndian.Uint16(e[20:22])
		clusLo := binary.LittleEndian.Uint16(e[26:28])
		firstClus := uint32(clusHi)<<16 | uint32(clusLo)
		size := binary.LittleEndian.Uint32(e[28:32])

		wrtTime := binary.LittleEndian.Uint16(e[22:24])
		wrtDate := binary.LittleEndian.Uint16(e[24:26])

		out = append(out, dirEntry{
			name:         name,
			isDir:        attr&0x10 != 0,
			firstCluster: firstClus,
			size:         size,
			modTime:      decodeFATTimestamp(wrtDate, wrtTime),
			attr:         attr,
		})
	}

	return out
}

func decodeFATTimestamp(date, t uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	year := 1980 + int(date>>9)
	month := int((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int(t >> 11)
	min := int((t >> 5) & 0x3F)
	sec := int((t & 0x1F) * 2)
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

func decode83Name(b []byte) string {
	base := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext != "" {
		return base + "." + ext
	}
	return base
}

func decodeLFNPart(e []byte) string {
	units := make([]uint16, 0, 13)
	readU16 := func(i int) uint16 { return binary.LittleEndian.Uint16(e[i : i+2]) }
	for _, i := range []int{1, 3, 5, 7, 9} {
		units = append(units, readU16(i))
	}
	for _, i := range []int{14, 16, 18, 20, 22, 24} {
		units = append(units, readU16(i))
	}
	for _, i := range []int{28, 30} {
		units = append(units, readU16(i))
	}

	trimmed := units[:0:0]
	for _, c := range units {
		if c == 0x0000 || c == 0xFFFF {
			break
		}
		trimmed = append(trimmed, c)
	}
	return string(utf16.Decode(trimmed))
}

func toOccupant(e dirEntry) territory.Occupant {
	return territory.Occupant{
		Name:        e.name,
		IsDirectory: e.isDir,
		SizeBytes:   int64(e.size),
		ModTime:     e.modTime,
		Attributes:  uint32(e.attr),
	}
}

func (t *Territory) resolve(p string) (*dirEntry, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "empty path", nil)
	}
	parts := strings.Split(p, "/")

	ents, err := t.readRootDir()
	if err != nil {
		return nil, err
	}

	for i, part := range parts {
		var match *dirEntry
		for j := range ents {
			if strings.EqualFold(ents[j].name, part) {
				match = &ents[j]
				break
			}
		}
		if match == nil {
			return nil, tderrors.Wrap(tderrors.KindNotFound, "path", fmt.Sprintf("no such file or directory: %s", p), nil)
		}
		if i == len(parts)-1 {
			return match, nil
		}
		if !match.isDir {
			return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", fmt.Sprintf("not a directory: %s", part), nil)
		}
		ents, err = t.readDirFromCluster(match.firstCluster)
		if err != nil {
			return nil, err
		}
	}

	return nil, tderrors.Wrap(tderrors.KindNotFound, "path", "no such file or directory", nil)
}

func (t *Territory) List(dir string) ([]territory.Occupant, error) {
	dir = strings.Trim(dir, "/")
	var ents []dirEntry
	var err error
	if dir == "" {
		ents, err = t.readRootDir()
	} else {
		e, rerr := t.resolve(dir)
		if rerr != nil {
			return nil, rerr
		}
		if !e.isDir {
			return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "not a directory", nil)
		}
		ents, err = t.readDirFromCluster(e.firstCluster)
	}
	if err != nil {
		return nil, err
	}

	out := make([]territory.Occupant, 0, len(ents))
	for _, e := range ents {
		out = append(out, toOccupant(e))
	}
	return out, nil
}

func (t *Territory) Stat(p string) (territory.Occupant, error) {
	e, err := t.resolve(p)
	if err != nil {
		return territory.Occupant{}, err
	}
	return toOccupant(*e), nil
}

func (t *Territory) ReadFile(p string) ([]byte, error) {
	e, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if e.isDir {
		return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "is a directory", nil)
	}
	if int64(e.size) > tdconfig.MaxExtractBytes {
		return nil, tderrors.Wrap(tderrors.KindSizeMismatch, "size", "file exceeds maximum extraction size", nil)
	}
	return t.readFileChain(e.firstCluster, int64(e.size))
}
