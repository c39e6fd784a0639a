// Package exfat implements the exFAT filesystem (§4.4.2): boot sector
// parsing, FAT chain decoding, and the File/StreamExtension/FileName
// directory entry set.
package exfat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-restruct/restruct"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
)

var (
	requiredJumpBootSignature = []byte{0xeb, 0x76, 0x90}
	requiredFileSystemName    = []byte("EXFAT   ")
)

const (
	lastCluster      = 0xFFFFFFFF
	badCluster       = 0xFFFFFFF7
	entrySize        = 32
	entryTypeFile    = 0x85
	entryTypeStream  = 0xC0
	entryTypeName    = 0xC1
	flagNoFatChain   = 0x02
	flagDirAttribute = 0x10
)

// bootSectorHeader mirrors the 512-byte exFAT boot sector layout.
type bootSectorHeader struct {
	JumpBoot                    [3]byte
	FileSystemName              [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          [2]uint8
	VolumeFlags                uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
	BootCode                    [390]byte
	BootSignature               uint16
}

// Territory implements territory.Territory over an exFAT volume.
type Territory struct {
	content pipeline.Pipeline

	bsh         bootSectorHeader
	sectorSize  uint32
	clusterSize uint32
	heapOffset  int64
	fat         []uint32
}

// Open parses content's boot sector and active FAT table.
func Open(content pipeline.Pipeline) (*Territory, error) {
	raw := make([]byte, entrySize*16)
	if _, err := content.ReadAt(raw, 0); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_sector", "failed to read boot sector", err)
	}

	var bsh bootSectorHeader
	if err := restruct.Unpack(raw, binary.LittleEndian, &bsh); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_sector", "failed to unpack boot sector", err)
	}

	if string(bsh.JumpBoot[:]) != string(requiredJumpBootSignature) {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "jump_boot", "unexpected jump-boot signature", nil)
	}
	if string(bsh.FileSystemName[:]) != string(requiredFileSystemName) {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fs_name", "not an exFAT volume", nil)
	}
	if bsh.BootSignature != 0xAA55 {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_signature", "missing 0xAA55 boot signature", nil)
	}
	if bsh.BytesPerSectorShift < 9 || bsh.BytesPerSectorShift > 12 {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "bytes_per_sector_shift", "out of range sector size shift", nil)
	}

	t := &Territory{
		content:     content,
		bsh:         bsh,
		sectorSize:  1 << bsh.BytesPerSectorShift,
		clusterSize: (1 << bsh.BytesPerSectorShift) << bsh.SectorsPerClusterShift,
	}
	t.heapOffset = int64(bsh.ClusterHeapOffset) * int64(t.sectorSize)

	fatOffsetBytes := int64(bsh.FatOffset) * int64(t.sectorSize)
	fatBytes := int64(bsh.FatLength) * int64(t.sectorSize)
	if fatBytes > tdconfig.MaxFATTableBytes {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_table_size", "FAT table exceeds maximum read size", nil)
	}

	rawFat := make([]byte, fatBytes)
	if fatBytes > 0 {
		if _, err := content.ReadAt(rawFat, fatOffsetBytes); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "fat_table", "failed to read FAT table", err)
		}
	}

	entryCount := fatBytes / 4
	t.fat = make([]uint32, entryCount)
	for i := int64(0); i < entryCount; i++ {
		t.fat[i] = binary.LittleEndian.Uint32(rawFat[i*4 : i*4+4])
	}

	return t, nil
}

func (t *Territory) Kind() string { return "exfat" }

func (t *Territory) clusterOffset(cluster uint32) int64 {
	return t.heapOffset + int64(cluster-2)*int64(t.clusterSize)
}

// readChain reads size bytes of a cluster chain starting at first. When
// noFatChain is set the allocation is one contiguous run of clusters and
// the FAT is not consulted, per the NoFatChain secondary flag (§7.6.2).
func (t *Territory) readChain(first uint32, noFatChain bool, size int64) ([]byte, error) {
	if size <= 0 || first < 2 {
		return nil, nil
	}

	out := make([]byte, 0, size)
	remaining := size
	c := first
	seen := make(map[uint32]bool)
	steps := 0

	for remaining > 0 {
		steps++
		if steps > tdconfig.MaxClusterChainLength {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster chain exceeds maximum length", nil)
		}
		if seen[c] {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", fmt.Sprintf("loop detected at cluster %d", c), nil)
		}
		seen[c] = true

		chunk := make([]byte, t.clusterSize)
		if _, err := t.content.ReadAt(chunk, t.clusterOffset(c)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_read", "failed to read cluster", err)
		}
		n := int64(len(chunk))
		if remaining < n {
			n = remaining
		}
		out = append(out, chunk[:n]...)
		remaining -= n

		if noFatChain {
			c++
			continue
		}

		if c >= uint32(len(t.fat)) {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster index exceeds FAT table", nil)
		}
		next := t.fat[c]
		if next == lastCluster || next == badCluster {
			break
		}
		c = next
	}

	return out, nil
}

type dirEntry struct {
	name         string
	isDir        bool
	firstCluster uint32
	size         uint64
	noFatChain   bool
	modTime      time.Time
}

func decodeTimestamp(raw uint32) time.Time {
	if raw == 0 {
		return time.Time{}
	}
	sec := int((raw & 0x1F) * 2)
	min := int((raw >> 5) & 0x3F)
	hour := int((raw >> 11) & 0x1F)
	day := int((raw >> 16) & 0x1F)
	month := int((raw >> 21) & 0x0F)
	year := 1980 + int((raw>>25)&0x7F)
	if day == 0 {
		day = 1
	}
	if month == 0 {
		month = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

func decodeFileName15(b []byte) string {
	units := make([]uint16, 0, 15)
	for i := 0; i+2 <= len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0x0000 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

func (t *Territory) parseDirectory(buf []byte) []dirEntry {
	var out []dirEntry

	for off := 0; off+entrySize <= len(buf); {
		e := buf[off : off+entrySize]
		entryType := e[0]

		if entryType == 0x00 {
			break
		}
		if entryType != entryTypeFile {
			off += entrySize
			continue
		}

		secondaryCount := int(e[1])
		attr := binary.LittleEndian.Uint16(e[4:6])
		lastModified := binary.LittleEndian.Uint32(e[12:16])

		var streamFirstCluster uint32
		var streamSize uint64
		var noFatChain bool
		var nameParts []string
		haveStream := false

		cursor := off + entrySize
		for i := 0; i < secondaryCount && cursor+entrySize <= len(buf); i++ {
			se := buf[cursor : cursor+entrySize]
			switch se[0] {
			case entryTypeStream:
				noFatChain = se[1]&flagNoFatChain != 0
				streamFirstCluster = binary.LittleEndian.Uint32(se[20:24])
				streamSize = binary.LittleEndian.Uint64(se[24:32])
				haveStream = true
			case entryTypeName:
				nameParts = append(nameParts, decodeFileName15(se[2:32]))
			}
			cursor += entrySize
		}
		off = cursor

		if !haveStream {
			continue
		}

		out = append(out, dirEntry{
			name:         strings.Join(nameParts, ""),
			isDir:        attr&flagDirAttribute != 0,
			firstCluster: streamFirstCluster,
			size:         streamSize,
			noFatChain:   noFatChain,
			modTime:      decodeTimestamp(lastModified),
		})
	}

	return out
}

// readDirChain reads every cluster of a directory's chain, stopping at the
// FAT end-of-chain marker rather than a caller-supplied byte length (unlike
// file data, a directory's true size isn't recorded anywhere in the entry
// that points to it).
func (t *Territory) readDirChain(first uint32) ([]byte, error) {
	if first < 2 {
		return nil, nil
	}

	var out []byte
	c := first
	seen := make(map[uint32]bool)
	steps := 0

	for {
		steps++
		if steps > tdconfig.MaxClusterChainLength {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster chain exceeds maximum length", nil)
		}
		if seen[c] {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", fmt.Sprintf("loop detected at cluster %d", c), nil)
		}
		seen[c] = true

		chunk := make([]byte, t.clusterSize)
		if _, err := t.content.ReadAt(chunk, t.clusterOffset(c)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_read", "failed to read directory cluster", err)
		}
		out = append(out, chunk...)

		if c >= uint32(len(t.fat)) {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "cluster_chain", "cluster index exceeds FAT table", nil)
		}
		next := t.fat[c]
		if next == lastCluster || next == badCluster {
			break
		}
		c = next
	}

	return out, nil
}

func (t *Territory) readDir(cluster uint32) ([]dirEntry, error) {
	buf, err := t.readDirChain(cluster)
	if err != nil {
		return nil, err
	}
	return t.parseDirectory(buf), nil
}

func toOccupant(e dirEntry) territory.Occupant {
	attr := uint32(0)
	if e.isDir {
		attr = flagDirAttribute
	}
	return territory.Occupant{
		Name:        e.name,
		IsDirectory: e.isDir,
		SizeBytes:   int64(e.size),
		ModTime:     e.modTime,
		Attributes:  attr,
	}
}

func (t *Territory) resolve(p string) (*dirEntry, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "empty path", nil)
	}
	parts := strings.Split(p, "/")

	ents, err := t.readDir(t.bsh.FirstClusterOfRootDirectory)
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
		ents, err = t.readDir(match.firstCluster)
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
		ents, err = t.readDir(t.bsh.FirstClusterOfRootDirectory)
	} else {
		e, rerr := t.resolve(dir)
		if rerr != nil {
			return nil, rerr
		}
		if !e.isDir {
			return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "not a directory", nil)
		}
		ents, err = t.readDir(e.firstCluster)
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
	return t.readChain(e.firstCluster, e.noFatChain, int64(e.size))
}
