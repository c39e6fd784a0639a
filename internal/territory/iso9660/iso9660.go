// Package iso9660 implements ISO 9660 (§4.4.3): volume descriptor
// parsing with both-endian integer cross-checks, and the root/sub
// directory record walk.
package iso9660

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
)

const (
	sectorSize      = 2048
	systemAreaBytes = 16 * sectorSize

	typePrimary    = 1
	typeTerminator = 255
)

var standardIdentifier = [5]byte{'C', 'D', '0', '0', '1'}

// Territory implements territory.Territory over an ISO 9660 volume.
type Territory struct {
	content pipeline.Pipeline

	rootLBA  uint32
	rootSize uint32
}

// Open locates and parses the Primary Volume Descriptor starting at
// logical sector 16 (the System Area's end), per ECMA-119 §8.4.
func Open(content pipeline.Pipeline) (*Territory, error) {
	for lba := uint32(16); ; lba++ {
		desc := make([]byte, sectorSize)
		if _, err := content.ReadAt(desc, int64(lba)*sectorSize); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "volume_descriptor", "failed to read volume descriptor", err)
		}

		if string(desc[1:6]) != string(standardIdentifier[:]) {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "standard_identifier", "missing CD001 standard identifier", nil)
		}

		descType := desc[0]
		if descType == typeTerminator {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "primary_descriptor", "volume descriptor set terminated before a primary descriptor was found", nil)
		}
		if descType != typePrimary {
			continue
		}

		volumeSpaceSize, err := unmarshalUint32BothEndian(desc[80:88])
		if err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "volume_space_size", "inconsistent both-endian volume space size", err)
		}
		logicalBlockSize, err := unmarshalUint16BothEndian(desc[128:132])
		if err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "logical_block_size", "inconsistent both-endian logical block size", err)
		}
		if logicalBlockSize != sectorSize {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "logical_block_size", fmt.Sprintf("unsupported logical block size %d", logicalBlockSize), nil)
		}
		_ = volumeSpaceSize

		rootRecord := desc[156:190]
		rootLBA, err := unmarshalUint32BothEndian(rootRecord[2:10])
		if err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "root_directory_record", "inconsistent both-endian root LBA", err)
		}
		rootSize, err := unmarshalUint32BothEndian(rootRecord[10:18])
		if err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "root_directory_record", "inconsistent both-endian root extent size", err)
		}

		return &Territory{content: content, rootLBA: rootLBA, rootSize: rootSize}, nil
	}
}

func unmarshalUint32BothEndian(b []byte) (uint32, error) {
	if len(b) != 8 {
		return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "both_endian_uint32", "expected 8 bytes", nil)
	}
	le := binary.LittleEndian.Uint32(b[0:4])
	be := binary.BigEndian.Uint32(b[4:8])
	if le != be {
		return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "both_endian_uint32", fmt.Sprintf("little/big-endian mismatch: %d != %d", le, be), nil)
	}
	return le, nil
}

func unmarshalUint16BothEndian(b []byte) (uint16, error) {
	if len(b) != 4 {
		return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "both_endian_uint16", "expected 4 bytes", nil)
	}
	le := binary.LittleEndian.Uint16(b[0:2])
	be := binary.BigEndian.Uint16(b[2:4])
	if le != be {
		return 0, tderrors.Wrap(tderrors.KindInvalidTerritory, "both_endian_uint16", fmt.Sprintf("little/big-endian mismatch: %d != %d", le, be), nil)
	}
	return le, nil
}

func (t *Territory) Kind() string { return "iso9660" }

type dirEntry struct {
	name  string
	isDir bool
	lba   uint32
	size  uint32
}

// listRaw reads every directory record in the extent [lba, lba+size),
// skipping the "." and ".." self/parent entries and records that cross a
// sector boundary improperly (recLen == 0 advances to the next sector, per
// ECMA-119 §6.8.1's zero-padding rule).
func (t *Territory) listRaw(lba, size uint32) ([]dirEntry, error) {
	if int64(size) > tdconfig.MaxFATTableBytes {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "directory_extent", "directory extent exceeds maximum read size", nil)
	}

	data := make([]byte, size)
	if _, err := t.content.ReadAt(data, int64(lba)*sectorSize); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "directory_extent", "failed to read directory extent", err)
	}

	var entries []dirEntry
	offset := 0
	for offset < int(size) {
		recLen := int(data[offset])
		if recLen == 0 {
			next := ((offset / sectorSize) + 1) * sectorSize
			if next >= int(size) {
				break
			}
			offset = next
			continue
		}
		if offset+recLen > int(size) || offset+34 > int(size) {
			break
		}

		nameLen := int(data[offset+32])
		if nameLen == 0 || offset+33+nameLen > int(size) {
			offset += recLen
			continue
		}

		identifier := string(data[offset+33 : offset+33+nameLen])
		if identifier == "\x00" || identifier == "\x01" {
			offset += recLen
			continue
		}
		if idx := strings.Index(identifier, ";"); idx >= 0 {
			identifier = identifier[:idx]
		}

		fileFlags := data[offset+25]
		entryLBA, err := unmarshalUint32BothEndian(data[offset+2 : offset+10])
		if err != nil {
			return nil, err
		}
		entrySize, err := unmarshalUint32BothEndian(data[offset+10 : offset+18])
		if err != nil {
			return nil, err
		}

		entries = append(entries, dirEntry{
			name:  identifier,
			isDir: fileFlags&0x02 != 0,
			lba:   entryLBA,
			size:  entrySize,
		})
		offset += recLen
	}

	return entries, nil
}

func toOccupant(e dirEntry) territory.Occupant {
	attr := uint32(0)
	if e.isDir {
		attr = 0x02
	}
	return territory.Occupant{
		Name:        e.name,
		IsDirectory: e.isDir,
		SizeBytes:   int64(e.size),
		Attributes:  attr,
	}
}

func (t *Territory) resolve(p string) (*dirEntry, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "empty path", nil)
	}
	parts := strings.Split(p, "/")

	lba, size := t.rootLBA, t.rootSize
	ents, err := t.listRaw(lba, size)
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
		ents, err = t.listRaw(match.lba, match.size)
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
		ents, err = t.listRaw(t.rootLBA, t.rootSize)
	} else {
		e, rerr := t.resolve(dir)
		if rerr != nil {
			return nil, rerr
		}
		if !e.isDir {
			return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "not a directory", nil)
		}
		ents, err = t.listRaw(e.lba, e.size)
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

	out := make([]byte, e.size)
	if e.size > 0 {
		if _, err := t.content.ReadAt(out, int64(e.lba)*sectorSize); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "file_read", "failed to read file extent", err)
		}
	}
	return out, nil
}
