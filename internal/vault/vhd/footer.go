package vhd

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

const (
	footerSize = 512
	headerSize = 1024

	cookieFooter = "conectix"
	cookieHeader = "cxsparse"

	diskTypeFixed         = 2
	diskTypeDynamic       = 3
	diskTypeDifferencing  = 4

	unallocatedBAT = 0xFFFFFFFF
	sectorBitmapSz = 512
)

// footer mirrors the 512-byte VHD hard-disk footer (§3 VaultInfo).
type footer struct {
	Cookie             string
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	TimeStamp          uint32
	CreatorApplication uint32
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometryCyl    uint16
	DiskGeometryHeads  uint8
	DiskGeometrySPT    uint8
	DiskType           uint32
	Checksum           uint32
	UniqueID           uuid.UUID
}

func parseFooter(buf []byte) (*footer, error) {
	if len(buf) != footerSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "footer_size", "footer must be 512 bytes", nil)
	}
	if string(buf[0:8]) != cookieFooter {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "cookie", "missing conectix cookie", nil)
	}

	declaredChecksum := binary.BigEndian.Uint32(buf[64:68])
	if oneComplementSum(buf, 64) != declaredChecksum {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "checksum", "footer checksum mismatch", nil)
	}

	f := &footer{
		Cookie:             string(buf[0:8]),
		Features:           binary.BigEndian.Uint32(buf[8:12]),
		FileFormatVersion:  binary.BigEndian.Uint32(buf[12:16]),
		DataOffset:         binary.BigEndian.Uint64(buf[16:24]),
		TimeStamp:          binary.BigEndian.Uint32(buf[24:28]),
		CreatorApplication: binary.BigEndian.Uint32(buf[28:32]),
		CreatorVersion:     binary.BigEndian.Uint32(buf[32:36]),
		CreatorHostOS:      binary.BigEndian.Uint32(buf[36:40]),
		OriginalSize:       binary.BigEndian.Uint64(buf[40:48]),
		CurrentSize:        binary.BigEndian.Uint64(buf[48:56]),
		DiskGeometryCyl:    binary.BigEndian.Uint16(buf[56:58]),
		DiskGeometryHeads:  buf[58],
		DiskGeometrySPT:    buf[59],
		DiskType:           binary.BigEndian.Uint32(buf[60:64]),
		Checksum:           declaredChecksum,
	}
	copy(f.UniqueID[:], buf[68:84])

	switch f.DiskType {
	case diskTypeFixed, diskTypeDynamic, diskTypeDifferencing:
	default:
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "disk_type", fmt.Sprintf("unsupported VHD disk type %d", f.DiskType), nil)
	}

	return f, nil
}

// oneComplementSum implements the VHD checksum algorithm: the 1's
// complement of the sum of all bytes in buf with the checksum field
// (located at checksumOff..checksumOff+4) treated as zero.
func oneComplementSum(buf []byte, checksumOff int) uint32 {
	var sum uint32
	for i, b := range buf {
		if i >= checksumOff && i < checksumOff+4 {
			continue
		}
		sum += uint32(b)
	}
	return ^sum
}

// dynamicHeader mirrors the 1024-byte "Dynamic Disk Header" (§3).
type dynamicHeader struct {
	Cookie          string
	DataOffset      uint64
	TableOffset     uint64
	HeaderVersion   uint32
	MaxTableEntries uint32
	BlockSize       uint32
	Checksum        uint32
	ParentUniqueID  uuid.UUID
	ParentTimestamp uint32
	ParentLocators  []parentLocator
}

type parentLocator struct {
	PlatformCode       string
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	PlatformDataOffset uint64
}

func parseDynamicHeader(buf []byte) (*dynamicHeader, error) {
	if len(buf) != headerSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "dynamic_header_size", "dynamic header must be 1024 bytes", nil)
	}
	if string(buf[0:8]) != cookieHeader {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "dynamic_cookie", "missing cxsparse cookie", nil)
	}

	declaredChecksum := binary.BigEndian.Uint32(buf[36:40])
	if oneComplementSum(buf, 36) != declaredChecksum {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "dynamic_checksum", "dynamic header checksum mismatch", nil)
	}

	h := &dynamicHeader{
		Cookie:          string(buf[0:8]),
		DataOffset:      binary.BigEndian.Uint64(buf[8:16]),
		TableOffset:     binary.BigEndian.Uint64(buf[16:24]),
		HeaderVersion:   binary.BigEndian.Uint32(buf[24:28]),
		MaxTableEntries: binary.BigEndian.Uint32(buf[28:32]),
		BlockSize:       binary.BigEndian.Uint32(buf[32:36]),
		Checksum:        declaredChecksum,
		ParentTimestamp: binary.BigEndian.Uint32(buf[64:68]),
	}
	copy(h.ParentUniqueID[:], buf[48:64])

	// Parent locator entries: 8 entries of 24 bytes, starting at 576.
	const locatorsOff = 576
	const locatorSize = 24
	for i := 0; i < 8; i++ {
		e := buf[locatorsOff+i*locatorSize : locatorsOff+(i+1)*locatorSize]
		code := string(e[0:4])
		if code == "\x00\x00\x00\x00" {
			continue
		}
		h.ParentLocators = append(h.ParentLocators, parentLocator{
			PlatformCode:       code,
			PlatformDataSpace:  binary.BigEndian.Uint32(e[4:8]),
			PlatformDataLength: binary.BigEndian.Uint32(e[8:12]),
			PlatformDataOffset: binary.BigEndian.Uint64(e[16:24]),
		})
	}

	return h, nil
}
