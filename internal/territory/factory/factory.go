// Package factory auto-detects a zone's filesystem and opens the matching
// Territory implementation (§4.4, Territory), the filesystem-layer
// counterpart of internal/vault/factory. Detection reads the boot sector
// and, for optical media, the ISO 9660 system area, before falling back to
// the FAT family's generic 0x55AA boot signature.
package factory

import (
	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/territory/exfat"
	"github.com/open-edge-platform/totaldisk/internal/territory/fat"
	"github.com/open-edge-platform/totaldisk/internal/territory/iso9660"
	"github.com/open-edge-platform/totaldisk/internal/territory/ntfs"
)

const (
	isoSystemAreaLBA  = 16
	isoSectorSize     = 2048
	bootSectorLen     = 512
)

// Detect sniffs content's boot sector and, for optical media, the ISO 9660
// system area, to identify the filesystem without fully parsing it.
// exFAT and NTFS carry unambiguous 8-byte filesystem-name fields, so those
// are checked first; ISO 9660's "CD001" identifier lives at a fixed sector
// regardless of what the first 512 bytes hold. FAT12/16/32 share no single
// unambiguous signature, so it is the fallback once the 0x55AA boot
// signature is present and nothing more specific matched.
func Detect(content pipeline.Pipeline) string {
	bs := make([]byte, bootSectorLen)
	if _, err := content.ReadAt(bs, 0); err != nil {
		return "unknown"
	}

	if string(bs[3:11]) == "EXFAT   " {
		return "exfat"
	}
	if string(bs[3:11]) == "NTFS    " {
		return "ntfs"
	}

	iso := make([]byte, isoSectorSize)
	if _, err := content.ReadAt(iso, isoSystemAreaLBA*isoSectorSize); err == nil {
		if string(iso[1:6]) == "CD001" {
			return "iso9660"
		}
	}

	if bs[510] == 0x55 && bs[511] == 0xAA {
		return "fat"
	}

	return "unknown"
}

// Open detects content's filesystem and opens the corresponding Territory.
func Open(content pipeline.Pipeline) (territory.Territory, error) {
	switch Detect(content) {
	case "exfat":
		return exfat.Open(content)
	case "ntfs":
		return ntfs.Open(content)
	case "iso9660":
		return iso9660.Open(content)
	case "fat":
		return fat.Open(content)
	default:
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "detect", "unrecognized filesystem", nil)
	}
}
