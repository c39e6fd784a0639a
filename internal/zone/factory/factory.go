// Package factory auto-detects a vault's partition table format and opens
// the matching ZoneTable implementation (§4.3, Factory's partition-layer
// counterpart): GPT is preferred when its LBA-1 header carries a valid
// "EFI PART" signature, since a protective MBR also carries a 0x55AA boot
// signature at sector 0 and would otherwise be mistaken for a real MBR.
package factory

import (
	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/open-edge-platform/totaldisk/internal/zone/gpt"
	"github.com/open-edge-platform/totaldisk/internal/zone/mbr"
)

const gptSignatureOffset = 512 // LBA 1 at the default 512-byte sector size

// Detect returns "gpt" if a valid GPT header signature is present at LBA 1,
// "mbr" if sector 0 carries the 0x55AA boot signature, or "unknown".
func Detect(content pipeline.Pipeline) string {
	sig := make([]byte, 8)
	if _, err := content.ReadAt(sig, gptSignatureOffset); err == nil && string(sig) == "EFI PART" {
		return "gpt"
	}

	bootSig := make([]byte, 2)
	if _, err := content.ReadAt(bootSig, 510); err == nil && bootSig[0] == 0x55 && bootSig[1] == 0xAA {
		return "mbr"
	}

	return "unknown"
}

// Open detects content's partition table format and parses it, assuming
// the conventional 512-byte logical sector size.
func Open(content pipeline.Pipeline) (zone.Table, error) {
	switch Detect(content) {
	case "gpt":
		return gpt.Parse(content, 512)
	case "mbr":
		return mbr.Parse(content, 512)
	default:
		return nil, tderrors.Wrap(tderrors.KindInvalidZoneTable, "detect", "no recognized partition table found", nil)
	}
}
