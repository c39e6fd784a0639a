package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ZoneInfo is the CLI-facing rendering of a zone.Zone, with GPT attribute
// bits decoded the way imageinspect already does for its own disks.
type ZoneInfo struct {
	Index                  int    `json:"index" yaml:"index"`
	Offset                 uint64 `json:"offset" yaml:"offset"`
	Length                 uint64 `json:"length" yaml:"length"`
	TypeName               string `json:"typeName" yaml:"typeName"`
	DetectedTerritory      string `json:"detectedTerritory,omitempty" yaml:"detectedTerritory,omitempty"`
	GUID                   string `json:"guid,omitempty" yaml:"guid,omitempty"`
	Name                   string `json:"name,omitempty" yaml:"name,omitempty"`
	AttrRequired           bool   `json:"attrRequired,omitempty" yaml:"attrRequired,omitempty"`
	AttrLegacyBIOSBootable bool   `json:"attrLegacyBiosBootable,omitempty" yaml:"attrLegacyBiosBootable,omitempty"`
	AttrReadOnly           bool   `json:"attrReadOnly,omitempty" yaml:"attrReadOnly,omitempty"`
}

// FreeSpan is the largest unallocated byte range within a zone table.
type FreeSpan struct {
	StartByte uint64 `json:"startByte" yaml:"startByte"`
	SizeBytes uint64 `json:"sizeBytes" yaml:"sizeBytes"`
}

// ZoneTableInfo is the CLI-facing rendering of a zone.Table.
type ZoneTableInfo struct {
	Kind            string     `json:"kind" yaml:"kind"`
	SectorSize      uint32     `json:"sectorSize" yaml:"sectorSize"`
	Zones           []ZoneInfo `json:"zones" yaml:"zones"`
	LargestFreeSpan *FreeSpan  `json:"largestFreeSpan,omitempty" yaml:"largestFreeSpan,omitempty"`
}

// gptAttrRequired etc. mirror the GPT attribute bitfield (UEFI spec table
// "GPT Partition Entry Attributes"): bit 0 is platform-required, bit 2 is
// legacy BIOS bootable, bit 60 is the basic-data-partition read-only flag.
const (
	gptAttrRequired           = 1 << 0
	gptAttrLegacyBIOSBootable = 1 << 2
	gptAttrReadOnly           = 1 << 60
)

func buildZoneInfo(z zone.Zone, tableKind string) ZoneInfo {
	info := ZoneInfo{
		Index:             z.Index,
		Offset:            z.Offset,
		Length:            z.Length,
		TypeName:          z.TypeName,
		DetectedTerritory: z.DetectedTerritory,
		GUID:              z.GUID,
		Name:              z.Name,
	}
	if tableKind == "gpt" {
		info.AttrRequired = z.Attributes&gptAttrRequired != 0
		info.AttrLegacyBIOSBootable = z.Attributes&gptAttrLegacyBIOSBootable != 0
		info.AttrReadOnly = z.Attributes&gptAttrReadOnly != 0
	}
	return info
}

func buildZoneTableInfo(zones []zone.Zone, kind string, sectorSize uint32, totalSizeBytes int64) ZoneTableInfo {
	info := ZoneTableInfo{Kind: kind, SectorSize: sectorSize}
	info.Zones = make([]ZoneInfo, len(zones))
	for i, z := range zones {
		info.Zones[i] = buildZoneInfo(z, kind)
	}
	info.LargestFreeSpan = computeLargestFreeSpan(zones, totalSizeBytes)
	return info
}

// computeLargestFreeSpan returns the largest unallocated byte extent
// between zones, or nil if the zones fully cover the vault.
func computeLargestFreeSpan(zones []zone.Zone, totalSizeBytes int64) *FreeSpan {
	if totalSizeBytes <= 0 {
		return nil
	}
	total := uint64(totalSizeBytes)

	sorted := make([]zone.Zone, len(zones))
	copy(sorted, zones)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Offset > sorted[j].Offset; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	var best *FreeSpan
	pick := func(start, end uint64) {
		if end <= start {
			return
		}
		span := &FreeSpan{StartByte: start, SizeBytes: end - start}
		if best == nil || span.SizeBytes > best.SizeBytes {
			best = span
		}
	}

	if len(sorted) == 0 {
		pick(0, total)
		return best
	}

	prevEnd := uint64(0)
	for i, z := range sorted {
		if i == 0 && z.Offset > 0 {
			pick(0, z.Offset)
		} else if z.Offset > prevEnd {
			pick(prevEnd, z.Offset)
		}
		if end := z.Offset + z.Length; end > prevEnd {
			prevEnd = end
		}
	}
	if prevEnd < total {
		pick(prevEnd, total)
	}
	return best
}

// writeFormatted writes v to w as text (via renderText), JSON, or YAML
// depending on format, matching the teacher's writeInspectionResult
// dispatch in cmd/os-image-composer's inspect_cmd.go.
func writeFormatted(w io.Writer, format string, v any, pretty bool, renderText func(io.Writer)) error {
	switch format {
	case "text":
		renderText(w)
		return nil
	case "json":
		var (
			b   []byte
			err error
		)
		if pretty {
			b, err = json.MarshalIndent(v, "", "  ")
		} else {
			b, err = json.Marshal(v)
		}
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(w, string(b))
		return nil
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		_, _ = fmt.Fprintln(w, string(b))
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// validateFormat returns a PreRunE func rejecting anything but
// text/json/yaml for the flag pointed to by format, matching
// inspect_cmd.go's inline PreRunE.
func validateFormat(format *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		switch *format {
		case "text", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", *format)
		}
	}
}
