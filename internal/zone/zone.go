// Package zone defines the partition-table layer contract (§2, §4.3): a
// ZoneTable parses the first sectors of a vault's pipeline and enumerates
// Zones (partitions).
package zone

import "github.com/open-edge-platform/totaldisk/internal/pipeline"

// Zone is a single partition-table entry (§3). Offsets are byte-absolute
// within the parent vault.
type Zone struct {
	Index              int
	Offset             uint64
	Length             uint64
	TypeName           string
	DetectedTerritory  string // best-guess territory kind, empty if unknown
	GUID               string // GPT only
	Name               string // GPT only
	Attributes         uint64 // GPT only, raw attribute bitfield
}

// Table is a parsed partition table, the product of any ZoneTable
// implementation (MBR, GPT).
type Table interface {
	// Kind returns a short identifier ("mbr", "gpt").
	Kind() string

	// Zones returns the enumerated partitions in on-disk order.
	Zones() []Zone

	// SectorSize returns the logical sector size used to interpret LBAs.
	SectorSize() uint32
}

// Window returns a sub-pipeline over the vault's content pipeline
// covering z's byte range, the handoff point into the Territory layer.
func Window(content pipeline.Pipeline, z Zone) (pipeline.Pipeline, error) {
	return pipeline.Window(content, int64(z.Offset), int64(z.Length))
}
