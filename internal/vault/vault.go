// Package vault defines the container-format decoder contract (§2, §4.2):
// a Vault produces a pipeline view of a disk image's logical contents,
// whatever the on-disk container (raw, VHD, E01, AFF4).
package vault

import "github.com/open-edge-platform/totaldisk/internal/pipeline"

// Vault is the capability interface exposed to callers past the factory,
// hiding which concrete container format backs it (§9 Design Notes).
type Vault interface {
	// Identify returns a short identifier string for this vault's format.
	Identify() string

	// Length returns the logical (decompressed/virtual) size in bytes.
	Length() int64

	// Content returns a pipeline positioned at logical offset 0.
	Content() (pipeline.Pipeline, error)

	// Close releases any underlying file handles.
	Close() error
}
