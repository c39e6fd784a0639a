// Package tdconfig holds the small, explicit option structs each decoder
// subsystem accepts, plus the named security-limit constants referenced
// throughout the core. These are compile-time constants, never
// runtime-mutable globals (§9 Design Notes: "Global state. None.").
package tdconfig

const (
	// MaxMmapFileSize caps the size of a file the mmap pipeline will map,
	// to prevent address-space exhaustion (§4.1).
	MaxMmapFileSize = 16 << 30 // 16 GiB

	// MaxFATTableBytes caps the in-memory FAT table read (§4.4.1).
	MaxFATTableBytes = 100 << 20 // 100 MiB

	// MaxExtractBytes caps a single file extraction from any territory
	// (FAT, exFAT, ISO 9660, NTFS).
	MaxExtractBytes = 1 << 30 // 1 GiB

	// MaxClusterChainLength bounds FAT/exFAT cluster-chain walks to break
	// corrupt-loop cycles even when the generation/visited-set check is
	// bypassed by a pathological cluster count.
	MaxClusterChainLength = 1_000_000

	// MaxVHDChainDepth caps VHD differencing-parent resolution depth.
	MaxVHDChainDepth = 256

	// MaxGPTEntries bounds the partition-entry array read from a GPT
	// header before its CRC has even been verified.
	MaxGPTEntries = 16384

	// AFF4ChunkCacheSize is the minimum LRU chunk cache size (§4.2.4).
	AFF4ChunkCacheSize = 16

	// UnrealisticSectorSize is rejected as a BPB/GPT logical sector size.
	UnrealisticSectorSize = 65536
)

// VaultOpenConfig controls how a Vault opens its backing file.
type VaultOpenConfig struct {
	// UseMmap selects the memory-mapped pipeline over a plain file
	// pipeline. Defaults to true; callers override for small files or
	// tests where mapping overhead isn't worth it.
	UseMmap bool
}

// DefaultVaultOpenConfig returns the spec's default: mmap enabled.
func DefaultVaultOpenConfig() VaultOpenConfig {
	return VaultOpenConfig{UseMmap: true}
}

// HashAlgorithm identifies a digest algorithm the Acquirer can compute.
type HashAlgorithm string

const (
	HashMD5    HashAlgorithm = "md5"
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
)

// AcquireOptions configures a single Acquirer run (§4.5).
type AcquireOptions struct {
	BlockSize       int64
	Algorithms      []HashAlgorithm
	SkipBadBlocks   bool
	VerifyAfterCopy bool
	SyncEachWrite   bool
	ByteLimit       int64 // 0 = no limit
	StartSkip       int64
	DestFormat      DestFormat
}

// DestFormat selects the acquisition output container.
type DestFormat string

const (
	DestRaw        DestFormat = "raw"
	DestVHDFixed   DestFormat = "vhd-fixed"
	DestVHDDynamic DestFormat = "vhd-dynamic"
)

// DefaultAcquireOptions matches the spec's stated defaults: 64 KiB blocks,
// no hashing, no skip, no verify.
func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		BlockSize:  64 << 10,
		DestFormat: DestRaw,
	}
}
