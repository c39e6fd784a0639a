// Package territory defines the filesystem decoder contract (§3, §4.4):
// a Territory enumerates and extracts files from a zone's logical content,
// whatever the on-disk filesystem (FAT, exFAT, ISO-9660, NTFS).
package territory

import "time"

// Occupant is one directory entry: a file or subdirectory within a
// Territory, independent of the underlying filesystem's on-disk shape.
type Occupant struct {
	Name        string
	IsDirectory bool
	SizeBytes   int64
	ModTime     time.Time
	Attributes  uint32
}

// Territory is the capability interface exposed to callers past the
// per-filesystem packages.
type Territory interface {
	// Kind returns a short identifier string for this filesystem.
	Kind() string

	// List returns the occupants of dir ("" or "/" for the root).
	// Path components are matched case-insensitively, matching the
	// case-insensitive on-disk filesystems in scope.
	List(dir string) ([]Occupant, error)

	// ReadFile returns the full contents of the file at path.
	ReadFile(path string) ([]byte, error)

	// Stat returns the Occupant for path, whether file or directory.
	Stat(path string) (Occupant, error)
}
