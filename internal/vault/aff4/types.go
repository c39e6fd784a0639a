package aff4

import (
	"encoding/binary"
	"strings"
)

// Compression identifies an AFF4 bevy segment's compression method.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
	CompressionSnappy
	CompressionLZ4
	CompressionUnknown
)

// compressionFromURI maps an aff4:compressionMethod object URI to a
// Compression value, per the AFF4 standard's well-known compressor URNs.
func compressionFromURI(uri string) Compression {
	switch {
	case strings.Contains(uri, "NullCompressor"), strings.Contains(uri, "stored"):
		return CompressionNone
	case strings.Contains(uri, "DeflateCompressor"), strings.Contains(uri, "deflate"):
		return CompressionDeflate
	case strings.Contains(uri, "SnappyCompressor"), strings.Contains(uri, "snappy"):
		return CompressionSnappy
	case strings.Contains(uri, "Lz4Compressor"), strings.Contains(uri, "lz4"):
		return CompressionLZ4
	default:
		return CompressionUnknown
	}
}

// imageStream is an AFF4 ImageStream object's metadata (§4.2.4).
type imageStream struct {
	urn               string
	size              uint64
	chunkSize         uint32
	chunksPerSegment  uint32
	compression       Compression
}

func newImageStream(urn string) *imageStream {
	return &imageStream{
		urn:              urn,
		chunkSize:        32768,
		chunksPerSegment: 2048,
		compression:      CompressionDeflate,
	}
}

// volume is an AFF4 Zip volume's metadata: creation info plus the image
// streams it carries.
type volume struct {
	streams []*imageStream
}

// statement is a simplified RDF triple (subject, predicate, object).
type statement struct {
	subject   string
	predicate string
	object    string
}

// bevyIndexEntry locates one chunk within its bevy segment (§4.2.4): a
// 12-byte little-endian (offset uint64, length uint32) pair.
type bevyIndexEntry struct {
	offset uint64
	length uint32
}

const bevyIndexEntrySize = 12

func parseBevyIndexEntry(b []byte) bevyIndexEntry {
	return bevyIndexEntry{
		offset: binary.LittleEndian.Uint64(b[0:8]),
		length: binary.LittleEndian.Uint32(b[8:12]),
	}
}
