// Package e01 implements the EnCase Expert Witness Compression Format
// (EWF/E01) container (§4.2.3): section-based layout, per-chunk zlib
// compression, and the volume/sectors/table section family.
package e01

import (
	"bytes"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
)

var log = logger.Logger()

const (
	fileHeaderSize = 13
	sectionSize    = 76
	tableHeaderSz  = 24

	// sectionChecksumOffset is where the trailing 4-byte Adler-32 lives
	// within a 76-byte section descriptor; the checksum covers the 72
	// bytes preceding it.
	sectionChecksumOffset = 72

	// compressedFlag is the libewf convention for a table entry's most
	// significant bit: set means the chunk is zlib-compressed, clear means
	// it is stored as raw sectors.
	compressedFlag = 0x80000000
	offsetMask     = 0x7FFFFFFF
)

var signature = [8]byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}

// chunkEntry locates one compressed or raw chunk within the backing file.
type chunkEntry struct {
	offset     int64
	length     int64
	compressed bool
}

// Vault implements vault.Vault for the EWF/E01 container.
type Vault struct {
	backing pipeline.Pipeline

	sectorsPerChunk uint32
	bytesPerSector  uint32
	sectorCount     uint64

	chunks []chunkEntry

	// single-chunk decode cache, since acquisition reads proceed
	// sequentially chunk by chunk.
	cacheIdx  int
	cacheData []byte
}

func Open(path string, useMmap bool) (*Vault, error) {
	var backing pipeline.Pipeline
	var err error
	if useMmap {
		backing, err = pipeline.OpenMmapPipeline(path)
	} else {
		backing, err = pipeline.OpenFilePipeline(path)
	}
	if err != nil {
		return nil, err
	}
	v, err := FromPipeline(backing)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return v, nil
}

// FromPipeline walks the section chain of an already-open backing pipeline.
func FromPipeline(backing pipeline.Pipeline) (*Vault, error) {
	if backing.Length() < fileHeaderSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "length", "file too small to contain an EWF header", nil)
	}

	hdrBuf := make([]byte, fileHeaderSize)
	if _, err := backing.ReadAt(hdrBuf, 0); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "header", "failed to read EWF file header", err)
	}
	if !bytes.Equal(hdrBuf[0:8], signature[:]) {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "signature", "missing EVF signature", nil)
	}

	v := &Vault{backing: backing, cacheIdx: -1}

	var tableOffsets []int64
	var sectorsOffset int64 = -1
	cur := int64(fileHeaderSize)
	cycles := 0
	for {
		cycles++
		if cycles > 1_000_000 {
			return nil, tderrors.Wrap(tderrors.KindInvalidVault, "section_chain", "section chain exceeds sanity bound", nil)
		}

		secBuf := make([]byte, sectionSize)
		if _, err := backing.ReadAt(secBuf, cur); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidVault, "section", "failed to read section descriptor", err)
		}

		typeDef := string(bytes.TrimRight(secBuf[0:16], "\x00"))
		nextOffset := int64(binary.LittleEndian.Uint64(secBuf[16:24]))
		size := int64(binary.LittleEndian.Uint64(secBuf[24:32]))

		if !sectionChecksumValid(secBuf) {
			if isCriticalSection(typeDef) {
				return nil, tderrors.Wrap(tderrors.KindChecksumMismatch, "section", "Adler-32 mismatch on consistency-critical section \""+typeDef+"\"", nil)
			}
			log.Warnf("e01: section %q at offset %d: Adler-32 mismatch, continuing", typeDef, cur)
		}

		switch typeDef {
		case "volume", "disk":
			if err := v.parseVolume(cur, size); err != nil {
				return nil, err
			}
		case "sectors":
			sectorsOffset = cur + sectionSize
		case "table":
			tableOffsets = append(tableOffsets, cur)
		}

		if typeDef == "done" || nextOffset == 0 || nextOffset == cur {
			break
		}
		cur = nextOffset
	}

	if v.sectorsPerChunk == 0 || v.bytesPerSector == 0 {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "volume_section", "missing volume/disk section", nil)
	}
	if sectorsOffset < 0 {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "sectors_section", "missing sectors section", nil)
	}

	for _, off := range tableOffsets {
		if err := v.parseTable(off, sectorsOffset); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// sectionChecksumValid verifies a 76-byte section descriptor's trailing
// Adler-32 over the 72 bytes preceding it.
func sectionChecksumValid(buf []byte) bool {
	want := binary.LittleEndian.Uint32(buf[sectionChecksumOffset : sectionChecksumOffset+4])
	got := adler32.Checksum(buf[0:sectionChecksumOffset])
	return want == got
}

// isCriticalSection reports whether a section descriptor checksum failure
// should fail the open outright rather than just be logged: the chunk
// offset table and the hash section are the only sections whose corruption
// would make subsequent reads return wrong data rather than just stale
// metadata.
func isCriticalSection(typeDef string) bool {
	switch typeDef {
	case "table", "table2", "hash":
		return true
	default:
		return false
	}
}

func (v *Vault) parseVolume(sectionStart, sectionSz int64) error {
	// Both the "volume" (94-byte) and "disk"/SMART (1052-byte) section
	// bodies share the same leading 28 bytes: media type, chunk sector
	// count, sector byte size, and total sector count.
	const commonPrefixLen = 28
	if sectionSz < sectionSize+commonPrefixLen {
		return tderrors.Wrap(tderrors.KindInvalidVault, "volume_section", "volume/disk section too small", nil)
	}
	buf := make([]byte, commonPrefixLen)
	if _, err := v.backing.ReadAt(buf, sectionStart+sectionSize); err != nil {
		return tderrors.Wrap(tderrors.KindInvalidVault, "volume_section", "failed to read volume/disk body", err)
	}
	v.sectorsPerChunk = binary.LittleEndian.Uint32(buf[4:8])
	v.bytesPerSector = binary.LittleEndian.Uint32(buf[8:12])
	v.sectorCount = binary.LittleEndian.Uint64(buf[12:20])
	return nil
}

func (v *Vault) parseTable(sectionStart, sectorsDataStart int64) error {
	hdrBuf := make([]byte, tableHeaderSz)
	if _, err := v.backing.ReadAt(hdrBuf, sectionStart+sectionSize); err != nil {
		return tderrors.Wrap(tderrors.KindInvalidVault, "table_section", "failed to read table header", err)
	}
	entryCount := binary.LittleEndian.Uint32(hdrBuf[0:4])
	if entryCount > 10_000_000 {
		return tderrors.Wrap(tderrors.KindInvalidVault, "table_entry_count", "implausible table entry count", nil)
	}

	entriesBuf := make([]byte, int64(entryCount)*4)
	if len(entriesBuf) > 0 {
		if _, err := v.backing.ReadAt(entriesBuf, sectionStart+sectionSize+tableHeaderSz); err != nil {
			return tderrors.Wrap(tderrors.KindInvalidVault, "table_entries", "failed to read table entries", err)
		}
	}

	raw := make([]uint32, entryCount)
	for i := range raw {
		raw[i] = binary.LittleEndian.Uint32(entriesBuf[i*4 : i*4+4])
	}

	for i, entry := range raw {
		off := sectorsDataStart + int64(entry&offsetMask)
		compressed := entry&compressedFlag != 0

		var length int64
		if i+1 < len(raw) {
			nextOff := sectorsDataStart + int64(raw[i+1]&offsetMask)
			length = nextOff - off
		} else {
			length = (sectionStart - off)
			if length <= 0 {
				// Single-table-section file: the chunk runs to the start
				// of the next section descriptor, which parseTable does
				// not know without a second pass; fall back to the
				// nominal uncompressed chunk size as an upper bound.
				length = int64(v.sectorsPerChunk) * int64(v.bytesPerSector)
			}
		}
		if length <= 0 {
			length = int64(v.sectorsPerChunk) * int64(v.bytesPerSector)
		}

		v.chunks = append(v.chunks, chunkEntry{offset: off, length: length, compressed: compressed})
	}
	return nil
}

func (v *Vault) Identify() string { return "e01" }

func (v *Vault) Length() int64 {
	return int64(v.sectorCount) * int64(v.bytesPerSector)
}

func (v *Vault) Close() error { return v.backing.Close() }

func (v *Vault) Content() (pipeline.Pipeline, error) {
	return &chunkPipeline{v: v}, nil
}

func (v *Vault) chunkSizeBytes() int64 {
	return int64(v.sectorsPerChunk) * int64(v.bytesPerSector)
}

// decodeChunk returns the decompressed contents of chunk idx, caching the
// most recently decoded chunk since reads proceed sequentially.
func (v *Vault) decodeChunk(idx int) ([]byte, error) {
	if idx == v.cacheIdx {
		return v.cacheData, nil
	}
	if idx < 0 || idx >= len(v.chunks) {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "chunk_index", "chunk index out of range", nil)
	}
	c := v.chunks[idx]

	raw := make([]byte, c.length)
	if _, err := v.backing.ReadAt(raw, c.offset); err != nil && err != io.EOF {
		return nil, tderrors.Wrap(tderrors.KindReadError, "chunk", "failed to read chunk bytes", err)
	}

	want := v.chunkSizeBytes()
	var data []byte
	if !c.compressed {
		data = raw
	} else {
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			log.Warnf("e01: chunk %d: zlib header invalid, substituting zero-fill: %v", idx, err)
			data = make([]byte, want)
		} else {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, r); err != nil {
				log.Warnf("e01: chunk %d: zlib stream corrupt, substituting zero-fill: %v", idx, err)
				data = make([]byte, want)
			} else {
				data = buf.Bytes()
			}
			r.Close()
		}
	}

	if int64(len(data)) < want {
		padded := make([]byte, want)
		copy(padded, data)
		data = padded
	} else if int64(len(data)) > want {
		data = data[:want]
	}

	v.cacheIdx = idx
	v.cacheData = data
	return data, nil
}

// chunkPipeline implements pipeline.Pipeline over an E01 Vault's logical
// (decompressed) disk content.
type chunkPipeline struct {
	v   *Vault
	pos int64
}

func (c *chunkPipeline) Length() int64   { return c.v.Length() }
func (c *chunkPipeline) Position() int64 { return c.pos }
func (c *chunkPipeline) Close() error    { return nil }

func (c *chunkPipeline) Read(p []byte) (int, error) {
	n, err := c.ReadAt(p, c.pos)
	c.pos += int64(n)
	return n, err
}

func (c *chunkPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = c.pos
	case io.SeekEnd:
		base = c.Length()
	default:
		return 0, tderrors.Wrap(tderrors.KindInvalidPath, "whence", "invalid seek whence", nil)
	}
	n := base + offset
	if n < 0 {
		return 0, tderrors.Wrap(tderrors.KindInvalidPath, "offset", "negative seek position", nil)
	}
	c.pos = n
	return n, nil
}

func (c *chunkPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= c.Length() {
		return 0, io.EOF
	}
	remaining := c.Length() - off
	want := p
	clipped := false
	if int64(len(want)) > remaining {
		want = want[:remaining]
		clipped = true
	}

	chunkSz := c.v.chunkSizeBytes()
	total := 0
	for total < len(want) {
		cur := off + int64(total)
		idx := int(cur / chunkSz)
		chunkOff := cur % chunkSz

		data, err := c.v.decodeChunk(idx)
		if err != nil {
			return total, err
		}

		n := chunkSz - chunkOff
		remain := int64(len(want) - total)
		if n > remain {
			n = remain
		}
		copy(want[total:total+int(n)], data[chunkOff:chunkOff+n])
		total += int(n)
	}

	if clipped {
		return total, io.EOF
	}
	return total, nil
}
