// Package ntfs implements a minimal, read-only NTFS reader (§4.4.4): boot
// sector parsing, MFT record decoding with update-sequence fixups, resident
// and non-resident attribute access (including basic data-run resolution),
// and directory listing via a resident $INDEX_ROOT.
//
// No third-party Go library in the retrieved pack implements NTFS, so this
// is a from-scratch, intentionally minimal reader rather than a full
// filesystem driver: it covers small-to-moderate directories whose index
// fits entirely in $INDEX_ROOT and does not walk $INDEX_ALLOCATION B-tree
// buffers for directories too large to be resident.
package ntfs

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
)

const (
	rootRecordNumber = 5

	attrStandardInformation = 0x10
	attrFileName            = 0x30
	attrData                = 0x80
	attrIndexRoot           = 0x90
	attrEnd                 = 0xFFFFFFFF

	flagRecordInUse       = 0x0001
	flagRecordIsDirectory = 0x0002
	ntfsEpochOffsetSec    = 11644473600
)

// Territory implements territory.Territory over an NTFS volume.
type Territory struct {
	content pipeline.Pipeline

	bytesPerSector uint16
	bytesPerClus   uint32
	mftOffset      int64
	recordSize     uint32
}

// Open parses the NTFS boot sector and locates the $MFT.
func Open(content pipeline.Pipeline) (*Territory, error) {
	bs := make([]byte, 512)
	if _, err := content.ReadAt(bs, 0); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_sector", "failed to read boot sector", err)
	}
	if string(bs[3:11]) != "NTFS    " {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "oem_id", "not an NTFS volume", nil)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "boot_signature", "missing 0x55AA boot signature", nil)
	}

	bytesPerSector := binary.LittleEndian.Uint16(bs[11:13])
	sectorsPerCluster := bs[13]
	if bytesPerSector == 0 || sectorsPerCluster == 0 {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "bpb", "invalid bytes-per-sector or sectors-per-cluster", nil)
	}
	bytesPerClus := uint32(bytesPerSector) * uint32(sectorsPerCluster)

	mftLCN := binary.LittleEndian.Uint64(bs[48:56])
	clustersPerRecordRaw := int8(bs[64])

	var recordSize uint32
	if clustersPerRecordRaw < 0 {
		recordSize = 1 << uint(-clustersPerRecordRaw)
	} else {
		recordSize = uint32(clustersPerRecordRaw) * bytesPerClus
	}
	if recordSize == 0 || recordSize > tdconfig.UnrealisticSectorSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "mft_record_size", "unrealistic MFT record size", nil)
	}

	return &Territory{
		content:        content,
		bytesPerSector: bytesPerSector,
		bytesPerClus:   bytesPerClus,
		mftOffset:      int64(mftLCN) * int64(bytesPerClus),
		recordSize:     recordSize,
	}, nil
}

func (t *Territory) Kind() string { return "ntfs" }

// mftRecord is a parsed, fixed-up MFT record with its attributes decoded
// into a flat list for lookup by type code.
type mftRecord struct {
	attrs []attribute
}

type attribute struct {
	typeCode   uint32
	nonResCode byte
	resident   []byte
	dataRuns   []dataRun
}

type dataRun struct {
	lcn    int64 // -1 marks a sparse run
	length uint64
	sparse bool
}

// readRawMFTRecord reads one MFT record by number directly from the $MFT's
// own location, applying update-sequence fixups (§6.3 of the specification).
// This only works for records that lie within the first contiguous run the
// boot sector points to; the $MFT's own data runs for records far from the
// start of a fragmented MFT are not resolved, a known limitation of this
// minimal reader.
func (t *Territory) readRawMFTRecord(number uint64) ([]byte, error) {
	off := t.mftOffset + int64(number)*int64(t.recordSize)
	raw := make([]byte, t.recordSize)
	if _, err := t.content.ReadAt(raw, off); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "mft_record", "failed to read MFT record", err)
	}
	if string(raw[0:4]) != "FILE" {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "mft_record", fmt.Sprintf("MFT record %d has no FILE signature", number), nil)
	}

	usaOffset := binary.LittleEndian.Uint16(raw[4:6])
	usaCount := binary.LittleEndian.Uint16(raw[6:8])
	if usaCount > 0 {
		usaArray := raw[usaOffset : usaOffset+uint16(usaCount)*2]
		for i := 1; i < int(usaCount); i++ {
			sectorEnd := i*int(t.bytesPerSector) - 2
			if sectorEnd+2 > len(raw) {
				break
			}
			copy(raw[sectorEnd:sectorEnd+2], usaArray[i*2:i*2+2])
		}
	}

	return raw, nil
}

func (t *Territory) parseRecord(raw []byte) (*mftRecord, error) {
	flags := binary.LittleEndian.Uint16(raw[22:24])
	if flags&flagRecordInUse == 0 {
		return nil, tderrors.Wrap(tderrors.KindNotFound, "mft_record", "MFT record is not in use", nil)
	}

	rec := &mftRecord{}

	off := uint32(binary.LittleEndian.Uint16(raw[20:22]))
	for int(off)+8 <= len(raw) {
		typeCode := binary.LittleEndian.Uint32(raw[off : off+4])
		if typeCode == attrEnd {
			break
		}
		length := binary.LittleEndian.Uint32(raw[off+4 : off+8])
		if length == 0 || int(off+length) > len(raw) {
			break
		}
		attrBuf := raw[off : off+length]
		nonRes := attrBuf[8]

		a := attribute{typeCode: typeCode, nonResCode: nonRes}
		if nonRes == 0 {
			valueLen := binary.LittleEndian.Uint32(attrBuf[16:20])
			valueOff := binary.LittleEndian.Uint16(attrBuf[20:22])
			if int(valueOff)+int(valueLen) <= len(attrBuf) {
				a.resident = attrBuf[valueOff : valueOff+uint16(valueLen)]
			}
		} else {
			runsOff := binary.LittleEndian.Uint16(attrBuf[32:34])
			if int(runsOff) < len(attrBuf) {
				a.dataRuns = parseDataRuns(attrBuf[runsOff:])
			}
		}
		rec.attrs = append(rec.attrs, a)
		off += length
	}

	return rec, nil
}

func parseDataRuns(buf []byte) []dataRun {
	var runs []dataRun
	var lcn int64
	i := 0
	for i < len(buf) {
		header := buf[i]
		if header == 0 {
			break
		}
		lengthSize := int(header & 0x0F)
		offsetSize := int(header >> 4)
		i++
		if i+lengthSize+offsetSize > len(buf) {
			break
		}

		length := readLEUint(buf[i : i+lengthSize])
		i += lengthSize

		sparse := offsetSize == 0
		if !sparse {
			delta := readLESigned(buf[i : i+offsetSize])
			i += offsetSize
			lcn += delta
		}

		runs = append(runs, dataRun{lcn: lcn, length: length, sparse: sparse})
	}
	return runs
}

func readLEUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func readLESigned(b []byte) int64 {
	v := readLEUint(b)
	bits := uint(len(b) * 8)
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return int64(v)
}

func (t *Territory) findAttr(rec *mftRecord, typeCode uint32) *attribute {
	for i := range rec.attrs {
		if rec.attrs[i].typeCode == typeCode {
			return &rec.attrs[i]
		}
	}
	return nil
}

// readAttributeData returns an attribute's full logical content, resolving
// non-resident data runs against cluster offsets.
func (t *Territory) readAttributeData(a *attribute, size int64) ([]byte, error) {
	if a.nonResCode == 0 {
		if int64(len(a.resident)) < size {
			return a.resident, nil
		}
		return a.resident[:size], nil
	}

	out := make([]byte, 0, size)
	for _, run := range a.dataRuns {
		if int64(len(out)) >= size {
			break
		}
		runBytes := int64(run.length) * int64(t.bytesPerClus)
		if run.sparse || run.lcn < 0 {
			out = append(out, make([]byte, runBytes)...)
			continue
		}
		chunk := make([]byte, runBytes)
		if _, err := t.content.ReadAt(chunk, run.lcn*int64(t.bytesPerClus)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "data_run", "failed to read non-resident data run", err)
		}
		out = append(out, chunk...)
	}
	if int64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

type fileNameAttr struct {
	parentRef  uint64
	name       string
	attributes uint32
	realSize   uint64
	modTime    time.Time
}

func parseFileName(v []byte) *fileNameAttr {
	if len(v) < 66 {
		return nil
	}
	parentRef := binary.LittleEndian.Uint64(v[0:8]) & 0x0000FFFFFFFFFFFF
	modTime := ntfsTimeToUTC(binary.LittleEndian.Uint64(v[16:24]))
	fileAttrs := binary.LittleEndian.Uint32(v[56:60])
	nameLen := int(v[64])
	if 66+nameLen*2 > len(v) {
		return nil
	}
	units := make([]uint16, nameLen)
	for i := 0; i < nameLen; i++ {
		units[i] = binary.LittleEndian.Uint16(v[66+i*2 : 68+i*2])
	}
	return &fileNameAttr{
		parentRef:  parentRef,
		name:       string(utf16.Decode(units)),
		attributes: fileAttrs,
		realSize:   binary.LittleEndian.Uint64(v[48:56]),
		modTime:    modTime,
	}
}

func ntfsTimeToUTC(raw uint64) time.Time {
	if raw == 0 {
		return time.Time{}
	}
	secs := int64(raw/10_000_000) - ntfsEpochOffsetSec
	nanos := int64(raw%10_000_000) * 100
	return time.Unix(secs, nanos).UTC()
}

type indexListing struct {
	name       string
	isDir      bool
	mftRecord  uint64
	size       uint64
	attributes uint32
	modTime    time.Time
}

// listIndexRoot decodes the resident $INDEX_ROOT directory index.
// Directories whose full listing doesn't fit resident (large index flag
// set, requiring $INDEX_ALLOCATION) are not supported by this minimal
// reader and return a KindUnsupported error.
func (t *Territory) listIndexRoot(rec *mftRecord) ([]indexListing, error) {
	a := t.findAttr(rec, attrIndexRoot)
	if a == nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "index_root", "directory record has no $INDEX_ROOT attribute", nil)
	}
	v := a.resident
	if len(v) < 32 {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "index_root", "$INDEX_ROOT attribute too short", nil)
	}

	headerStart := 16
	flags := v[headerStart+12]
	if flags&0x01 != 0 {
		return nil, tderrors.Wrap(tderrors.KindUnsupported, "index_allocation", "directory index requires $INDEX_ALLOCATION, which this reader does not walk", nil)
	}

	firstEntry := binary.LittleEndian.Uint32(v[headerStart : headerStart+4])
	totalSize := binary.LittleEndian.Uint32(v[headerStart+4 : headerStart+8])

	var out []indexListing
	off := headerStart + int(firstEntry)
	end := headerStart + int(totalSize)
	if end > len(v) {
		end = len(v)
	}

	for off+16 <= end {
		fileRef := binary.LittleEndian.Uint64(v[off : off+8])
		entryLen := binary.LittleEndian.Uint16(v[off+8 : off+10])
		entryFlags := binary.LittleEndian.Uint16(v[off+12 : off+14])
		if entryFlags&0x02 != 0 || entryLen < 16 {
			break
		}
		if off+int(entryLen) > len(v) {
			break
		}

		fn := parseFileName(v[off+16 : off+int(entryLen)])
		// Namespace 2 is a DOS-only 8.3 alias; the same file also has a
		// separate Win32 name entry, which is the one listed.
		if fn != nil && fn.name != "." && v[off+16+65] != 2 {
			out = append(out, indexListing{
				name:       fn.name,
				isDir:      fn.attributes&0x10000000 != 0 || fn.attributes&0x10 != 0,
				mftRecord:  fileRef & 0x0000FFFFFFFFFFFF,
				size:       fn.realSize,
				attributes: fn.attributes,
				modTime:    fn.modTime,
			})
		}
		off += int(entryLen)
	}

	return out, nil
}

func (t *Territory) readRecordByNumber(number uint64) (*mftRecord, error) {
	raw, err := t.readRawMFTRecord(number)
	if err != nil {
		return nil, err
	}
	return t.parseRecord(raw)
}

func toOccupant(e indexListing) territory.Occupant {
	return territory.Occupant{
		Name:        e.name,
		IsDirectory: e.isDir,
		SizeBytes:   int64(e.size),
		ModTime:     e.modTime,
		Attributes:  e.attributes,
	}
}

func (t *Territory) resolve(p string) (uint64, *indexListing, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0, nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "empty path", nil)
	}
	parts := strings.Split(p, "/")

	dirNum := uint64(rootRecordNumber)
	var found *indexListing

	for i, part := range parts {
		rec, err := t.readRecordByNumber(dirNum)
		if err != nil {
			return 0, nil, err
		}
		entries, err := t.listIndexRoot(rec)
		if err != nil {
			return 0, nil, err
		}

		var match *indexListing
		for j := range entries {
			if strings.EqualFold(entries[j].name, part) {
				match = &entries[j]
				break
			}
		}
		if match == nil {
			return 0, nil, tderrors.Wrap(tderrors.KindNotFound, "path", fmt.Sprintf("no such file or directory: %s", p), nil)
		}
		found = match
		if i == len(parts)-1 {
			return match.mftRecord, found, nil
		}
		if !match.isDir {
			return 0, nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", fmt.Sprintf("not a directory: %s", part), nil)
		}
		dirNum = match.mftRecord
	}

	return 0, nil, tderrors.Wrap(tderrors.KindNotFound, "path", "no such file or directory", nil)
}

func (t *Territory) List(dir string) ([]territory.Occupant, error) {
	dir = strings.Trim(dir, "/")
	dirNum := uint64(rootRecordNumber)

	if dir != "" {
		number, entry, err := t.resolve(dir)
		if err != nil {
			return nil, err
		}
		if entry != nil && !entry.isDir {
			return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "not a directory", nil)
		}
		dirNum = number
	}

	rec, err := t.readRecordByNumber(dirNum)
	if err != nil {
		return nil, err
	}
	entries, err := t.listIndexRoot(rec)
	if err != nil {
		return nil, err
	}

	out := make([]territory.Occupant, 0, len(entries))
	for _, e := range entries {
		out = append(out, toOccupant(e))
	}
	return out, nil
}

func (t *Territory) Stat(p string) (territory.Occupant, error) {
	_, e, err := t.resolve(p)
	if err != nil {
		return territory.Occupant{}, err
	}
	return toOccupant(*e), nil
}

func (t *Territory) ReadFile(p string) ([]byte, error) {
	number, entry, err := t.resolve(p)
	if err != nil {
		return nil, err
	}
	if entry.isDir {
		return nil, tderrors.Wrap(tderrors.KindInvalidPath, "path", "is a directory", nil)
	}
	if int64(entry.size) > tdconfig.MaxExtractBytes {
		return nil, tderrors.Wrap(tderrors.KindSizeMismatch, "size", "file exceeds maximum extraction size", nil)
	}

	rec, err := t.readRecordByNumber(number)
	if err != nil {
		return nil, err
	}
	a := t.findAttr(rec, attrData)
	if a == nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidTerritory, "data_attribute", "file record has no unnamed $DATA attribute", nil)
	}
	return t.readAttributeData(a, int64(entry.size))
}
