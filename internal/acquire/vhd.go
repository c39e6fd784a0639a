package acquire

import (
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

// VHD on-disk layout constants mirror internal/vault/vhd's reader, so a file
// produced here parses back through that package unmodified. They are
// re-declared locally since the reader's constants are unexported.
const (
	vhdFooterSize   = 512
	vhdHeaderSize   = 1024
	vhdCookieFooter = "conectix"
	vhdCookieHeader = "cxsparse"

	vhdDiskTypeFixed   = 2
	vhdDiskTypeDynamic = 3

	vhdUnallocatedBAT   = 0xFFFFFFFF
	vhdSectorBitmapSize = 512

	vhdEpochOffsetSec  = 946684800 // 2000-01-01T00:00:00Z, relative to the Unix epoch
	defaultVHDBlockSize = 2 << 20  // 2 MiB, the conventional dynamic-VHD block granularity
)

var vhdCreatorApp = [4]byte{'t', 'd', 's', 'k'}

// VHDResult extends Result with the total bytes written to the destination,
// which includes container overhead (footer, header, BAT, bitmaps) beyond
// the logical source bytes acquired.
type VHDResult struct {
	Result
	BytesWritten int64
}

// zeroReader yields an endless stream of zero bytes, used to pad a fixed
// VHD's data region out to the declared disk size when the source is
// shorter than that size.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// WriteFixedVHD copies sourceSize bytes from source (padding with zeros if
// the source is shorter) followed by a 512-byte VHD footer, producing a
// fixed-size VHD image.
func WriteFixedVHD(source io.Reader, sourceSize int64, dest io.Writer, opts tdconfig.AcquireOptions, progress Callback, cancel *atomic.Bool) (*VHDResult, error) {
	padded := io.MultiReader(source, zeroReader{})
	copyOpts := opts
	copyOpts.ByteLimit = sourceSize

	result, err := AcquireStream(padded, dest, copyOpts, progress, cancel)
	if err != nil {
		return nil, err
	}

	footer := buildFooter(vhdDiskTypeFixed, sourceSize, vhdFooterSize)
	if _, err := dest.Write(footer); err != nil {
		return nil, tderrors.Wrap(tderrors.KindWriteError, "footer", "failed to write VHD footer", err)
	}

	return &VHDResult{Result: *result, BytesWritten: result.BytesAcquired + vhdFooterSize}, nil
}

// WriteDynamicVHD scans source in two passes: the first determines which
// blocks are entirely zero (left unallocated) and builds the Block
// Allocation Table, the second writes the footer, dynamic header, BAT, and
// the allocated blocks themselves (each preceded by an all-present sector
// bitmap). source must support Seek so the scan and write passes can each
// read from the beginning.
func WriteDynamicVHD(source io.ReadSeeker, sourceSize int64, dest io.Writer, opts tdconfig.AcquireOptions, progress Callback, cancel *atomic.Bool) (*VHDResult, error) {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = defaultVHDBlockSize
	}

	numBlocks := (sourceSize + blockSize - 1) / blockSize
	batSize := alignUp(numBlocks*4, 512)
	bitmapSize := alignUp((blockSize/512+7)/8, 512)

	bat := make([]uint32, numBlocks)
	hasher := newMultiHasher(opts.Algorithms)
	buf := make([]byte, blockSize)

	start := time.Now()
	var totalPtr *int64
	total := sourceSize
	totalPtr = &total

	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to seek source for VHD scan pass", err)
	}

	currentOffset := int64(vhdFooterSize) + vhdHeaderSize + batSize
	var scanned int64
	for i := int64(0); i < numBlocks; i++ {
		if cancel != nil && cancel.Load() {
			return nil, tderrors.Wrap(tderrors.KindCancelled, "acquire", "acquisition cancelled", nil)
		}

		for j := range buf {
			buf[j] = 0
		}
		toRead := blockSize
		if remaining := sourceSize - scanned; remaining < toRead {
			toRead = remaining
		}
		if _, err := io.ReadFull(source, buf[:toRead]); err != nil && err != io.ErrUnexpectedEOF {
			return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to read source block during VHD scan", err)
		}
		scanned += toRead

		hasher.Write(buf[:toRead])

		if allZero(buf) {
			bat[i] = vhdUnallocatedBAT
		} else {
			bat[i] = uint32(currentOffset / 512)
			currentOffset += bitmapSize + blockSize
		}

		report(progress, totalPtr, scanned, start, "scanning")
	}

	if err := writeDynamicContainer(dest, sourceSize, blockSize, numBlocks); err != nil {
		return nil, err
	}
	if err := writeBAT(dest, bat, batSize); err != nil {
		return nil, err
	}

	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to seek source for VHD write pass", err)
	}

	bytesWritten := int64(vhdFooterSize) + vhdHeaderSize + batSize
	var written int64
	for i := int64(0); i < numBlocks; i++ {
		if cancel != nil && cancel.Load() {
			return nil, tderrors.Wrap(tderrors.KindCancelled, "acquire", "acquisition cancelled", nil)
		}

		for j := range buf {
			buf[j] = 0
		}
		toRead := blockSize
		if remaining := sourceSize - written; remaining < toRead {
			toRead = remaining
		}
		if _, err := io.ReadFull(source, buf[:toRead]); err != nil && err != io.ErrUnexpectedEOF {
			return nil, tderrors.Wrap(tderrors.KindReadError, "source", "failed to read source block during VHD write", err)
		}
		written += toRead

		if bat[i] != vhdUnallocatedBAT {
			bitmap := make([]byte, bitmapSize)
			for j := range bitmap {
				bitmap[j] = 0xFF
			}
			if _, err := dest.Write(bitmap); err != nil {
				return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to write sector bitmap", err)
			}
			if _, err := dest.Write(buf); err != nil {
				return nil, tderrors.Wrap(tderrors.KindWriteError, "dest", "failed to write VHD block", err)
			}
			bytesWritten += bitmapSize + blockSize
		}

		report(progress, totalPtr, written, start, "writing")
	}

	footer := buildFooter(vhdDiskTypeDynamic, sourceSize, int64(vhdFooterSize))
	if _, err := dest.Write(footer); err != nil {
		return nil, tderrors.Wrap(tderrors.KindWriteError, "footer", "failed to write trailing VHD footer", err)
	}
	bytesWritten += vhdFooterSize

	elapsed := time.Since(start)
	result := Result{
		BytesAcquired: sourceSize,
		Hashes:        hasher.Finalize(),
		Elapsed:       elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		result.BytesPerSecond = float64(sourceSize) / secs
	}

	return &VHDResult{Result: result, BytesWritten: bytesWritten}, nil
}

func alignUp(n, multiple int64) int64 {
	if n%multiple == 0 {
		return n
	}
	return (n/multiple + 1) * multiple
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// buildFooter serializes a 512-byte VHD footer, matching the field layout
// internal/vault/vhd parses.
func buildFooter(diskType uint32, currentSize int64, dataOffsetForDynamic int64) []byte {
	buf := make([]byte, vhdFooterSize)
	copy(buf[0:8], vhdCookieFooter)
	binary.BigEndian.PutUint32(buf[8:12], 2) // Features: reserved bit set
	binary.BigEndian.PutUint32(buf[12:16], 0x00010000)

	var dataOffset uint64 = 0xFFFFFFFFFFFFFFFF
	if diskType != vhdDiskTypeFixed {
		dataOffset = uint64(dataOffsetForDynamic)
	}
	binary.BigEndian.PutUint64(buf[16:24], dataOffset)

	timestamp := uint32(time.Now().Unix() - vhdEpochOffsetSec)
	binary.BigEndian.PutUint32(buf[24:28], timestamp)
	copy(buf[28:32], vhdCreatorApp[:])
	binary.BigEndian.PutUint32(buf[32:36], 0x00010000)
	copy(buf[36:40], "Wi2k")

	binary.BigEndian.PutUint64(buf[40:48], uint64(currentSize))
	binary.BigEndian.PutUint64(buf[48:56], uint64(currentSize))

	cyl, heads, spt := calculateCHS(currentSize / 512)
	binary.BigEndian.PutUint16(buf[56:58], cyl)
	buf[58] = heads
	buf[59] = spt

	binary.BigEndian.PutUint32(buf[60:64], diskType)

	id := uuid.New()
	copy(buf[68:84], id[:])

	checksum := oneComplementSum(buf, 64)
	binary.BigEndian.PutUint32(buf[64:68], checksum)

	return buf
}

func writeDynamicContainer(dest io.Writer, sourceSize, blockSize, numBlocks int64) error {
	footer := buildFooter(vhdDiskTypeDynamic, sourceSize, vhdFooterSize)
	if _, err := dest.Write(footer); err != nil {
		return tderrors.Wrap(tderrors.KindWriteError, "footer", "failed to write VHD footer", err)
	}

	header := make([]byte, vhdHeaderSize)
	copy(header[0:8], vhdCookieHeader)
	binary.BigEndian.PutUint64(header[8:16], 0xFFFFFFFFFFFFFFFF) // no parent
	binary.BigEndian.PutUint64(header[16:24], uint64(vhdFooterSize+vhdHeaderSize))
	binary.BigEndian.PutUint32(header[24:28], 0x00010000)
	binary.BigEndian.PutUint32(header[28:32], uint32(numBlocks))
	binary.BigEndian.PutUint32(header[32:36], uint32(blockSize))

	checksum := oneComplementSum(header, 36)
	binary.BigEndian.PutUint32(header[36:40], checksum)

	if _, err := dest.Write(header); err != nil {
		return tderrors.Wrap(tderrors.KindWriteError, "header", "failed to write VHD dynamic header", err)
	}
	return nil
}

func writeBAT(dest io.Writer, bat []uint32, batSize int64) error {
	buf := make([]byte, batSize)
	for i, entry := range bat {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], entry)
	}
	for i := len(bat) * 4; i < len(buf); i++ {
		buf[i] = 0xFF
	}
	if _, err := dest.Write(buf); err != nil {
		return tderrors.Wrap(tderrors.KindWriteError, "bat", "failed to write block allocation table", err)
	}
	return nil
}

// oneComplementSum matches internal/vault/vhd's footer/header checksum
// algorithm: the ones' complement of the byte sum with the checksum field
// itself treated as zero.
func oneComplementSum(buf []byte, checksumOff int) uint32 {
	var sum uint32
	for i, b := range buf {
		if i >= checksumOff && i < checksumOff+4 {
			continue
		}
		sum += uint32(b)
	}
	return ^sum
}

// calculateCHS computes the VHD footer's CHS geometry fields from a total
// sector count, following the standard VHD geometry algorithm (three tiers
// by disk size, heads capped at 16, sectors-per-track capped at 255).
func calculateCHS(totalSectors int64) (cylinders uint16, heads uint8, sectorsPerTrack uint8) {
	const maxSectors = 65535 * 16 * 255
	if totalSectors > maxSectors {
		totalSectors = maxSectors
	}

	var cylTimesHeads int64
	if totalSectors >= 65535*16*63 {
		sectorsPerTrack = 255
		heads = 16
		cylTimesHeads = totalSectors / int64(sectorsPerTrack)
	} else {
		sectorsPerTrack = 17
		cylTimesHeads = totalSectors / int64(sectorsPerTrack)
		h := (cylTimesHeads + 1023) / 1024
		if h < 4 {
			h = 4
		}
		heads = uint8(h)

		if cylTimesHeads >= int64(heads)*1024 || heads > 16 {
			sectorsPerTrack = 31
			heads = 16
			cylTimesHeads = totalSectors / int64(sectorsPerTrack)
		}
		if cylTimesHeads >= int64(heads)*1024 {
			sectorsPerTrack = 63
			heads = 16
			cylTimesHeads = totalSectors / int64(sectorsPerTrack)
		}
	}

	cyl := cylTimesHeads / int64(heads)
	if cyl > 65535 {
		cyl = 65535
	}
	return uint16(cyl), heads, sectorsPerTrack
}
