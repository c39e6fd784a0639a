// Package vhd implements the Microsoft Virtual Hard Disk container format
// (§4.2.2): fixed, dynamic, and differencing VHDs, including Block
// Allocation Table translation and differencing-parent chain resolution.
package vhd

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
)

const (
	platformCodeRelative = "W2ru"
	platformCodeAbsolute = "W2ku"
)

// Vault implements vault.Vault for the VHD container family.
type Vault struct {
	backing pipeline.Pipeline
	footer  *footer
	header  *dynamicHeader
	bat     []uint32
	parent  *Vault // non-nil only for differencing disks

	dir   string // directory of the file this vault was opened from, for relative parent resolution
	depth int
}

// Open parses path as a VHD (fixed, dynamic, or differencing), recursively
// resolving parent disks for differencing chains up to
// tdconfig.MaxVHDChainDepth.
func Open(path string, cfg tdconfig.VaultOpenConfig) (*Vault, error) {
	backing, err := openBacking(path, cfg)
	if err != nil {
		return nil, err
	}
	v, err := FromPipeline(backing)
	if err != nil {
		backing.Close()
		return nil, err
	}
	v.dir = filepath.Dir(path)

	if v.footer.DiskType == diskTypeDifferencing {
		if err := v.resolveParent(cfg, 0); err != nil {
			backing.Close()
			return nil, err
		}
	}
	return v, nil
}

func openBacking(path string, cfg tdconfig.VaultOpenConfig) (pipeline.Pipeline, error) {
	if cfg.UseMmap {
		return pipeline.OpenMmapPipeline(path)
	}
	return pipeline.OpenFilePipeline(path)
}

// FromPipeline parses an already-open backing pipeline as a VHD, without
// resolving any differencing parent (used for manufactured test images and
// by Open before it descends the parent chain).
func FromPipeline(backing pipeline.Pipeline) (*Vault, error) {
	length := backing.Length()
	if length < footerSize {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "length", "file too small to contain a VHD footer", nil)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := backing.ReadAt(footerBuf, length-footerSize); err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "footer", "failed to read trailing footer", err)
	}
	f, err := parseFooter(footerBuf)
	if err != nil {
		// Fixed-disk footers may also be mirrored at offset 0; dynamic and
		// differencing disks always carry the copy at the front too, so
		// retry there before giving up.
		headBuf := make([]byte, footerSize)
		if _, herr := backing.ReadAt(headBuf, 0); herr == nil {
			if hf, herr2 := parseFooter(headBuf); herr2 == nil {
				f = hf
				err = nil
			}
		}
		if err != nil {
			return nil, err
		}
	}

	v := &Vault{backing: backing, footer: f}

	if f.DiskType == diskTypeDynamic || f.DiskType == diskTypeDifferencing {
		headerBuf := make([]byte, headerSize)
		if _, err := backing.ReadAt(headerBuf, int64(f.DataOffset)); err != nil {
			return nil, tderrors.Wrap(tderrors.KindInvalidVault, "dynamic_header", "failed to read dynamic header", err)
		}
		h, err := parseDynamicHeader(headerBuf)
		if err != nil {
			return nil, err
		}
		v.header = h

		if h.MaxTableEntries > 16*1024*1024 {
			return nil, tderrors.Wrap(tderrors.KindInvalidVault, "max_table_entries", "implausible BAT entry count", nil)
		}
		bat := make([]uint32, h.MaxTableEntries)
		batBuf := make([]byte, int64(h.MaxTableEntries)*4)
		if len(batBuf) > 0 {
			if _, err := backing.ReadAt(batBuf, int64(h.TableOffset)); err != nil {
				return nil, tderrors.Wrap(tderrors.KindInvalidVault, "bat", "failed to read block allocation table", err)
			}
		}
		for i := range bat {
			bat[i] = binary.BigEndian.Uint32(batBuf[i*4 : i*4+4])
		}
		v.bat = bat
	}

	return v, nil
}

func (v *Vault) Identify() string {
	switch v.footer.DiskType {
	case diskTypeFixed:
		return "vhd-fixed"
	case diskTypeDynamic:
		return "vhd-dynamic"
	case diskTypeDifferencing:
		return "vhd-differencing"
	default:
		return "vhd"
	}
}

func (v *Vault) Length() int64 { return int64(v.footer.CurrentSize) }

func (v *Vault) Close() error {
	var err error
	if v.parent != nil {
		err = v.parent.Close()
	}
	if cerr := v.backing.Close(); err == nil {
		err = cerr
	}
	return err
}

func (v *Vault) Content() (pipeline.Pipeline, error) {
	return &blockPipeline{v: v}, nil
}

// resolveParent locates and opens the parent disk of a differencing VHD,
// preferring an absolute locator over a relative one, and recursing.
func (v *Vault) resolveParent(cfg tdconfig.VaultOpenConfig, depth int) error {
	if depth >= tdconfig.MaxVHDChainDepth {
		return tderrors.Wrap(tderrors.KindInvalidVault, "parent_chain", "differencing chain exceeds maximum depth", nil)
	}
	if v.header == nil || len(v.header.ParentLocators) == 0 {
		return tderrors.Wrap(tderrors.KindInvalidVault, "parent_locator", "differencing disk has no parent locator", nil)
	}

	var best *parentLocator
	for i := range v.header.ParentLocators {
		loc := &v.header.ParentLocators[i]
		if loc.PlatformCode == platformCodeAbsolute {
			best = loc
			break
		}
		if loc.PlatformCode == platformCodeRelative && best == nil {
			best = loc
		}
	}
	if best == nil {
		return tderrors.Wrap(tderrors.KindInvalidVault, "parent_locator", "no usable parent locator platform code", nil)
	}

	nameBuf := make([]byte, best.PlatformDataLength)
	if len(nameBuf) > 0 {
		if _, err := v.backing.ReadAt(nameBuf, int64(best.PlatformDataOffset)); err != nil {
			return tderrors.Wrap(tderrors.KindInvalidVault, "parent_locator", "failed to read parent path", err)
		}
	}
	parentPath := decodeUTF16Path(nameBuf)
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(v.dir, parentPath)
	}

	parentBacking, err := openBacking(parentPath, cfg)
	if err != nil {
		return tderrors.Wrap(tderrors.KindNotFound, "parent_path", fmt.Sprintf("differencing parent %q not found", parentPath), err)
	}
	parent, err := FromPipeline(parentBacking)
	if err != nil {
		parentBacking.Close()
		return err
	}
	parent.dir = filepath.Dir(parentPath)

	if parent.footer.DiskType == diskTypeDifferencing {
		if err := parent.resolveParent(cfg, depth+1); err != nil {
			parentBacking.Close()
			return err
		}
	}
	v.parent = parent
	return nil
}

func decodeUTF16Path(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.BigEndian.Uint16(b[i : i+2])
		if u == 0 {
			continue
		}
		units = append(units, u)
	}
	s := string(utf16.Decode(units))
	// Absolute Windows-platform locators are stored as file:// URLs.
	s = strings.TrimPrefix(s, "file:///")
	s = strings.TrimPrefix(s, "file://")
	return s
}

// blockPipeline implements pipeline.Pipeline over a VHD's logical disk
// content, translating offsets through the Block Allocation Table (for
// dynamic/differencing disks) and falling through to the parent chain for
// unallocated differencing blocks.
type blockPipeline struct {
	v   *Vault
	pos int64
}

func (b *blockPipeline) Length() int64   { return b.v.Length() }
func (b *blockPipeline) Position() int64 { return b.pos }
func (b *blockPipeline) Close() error    { return nil }

func (b *blockPipeline) Read(p []byte) (int, error) {
	n, err := b.ReadAt(p, b.pos)
	b.pos += int64(n)
	return n, err
}

func (b *blockPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = b.Length()
	default:
		return 0, fmt.Errorf("vhd pipeline: invalid whence %d", whence)
	}
	n := base + offset
	if n < 0 {
		return 0, fmt.Errorf("vhd pipeline: negative seek position")
	}
	b.pos = n
	return n, nil
}

func (b *blockPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.Length() {
		return 0, io.EOF
	}
	remaining := b.Length() - off
	want := p
	if int64(len(want)) > remaining {
		want = want[:remaining]
	}
	n, err := b.v.readLogical(want, off)
	if err != nil {
		return n, err
	}
	if len(want) < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readLogical fills buf from the disk's logical address space starting at
// off, dispatching on disk type. buf must not extend past Length().
func (v *Vault) readLogical(buf []byte, off int64) (int, error) {
	switch v.footer.DiskType {
	case diskTypeFixed:
		return v.backing.ReadAt(buf, off)
	case diskTypeDynamic, diskTypeDifferencing:
		return v.readDynamic(buf, off)
	default:
		return 0, tderrors.Wrap(tderrors.KindUnsupported, "disk_type", "unsupported VHD disk type", nil)
	}
}

// readDynamic reads buf from a dynamic or differencing disk's block
// allocation table, splitting the request at block boundaries.
func (v *Vault) readDynamic(buf []byte, off int64) (int, error) {
	blockSize := int64(v.header.BlockSize)
	sectorsPerBlock := blockSize / 512
	bitmapBytes := int64((sectorsPerBlock + 7) / 8)
	// VHD rounds the bitmap up to a 512-byte sector boundary.
	bitmapBytes = ((bitmapBytes + 511) / 512) * 512

	total := 0
	for total < len(buf) {
		cur := off + int64(total)
		blockIdx := cur / blockSize
		blockOff := cur % blockSize

		n := blockSize - blockOff
		remaining := int64(len(buf) - total)
		if n > remaining {
			n = remaining
		}

		if int(blockIdx) >= len(v.bat) {
			return total, tderrors.Wrap(tderrors.KindInvalidVault, "bat_index", "logical offset exceeds block allocation table", nil)
		}
		entry := v.bat[blockIdx]

		dst := buf[total : total+int(n)]

		if entry == unallocatedBAT {
			if v.parent != nil {
				if _, err := v.parent.readLogical(dst, cur); err != nil && err != io.EOF {
					return total, err
				}
			} else {
				for i := range dst {
					dst[i] = 0
				}
			}
		} else {
			physBlockStart := int64(entry)*512 + bitmapBytes
			if _, err := v.backing.ReadAt(dst, physBlockStart+blockOff); err != nil && err != io.EOF {
				return total, err
			}
		}

		total += int(n)
	}
	return total, nil
}
