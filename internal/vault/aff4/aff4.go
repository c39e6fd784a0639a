// Package aff4 implements the Advanced Forensic Format 4 container
// (§4.2.4): a ZIP archive holding Turtle/RDF metadata plus one or more
// compressed, chunked image streams addressed through a bevy index.
package aff4

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
)

var log = logger.Logger()

// Vault implements vault.Vault for the AFF4 container.
type Vault struct {
	backing pipeline.Pipeline
	archive *zip.Reader

	stream     *imageStream
	bevyIndex  []bevyIndexEntry

	chunkCache map[int][]byte
	cacheOrder []int
}

// Open parses path as an AFF4 container.
func Open(path string, cfg tdconfig.VaultOpenConfig) (*Vault, error) {
	var backing pipeline.Pipeline
	var err error
	if cfg.UseMmap {
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

// FromPipeline parses an already-open backing pipeline as an AFF4
// container, assuming it is a ZIP archive.
func FromPipeline(backing pipeline.Pipeline) (*Vault, error) {
	archive, err := zip.NewReader(pipelineReaderAt{backing}, backing.Length())
	if err != nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "zip", "not a valid AFF4 ZIP container", err)
	}

	vol, err := parseMetadata(archive)
	if err != nil {
		return nil, err
	}
	if len(vol.streams) == 0 {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "streams", "AFF4 container has no image streams", nil)
	}
	stream := vol.streams[0]

	bevyIndex, err := loadBevyIndex(archive, stream)
	if err != nil {
		return nil, err
	}

	return &Vault{
		backing:    backing,
		archive:    archive,
		stream:     stream,
		bevyIndex:  bevyIndex,
		chunkCache: make(map[int][]byte),
	}, nil
}

func (v *Vault) Identify() string { return "aff4" }
func (v *Vault) Length() int64    { return int64(v.stream.size) }
func (v *Vault) Close() error     { return v.backing.Close() }

func (v *Vault) Content() (pipeline.Pipeline, error) {
	return &streamPipeline{v: v}, nil
}

// pipelineReaderAt adapts pipeline.Pipeline (whose ReadAt already matches
// io.ReaderAt's signature) into the concrete io.ReaderAt archive/zip wants.
type pipelineReaderAt struct {
	p pipeline.Pipeline
}

func (r pipelineReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	return r.p.ReadAt(buf, off)
}

func urnToZipPathFragment(urn string) string {
	s := strings.ReplaceAll(urn, "aff4://", "aff4%3A//")
	return strings.ReplaceAll(s, ":", "%3A")
}

func parseMetadata(archive *zip.Reader) (*volume, error) {
	var statements []statement

	for _, f := range archive.File {
		name := f.Name
		if name != "container.description" && name != "information.turtle" &&
			!strings.HasSuffix(name, ".turtle") && !strings.HasSuffix(name, ".description") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			rc.Close()
			continue
		}
		rc.Close()
		statements = append(statements, parseTurtle(buf.String())...)
	}

	streamsBySubject := make(map[string]*imageStream)
	vol := &volume{}

	for _, stmt := range statements {
		if strings.Contains(stmt.predicate, "type") && strings.Contains(stmt.object, "ImageStream") {
			s, ok := streamsBySubject[stmt.subject]
			if !ok {
				s = newImageStream(stmt.subject)
				streamsBySubject[stmt.subject] = s
			}
			s.urn = stmt.subject
			continue
		}

		s, ok := streamsBySubject[stmt.subject]
		if !ok {
			continue
		}

		switch {
		case strings.Contains(stmt.predicate, "chunkSize"):
			s.chunkSize = parseUintOr(stmt.object, s.chunkSize)
		case strings.Contains(stmt.predicate, "chunksInSegment"):
			s.chunksPerSegment = parseUintOr(stmt.object, s.chunksPerSegment)
		case strings.Contains(stmt.predicate, "compressionMethod"):
			s.compression = compressionFromURI(stmt.object)
		case strings.Contains(stmt.predicate, "size"):
			s.size = parseUint64Or(stmt.object, s.size)
		}
	}

	for _, s := range streamsBySubject {
		vol.streams = append(vol.streams, s)
	}
	// Deterministic ordering: the primary stream is whichever sorts first,
	// matching the single-stream case this implementation targets.
	sort.Slice(vol.streams, func(i, j int) bool { return vol.streams[i].urn < vol.streams[j].urn })

	return vol, nil
}

func parseUintOr(s string, fallback uint32) uint32 {
	return uint32(parseUint64Or(s, uint64(fallback)))
}

func parseUint64Or(s string, fallback uint64) uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}

func loadBevyIndex(archive *zip.Reader, stream *imageStream) ([]bevyIndexEntry, error) {
	urnFragment := urnToZipPathFragment(stream.urn)

	var entries []bevyIndexEntry
	for _, f := range archive.File {
		name := f.Name
		if !strings.HasSuffix(name, ".index") {
			continue
		}
		if !strings.Contains(name, urnFragment) && !strings.Contains(name, stream.urn) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			rc.Close()
			return nil, tderrors.Wrap(tderrors.KindReadError, "bevy_index", "failed to read bevy index", err)
		}
		rc.Close()

		data := buf.Bytes()
		for off := 0; off+bevyIndexEntrySize <= len(data); off += bevyIndexEntrySize {
			entries = append(entries, parseBevyIndexEntry(data[off:off+bevyIndexEntrySize]))
		}
	}

	if len(entries) == 0 && stream.size > 0 {
		chunkCount := (stream.size + uint64(stream.chunkSize) - 1) / uint64(stream.chunkSize)
		for i := uint64(0); i < chunkCount; i++ {
			entries = append(entries, bevyIndexEntry{offset: i * uint64(stream.chunkSize), length: stream.chunkSize})
		}
	}

	return entries, nil
}

// findSegmentFile locates the bevy segment file backing chunkIndex.
func (v *Vault) findSegmentFile(chunkIndex int) *zip.File {
	segmentIndex := chunkIndex / int(v.stream.chunksPerSegment)
	segmentName := fmt.Sprintf("%08x", segmentIndex)
	urnFragment := urnToZipPathFragment(v.stream.urn)

	for _, f := range v.archive.File {
		name := f.Name
		if strings.HasSuffix(name, ".index") {
			continue
		}
		if !strings.HasSuffix(name, segmentName) {
			continue
		}
		if strings.Contains(name, urnFragment) || strings.Contains(name, v.stream.urn) {
			return f
		}
	}
	return nil
}

// decodeChunk decompresses chunk chunkIndex, consulting and updating the
// LRU cache (§4.2.4, minimum tdconfig.AFF4ChunkCacheSize entries).
func (v *Vault) decodeChunk(chunkIndex int) ([]byte, error) {
	if cached, ok := v.chunkCache[chunkIndex]; ok {
		return cached, nil
	}
	if chunkIndex < 0 || chunkIndex >= len(v.bevyIndex) {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "chunk_index", "chunk index out of range", nil)
	}
	entry := v.bevyIndex[chunkIndex]

	segFile := v.findSegmentFile(chunkIndex)
	if segFile == nil {
		return nil, tderrors.Wrap(tderrors.KindInvalidVault, "bevy_segment", "bevy segment not found for chunk", nil)
	}
	rc, err := segFile.Open()
	if err != nil {
		return nil, tderrors.Wrap(tderrors.KindReadError, "bevy_segment", "failed to open bevy segment", err)
	}
	defer rc.Close()

	var segBuf bytes.Buffer
	if _, err := io.Copy(&segBuf, rc); err != nil {
		return nil, tderrors.Wrap(tderrors.KindReadError, "bevy_segment", "failed to read bevy segment", err)
	}
	segment := segBuf.Bytes()

	chunkOffset := int(entry.offset)
	if len(segment) > 0 {
		chunkOffset = chunkOffset % len(segment)
	}
	chunkLen := int(entry.length)
	if chunkOffset+chunkLen > len(segment) {
		if chunkLen > len(segment)-chunkOffset {
			chunkLen = len(segment) - chunkOffset
		}
	}
	if chunkLen < 0 || chunkOffset+chunkLen > len(segment) {
		log.Warnf("aff4: chunk %d: offset/length outside bevy segment bounds, substituting zero-fill", chunkIndex)
		data := make([]byte, v.stream.chunkSize)
		v.cacheChunk(chunkIndex, data)
		return data, nil
	}

	compressed := segment[chunkOffset : chunkOffset+chunkLen]

	var data []byte
	switch v.stream.compression {
	case CompressionNone:
		data = compressed
	case CompressionDeflate:
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			log.Warnf("aff4: chunk %d: zlib header invalid, substituting zero-fill: %v", chunkIndex, err)
			data = make([]byte, v.stream.chunkSize)
			break
		}
		var out bytes.Buffer
		if _, err := io.Copy(&out, r); err != nil {
			log.Warnf("aff4: chunk %d: zlib stream corrupt, substituting zero-fill: %v", chunkIndex, err)
			data = make([]byte, v.stream.chunkSize)
		} else {
			data = out.Bytes()
		}
		r.Close()
	case CompressionSnappy:
		out, err := snappy.Decode(nil, compressed)
		if err != nil {
			log.Warnf("aff4: chunk %d: snappy stream corrupt, substituting zero-fill: %v", chunkIndex, err)
			data = make([]byte, v.stream.chunkSize)
		} else {
			data = out
		}
	case CompressionLZ4:
		out := make([]byte, v.stream.chunkSize)
		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			log.Warnf("aff4: chunk %d: lz4 block corrupt, substituting zero-fill: %v", chunkIndex, err)
			data = make([]byte, v.stream.chunkSize)
		} else {
			data = out[:n]
		}
	default:
		return nil, tderrors.Wrap(tderrors.KindUnsupported, "compression_method", "unsupported AFF4 bevy compression method", nil)
	}

	if uint32(len(data)) < v.stream.chunkSize {
		padded := make([]byte, v.stream.chunkSize)
		copy(padded, data)
		data = padded
	} else if uint32(len(data)) > v.stream.chunkSize {
		data = data[:v.stream.chunkSize]
	}

	v.cacheChunk(chunkIndex, data)
	return data, nil
}

// cacheChunk inserts data into the chunk cache, evicting the oldest half of
// entries (by insertion order) once it reaches tdconfig.AFF4ChunkCacheSize.
func (v *Vault) cacheChunk(chunkIndex int, data []byte) {
	if len(v.chunkCache) >= tdconfig.AFF4ChunkCacheSize {
		half := len(v.cacheOrder) / 2
		for _, k := range v.cacheOrder[:half] {
			delete(v.chunkCache, k)
		}
		v.cacheOrder = append([]int(nil), v.cacheOrder[half:]...)
	}
	v.chunkCache[chunkIndex] = data
	v.cacheOrder = append(v.cacheOrder, chunkIndex)
}

// streamPipeline implements pipeline.Pipeline over an AFF4 Vault's logical
// (decompressed) image stream.
type streamPipeline struct {
	v   *Vault
	pos int64
}

func (s *streamPipeline) Length() int64   { return s.v.Length() }
func (s *streamPipeline) Position() int64 { return s.pos }
func (s *streamPipeline) Close() error    { return nil }

func (s *streamPipeline) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *streamPipeline) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.Length()
	default:
		return 0, tderrors.Wrap(tderrors.KindInvalidPath, "whence", "invalid seek whence", nil)
	}
	n := base + offset
	if n < 0 {
		return 0, tderrors.Wrap(tderrors.KindInvalidPath, "offset", "negative seek position", nil)
	}
	s.pos = n
	return n, nil
}

func (s *streamPipeline) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.Length() {
		return 0, io.EOF
	}
	remaining := s.Length() - off
	want := p
	clipped := false
	if int64(len(want)) > remaining {
		want = want[:remaining]
		clipped = true
	}

	chunkSz := int64(s.v.stream.chunkSize)
	total := 0
	for total < len(want) {
		cur := off + int64(total)
		idx := int(cur / chunkSz)
		chunkOff := cur % chunkSz

		data, err := s.v.decodeChunk(idx)
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
