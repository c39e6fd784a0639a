// Package factory auto-detects a disk image's container format and opens
// the matching Vault implementation (§4.2, Factory). Detection looks at
// the first 16 bytes and trailing 512 bytes before falling back to the
// file extension and finally to raw.
package factory

import (
	"strings"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/open-edge-platform/totaldisk/internal/vault/aff4"
	"github.com/open-edge-platform/totaldisk/internal/vault/e01"
	"github.com/open-edge-platform/totaldisk/internal/vault/raw"
	"github.com/open-edge-platform/totaldisk/internal/vault/vhd"
)

// Detect sniffs head (the file's leading bytes) and tail (its trailing
// bytes, up to 512) to identify the container format, falling back to the
// path's extension and finally to "raw".
func Detect(path string, head, tail []byte) string {
	if len(head) >= 8 && string(head[0:8]) == "conectix" {
		return "vhd"
	}
	if len(tail) >= 8 && string(tail[len(tail)-8:]) == "conectix" {
		return "vhd" // trailing footer on fixed disks
	}
	if len(head) >= 3 && head[0] == 'E' && head[1] == 'V' && head[2] == 'F' {
		return "e01"
	}
	if len(head) >= 4 && head[0] == 'P' && head[1] == 'K' && head[2] == 0x03 && head[3] == 0x04 {
		return "aff4"
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".vhd"), strings.HasSuffix(lower, ".vhdx"):
		return "vhd"
	case strings.HasSuffix(lower, ".e01"):
		return "e01"
	case strings.HasSuffix(lower, ".aff4"):
		return "aff4"
	default:
		return "raw"
	}
}

// Open detects path's container format and opens the corresponding Vault.
// An unrecognized format is treated as raw rather than failing outright,
// since an unlabeled dd image is a common, legitimate input.
func Open(path string, cfg tdconfig.VaultOpenConfig) (vault.Vault, error) {
	head, tail, err := sniff(path)
	if err != nil {
		return nil, err
	}

	switch Detect(path, head, tail) {
	case "vhd":
		return vhd.Open(path, cfg)
	case "e01":
		return e01.Open(path, cfg.UseMmap)
	case "aff4":
		v, err := aff4.Open(path, cfg)
		if err != nil && tderrors.Is(err, tderrors.KindInvalidVault) {
			// ZIP magic alone isn't proof of AFF4; a plain ZIP with no
			// turtle/description metadata and no image streams falls back
			// to raw rather than a hard open error.
			return raw.Open(path, cfg)
		}
		return v, err
	default:
		return raw.Open(path, cfg)
	}
}

func sniff(path string) (head, tail []byte, err error) {
	p, err := pipeline.OpenFilePipeline(path)
	if err != nil {
		return nil, nil, err
	}
	defer p.Close()

	headBuf := make([]byte, 16)
	n, _ := p.ReadAt(headBuf, 0)
	headBuf = headBuf[:n]

	length := p.Length()
	tailStart := length - 512
	if tailStart < 0 {
		tailStart = 0
	}
	tailBuf := make([]byte, length-tailStart)
	if len(tailBuf) > 0 {
		n, _ = p.ReadAt(tailBuf, tailStart)
		tailBuf = tailBuf[:n]
	}

	return headBuf, tailBuf, nil
}
