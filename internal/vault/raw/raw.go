// Package raw implements the pass-through Vault over a raw sector image
// (§4.2.1): the logical content is the underlying pipeline unchanged.
package raw

import (
	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
)

// Vault is the identity container: length equals file length, content is
// the backing pipeline as-is.
type Vault struct {
	content pipeline.Pipeline
}

// Open wraps path as a raw Vault, using cfg to pick mmap vs plain file I/O.
func Open(path string, cfg tdconfig.VaultOpenConfig) (*Vault, error) {
	p, err := openPipeline(path, cfg)
	if err != nil {
		return nil, err
	}
	return &Vault{content: p}, nil
}

// FromPipeline wraps an already-open pipeline as a raw Vault (used by
// tests and by the Factory when a caller has already opened a file).
func FromPipeline(p pipeline.Pipeline) *Vault {
	return &Vault{content: p}
}

func (v *Vault) Identify() string { return "raw" }
func (v *Vault) Length() int64    { return v.content.Length() }
func (v *Vault) Close() error     { return v.content.Close() }

func (v *Vault) Content() (pipeline.Pipeline, error) {
	if _, err := v.content.Seek(0, 0); err != nil {
		return nil, err
	}
	return v.content, nil
}

func openPipeline(path string, cfg tdconfig.VaultOpenConfig) (pipeline.Pipeline, error) {
	if cfg.UseMmap {
		return pipeline.OpenMmapPipeline(path)
	}
	return pipeline.OpenFilePipeline(path)
}
