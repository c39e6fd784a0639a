package main

import (
	"time"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/open-edge-platform/totaldisk/internal/zone"
)

// fakeVault, fakeZoneTable, and fakeTerritory are test doubles injected
// through the openVault/openZoneTable/openTerritory package vars, matching
// cmd/os-image-composer's fakeInspector pattern.
type fakeVault struct {
	identify string
	length   int64
	content  pipeline.Pipeline
	openErr  error
}

func (f *fakeVault) Identify() string { return f.identify }
func (f *fakeVault) Length() int64    { return f.length }
func (f *fakeVault) Close() error     { return nil }
func (f *fakeVault) Content() (pipeline.Pipeline, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.content, nil
}

type fakeZoneTable struct {
	kind       string
	sectorSize uint32
	zones      []zone.Zone
}

func (f *fakeZoneTable) Kind() string       { return f.kind }
func (f *fakeZoneTable) Zones() []zone.Zone { return f.zones }
func (f *fakeZoneTable) SectorSize() uint32 { return f.sectorSize }

type fakeTerritory struct {
	kind    string
	entries map[string][]territory.Occupant
	files   map[string][]byte
	statErr error
	readErr error
}

func (f *fakeTerritory) Kind() string { return f.kind }

func (f *fakeTerritory) List(dir string) ([]territory.Occupant, error) {
	if f.statErr != nil {
		return nil, f.statErr
	}
	return f.entries[dir], nil
}

func (f *fakeTerritory) ReadFile(path string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.files[path], nil
}

func (f *fakeTerritory) Stat(path string) (territory.Occupant, error) {
	return territory.Occupant{Name: path, ModTime: time.Now()}, nil
}

var (
	_ vault.Vault         = (*fakeVault)(nil)
	_ zone.Table          = (*fakeZoneTable)(nil)
	_ territory.Territory = (*fakeTerritory)(nil)
)
