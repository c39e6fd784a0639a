package main

import (
	"fmt"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/tderrors"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	territoryfactory "github.com/open-edge-platform/totaldisk/internal/territory/factory"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	vaultfactory "github.com/open-edge-platform/totaldisk/internal/vault/factory"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	zonefactory "github.com/open-edge-platform/totaldisk/internal/zone/factory"
)

// Indirected through package-level vars, matching the teacher's
// newInspector pattern, so tests can inject fakes without touching disk.
var (
	openVault = func(path string) (vault.Vault, error) {
		return vaultfactory.Open(path, tdconfig.DefaultVaultOpenConfig())
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return zonefactory.Open(content)
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return territoryfactory.Open(content)
	}
)

// territoryForZone opens v's content pipeline and, when zoneIndex is
// nonzero, narrows it to the matching zone before opening a Territory.
// zoneIndex 0 means "whole vault, no partition table" (a bare filesystem
// image with no MBR/GPT).
func territoryForZone(v vault.Vault, zoneIndex int) (territory.Territory, error) {
	content, err := v.Content()
	if err != nil {
		return nil, err
	}
	if zoneIndex == 0 {
		return openTerritory(content)
	}

	zt, err := openZoneTable(content)
	if err != nil {
		return nil, err
	}
	for _, z := range zt.Zones() {
		if z.Index == zoneIndex {
			win, err := zone.Window(content, z)
			if err != nil {
				return nil, err
			}
			return openTerritory(win)
		}
	}
	return nil, tderrors.Wrap(tderrors.KindNotFound, "zone", fmt.Sprintf("zone %d not found", zoneIndex), nil)
}

// parseHashAlgorithms validates and converts --algo flag values.
func parseHashAlgorithms(raw []string) ([]tdconfig.HashAlgorithm, error) {
	algos := make([]tdconfig.HashAlgorithm, 0, len(raw))
	for _, r := range raw {
		algo := tdconfig.HashAlgorithm(r)
		switch algo {
		case tdconfig.HashMD5, tdconfig.HashSHA1, tdconfig.HashSHA256:
			algos = append(algos, algo)
		default:
			return nil, fmt.Errorf("unsupported --algo %q (supported: md5, sha1, sha256)", r)
		}
	}
	return algos, nil
}
