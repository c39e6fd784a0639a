package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/stretchr/testify/require"
)

func resetListFlags() {
	listFormat = "text"
	listZone = 0
	resetOpenFuncs()
}

func TestExecuteListRootNoZone(t *testing.T) {
	defer resetListFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{
			kind: "fat",
			entries: map[string][]territory.Occupant{
				"/": {
					{Name: "BOOT.BIN", SizeBytes: 2048, ModTime: time.Unix(0, 0)},
					{Name: "EFI", IsDirectory: true},
				},
			},
		}, nil
	}

	cmd := createListCommand()
	require.NoError(t, cmd.Flags().Set("format", "json"))
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)

	var got ListResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "fat", got.Filesystem)
	require.Equal(t, 0, got.Zone)
	require.Len(t, got.Entries, 2)
}

func TestExecuteListWithZoneFlag(t *testing.T) {
	defer resetListFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 1<<20))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 1 << 20, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return &fakeZoneTable{
			kind:       "mbr",
			sectorSize: 512,
			zones:      []zone.Zone{{Index: 1, Offset: 512, Length: 4096, TypeName: "FAT32"}},
		}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{kind: "fat", entries: map[string][]territory.Occupant{"/": {{Name: "A"}}}}, nil
	}

	cmd := createListCommand()
	require.NoError(t, cmd.Flags().Set("zone", "1"))
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)
	require.Contains(t, out, "A")
}

func TestExecuteListUnknownZoneIndex(t *testing.T) {
	defer resetListFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 1<<20))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 1 << 20, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return &fakeZoneTable{kind: "mbr", sectorSize: 512, zones: nil}, nil
	}

	cmd := createListCommand()
	require.NoError(t, cmd.Flags().Set("zone", "5"))
	_, err := execCmd(t, cmd, "disk.raw")
	require.Error(t, err)
}

func TestExecuteListTerritoryListError(t *testing.T) {
	defer resetListFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{kind: "fat", statErr: errors.New("corrupt directory")}, nil
	}

	cmd := createListCommand()
	_, err := execCmd(t, cmd, "disk.raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt directory")
}
