package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/stretchr/testify/require"
)

func resetZonesFlags() {
	zonesFormat = "text"
	resetOpenFuncs()
}

func TestExecuteZonesNoPartitionTable(t *testing.T) {
	defer resetZonesFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return nil, errors.New("no recognized partition table")
	}

	cmd := createZonesCommand()
	_, err := execCmd(t, cmd, "disk.raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no recognized partition table")
}

func TestExecuteZonesJSON(t *testing.T) {
	defer resetZonesFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 1<<20))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 1 << 20, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return &fakeZoneTable{
			kind:       "mbr",
			sectorSize: 512,
			zones: []zone.Zone{
				{Index: 1, Offset: 512, Length: 1024, TypeName: "FAT32"},
				{Index: 2, Offset: 2048, Length: 2048, TypeName: "Linux"},
			},
		}, nil
	}

	cmd := createZonesCommand()
	require.NoError(t, cmd.Flags().Set("format", "json"))
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)

	var got ZonesResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "mbr", got.Kind)
	require.Len(t, got.Zones, 2)
	require.Equal(t, "FAT32", got.Zones[0].TypeName)
}

func TestExecuteZonesText(t *testing.T) {
	defer resetZonesFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 1<<20))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 1 << 20, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return &fakeZoneTable{kind: "gpt", sectorSize: 512, zones: nil}, nil
	}

	cmd := createZonesCommand()
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)
	require.Contains(t, out, "gpt")
	require.Contains(t, out, "no zones")
}
