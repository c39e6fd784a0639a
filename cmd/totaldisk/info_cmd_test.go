package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func resetInfoFlags() {
	infoFormat = "text"
	resetOpenFuncs()
}

func resetOpenFuncs() {
	openVault = func(path string) (vault.Vault, error) {
		return nil, errors.New("openVault not stubbed")
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return nil, errors.New("openZoneTable not stubbed")
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return nil, errors.New("openTerritory not stubbed")
	}
}

func TestCreateInfoCommand(t *testing.T) {
	defer resetInfoFlags()
	cmd := createInfoCommand()

	require.Equal(t, "info [flags] IMAGE_FILE", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("format"))
	require.NotNil(t, cmd.ValidArgsFunction)

	require.Error(t, cmd.Args(cmd, []string{}))
	require.NoError(t, cmd.Args(cmd, []string{"image.raw"}))
	require.Error(t, cmd.Args(cmd, []string{"image.raw", "extra"}))
}

func TestExecuteInfoNoZoneTable(t *testing.T) {
	defer resetInfoFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return nil, errors.New("no partition table")
	}

	cmd := createInfoCommand()
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)
	require.Contains(t, out, "No recognized partition table")
}

func TestExecuteInfoWithZoneTableJSON(t *testing.T) {
	defer resetInfoFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 4096))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 4096, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return &fakeZoneTable{
			kind:       "gpt",
			sectorSize: 512,
			zones: []zone.Zone{
				{Index: 1, Offset: 1024, Length: 2048, TypeName: "EFI System", Attributes: 1 << 2},
			},
		}, nil
	}

	cmd := createInfoCommand()
	require.NoError(t, cmd.Flags().Set("format", "json"))
	out, err := execCmd(t, cmd, "disk.raw")
	require.NoError(t, err)

	var got ImageInfo
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "raw", got.VaultFormat)
	require.NotNil(t, got.ZoneTable)
	require.Equal(t, "gpt", got.ZoneTable.Kind)
	require.Len(t, got.ZoneTable.Zones, 1)
	require.True(t, got.ZoneTable.Zones[0].AttrLegacyBIOSBootable)
}

func TestExecuteInfoYAML(t *testing.T) {
	defer resetInfoFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 4096))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "vhd-fixed", length: 4096, content: content}, nil
	}
	openZoneTable = func(content pipeline.Pipeline) (zone.Table, error) {
		return nil, errors.New("no partition table")
	}

	cmd := createInfoCommand()
	require.NoError(t, cmd.Flags().Set("format", "yaml"))
	out, err := execCmd(t, cmd, "disk.vhd")
	require.NoError(t, err)

	var got ImageInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Equal(t, "vhd-fixed", got.VaultFormat)
}

func TestExecuteInfoVaultOpenFailure(t *testing.T) {
	defer resetInfoFlags()
	resetOpenFuncs()

	openVault = func(path string) (vault.Vault, error) {
		return nil, errors.New("boom")
	}

	cmd := createInfoCommand()
	_, err := execCmd(t, cmd, "disk.raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "open vault")
}

func TestExecuteInfoUnsupportedFormat(t *testing.T) {
	defer resetInfoFlags()
	resetOpenFuncs()

	cmd := createInfoCommand()
	require.NoError(t, cmd.Flags().Set("format", "xml"))
	_, err := execCmd(t, cmd, "disk.raw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported --format")
}
