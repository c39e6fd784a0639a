package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/totaldisk/internal/pipeline"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/vault"
	"github.com/stretchr/testify/require"
)

func resetExtractFlags() {
	extractZone = 0
	extractOutput = ""
	resetOpenFuncs()
}

func TestExecuteExtractToStdout(t *testing.T) {
	defer resetExtractFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{kind: "fat", files: map[string][]byte{"/BOOT.BIN": []byte("hello")}}, nil
	}

	cmd := createExtractCommand()
	out, err := execCmd(t, cmd, "disk.raw", "/BOOT.BIN")
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestExecuteExtractToFile(t *testing.T) {
	defer resetExtractFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{kind: "fat", files: map[string][]byte{"/BOOT.BIN": []byte("hello")}}, nil
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	cmd := createExtractCommand()
	require.NoError(t, cmd.Flags().Set("output", dest))
	out, err := execCmd(t, cmd, "disk.raw", "/BOOT.BIN")
	require.NoError(t, err)
	require.Contains(t, out, "wrote 5 bytes")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestExecuteExtractReadFileError(t *testing.T) {
	defer resetExtractFlags()
	resetOpenFuncs()

	content := pipeline.NewBufferPipeline(make([]byte, 512))
	openVault = func(path string) (vault.Vault, error) {
		return &fakeVault{identify: "raw", length: 512, content: content}, nil
	}
	openTerritory = func(content pipeline.Pipeline) (territory.Territory, error) {
		return &fakeTerritory{kind: "fat", readErr: os.ErrNotExist}, nil
	}

	cmd := createExtractCommand()
	_, err := execCmd(t, cmd, "disk.raw", "/MISSING")
	require.Error(t, err)
}
