package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

var (
	extractZone   int
	extractOutput string
)

func createExtractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [flags] IMAGE_FILE PATH",
		Short: "extracts a file's bytes from a disk image's filesystem",
		Long: `Extract opens IMAGE_FILE through the vault, zone, and territory layers
and writes the full contents of PATH to stdout, or to --output if given.
Use --zone to select a partition when the image carries a partition
table.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeExtract,
		ValidArgsFunction: templateFileCompletion,
	}
	cmd.Flags().IntVar(&extractZone, "zone", 0, "zone index to extract from (0 = no partition table, whole vault is the filesystem)")
	cmd.Flags().StringVar(&extractOutput, "output", "", "write extracted bytes to this path instead of stdout")
	return cmd
}

func executeExtract(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath, path := args[0], args[1]
	log.Infof("extracting %s from image file: %s (zone %d)", path, imagePath, extractZone)

	v, err := openVault(imagePath)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	defer v.Close()

	t, err := territoryForZone(v, extractZone)
	if err != nil {
		return fmt.Errorf("open territory: %w", err)
	}

	data, err := t.ReadFile(path)
	if err != nil {
		return fmt.Errorf("extract %s: %w", path, err)
	}

	if extractOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(extractOutput, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", extractOutput, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), extractOutput)
	return nil
}
