package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

var infoFormat string = "text"

// ImageInfo is the top-level rendering of a vault and (if present) its
// zone table, the payload of the info subcommand.
type ImageInfo struct {
	File        string         `json:"file" yaml:"file"`
	VaultFormat string         `json:"vaultFormat" yaml:"vaultFormat"`
	SizeBytes   int64          `json:"sizeBytes" yaml:"sizeBytes"`
	ZoneTable   *ZoneTableInfo `json:"zoneTable,omitempty" yaml:"zoneTable,omitempty"`
}

func createInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [flags] IMAGE_FILE",
		Short: "reports a disk image's container format and partition layout",
		Long: `Info opens IMAGE_FILE through the vault and zone layers and
reports its container format, logical size, and (when a recognized
partition table is present) the enumerated zones with GPT attribute
and free-span details.`,
		Args:              cobra.ExactArgs(1),
		PreRunE:           validateFormat(&infoFormat),
		RunE:              executeInfo,
		ValidArgsFunction: templateFileCompletion,
	}
	cmd.Flags().StringVar(&infoFormat, "format", "text", "output format: text, json, or yaml")
	return cmd
}

func executeInfo(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath := args[0]
	log.Infof("inspecting image file: %s", imagePath)

	v, err := openVault(imagePath)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	defer v.Close()

	info := ImageInfo{File: imagePath, VaultFormat: v.Identify(), SizeBytes: v.Length()}

	content, err := v.Content()
	if err != nil {
		return fmt.Errorf("read vault content: %w", err)
	}
	if zt, err := openZoneTable(content); err == nil {
		zoneTableInfo := buildZoneTableInfo(zt.Zones(), zt.Kind(), zt.SectorSize(), v.Length())
		info.ZoneTable = &zoneTableInfo
	} else {
		log.Debugf("no recognized partition table for %s: %v", imagePath, err)
	}

	return writeFormatted(cmd.OutOrStdout(), infoFormat, &info, true, func(w io.Writer) {
		renderImageInfoText(w, &info)
	})
}

func renderImageInfoText(w io.Writer, info *ImageInfo) {
	fmt.Fprintln(w, "Image")
	fmt.Fprintln(w, "-----")
	fmt.Fprintf(w, "File:\t%s\n", info.File)
	fmt.Fprintf(w, "Vault format:\t%s\n", info.VaultFormat)
	fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanize.Bytes(uint64(info.SizeBytes)), info.SizeBytes)

	if info.ZoneTable == nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "No recognized partition table.")
		return
	}

	zt := info.ZoneTable
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Partition Table")
	fmt.Fprintln(w, "---------------")
	fmt.Fprintf(w, "Type:\t%s\n", zt.Kind)
	fmt.Fprintf(w, "Sector size:\t%d bytes\n", zt.SectorSize)
	if zt.LargestFreeSpan != nil {
		fmt.Fprintf(w, "Largest free span:\t%s at byte %d\n",
			humanize.Bytes(zt.LargestFreeSpan.SizeBytes), zt.LargestFreeSpan.StartByte)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Zones")
	fmt.Fprintln(w, "-----")
	if len(zt.Zones) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tOFFSET\tLENGTH\tTYPE\tNAME\tFLAGS")
	for _, z := range zt.Zones {
		var flags string
		if z.AttrRequired {
			flags += "R"
		}
		if z.AttrLegacyBIOSBootable {
			flags += "B"
		}
		if z.AttrReadOnly {
			flags += "O"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			z.Index, z.Offset, humanize.Bytes(z.Length), z.TypeName, z.Name, flags)
	}
	_ = tw.Flush()
}
