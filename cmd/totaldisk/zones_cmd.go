package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

var zonesFormat string = "text"

// ZonesResult is the payload of the zones subcommand: a vault's full
// enumerated partition table, without the surrounding vault-level info
// the info subcommand also reports.
type ZonesResult struct {
	File            string     `json:"file" yaml:"file"`
	Kind            string     `json:"kind" yaml:"kind"`
	SectorSize      uint32     `json:"sectorSize" yaml:"sectorSize"`
	Zones           []ZoneInfo `json:"zones" yaml:"zones"`
	LargestFreeSpan *FreeSpan  `json:"largestFreeSpan,omitempty" yaml:"largestFreeSpan,omitempty"`
}

func createZonesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "zones [flags] IMAGE_FILE",
		Short:             "enumerates a disk image's partition table",
		Args:              cobra.ExactArgs(1),
		PreRunE:           validateFormat(&zonesFormat),
		RunE:              executeZones,
		ValidArgsFunction: templateFileCompletion,
	}
	cmd.Flags().StringVar(&zonesFormat, "format", "text", "output format: text, json, or yaml")
	return cmd
}

func executeZones(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath := args[0]
	log.Infof("enumerating zones for image file: %s", imagePath)

	v, err := openVault(imagePath)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	defer v.Close()

	content, err := v.Content()
	if err != nil {
		return fmt.Errorf("read vault content: %w", err)
	}

	zt, err := openZoneTable(content)
	if err != nil {
		return fmt.Errorf("no recognized partition table: %w", err)
	}

	tableInfo := buildZoneTableInfo(zt.Zones(), zt.Kind(), zt.SectorSize(), v.Length())
	result := ZonesResult{
		File:            imagePath,
		Kind:            tableInfo.Kind,
		SectorSize:      tableInfo.SectorSize,
		Zones:           tableInfo.Zones,
		LargestFreeSpan: tableInfo.LargestFreeSpan,
	}

	return writeFormatted(cmd.OutOrStdout(), zonesFormat, &result, true, func(w io.Writer) {
		renderZonesText(w, &result)
	})
}

func renderZonesText(w io.Writer, result *ZonesResult) {
	fmt.Fprintf(w, "%s: %s, sector size %d bytes\n", result.File, result.Kind, result.SectorSize)
	if len(result.Zones) == 0 {
		fmt.Fprintln(w, "(no zones)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tOFFSET\tLENGTH\tTYPE\tGUID\tNAME")
	for _, z := range result.Zones {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			z.Index, z.Offset, humanize.Bytes(z.Length), z.TypeName, z.GUID, z.Name)
	}
	_ = tw.Flush()
}
