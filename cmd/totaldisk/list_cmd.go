package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/open-edge-platform/totaldisk/internal/territory"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/spf13/cobra"
)

var (
	listFormat string = "text"
	listZone   int
)

// OccupantInfo is the CLI-facing rendering of a territory.Occupant.
type OccupantInfo struct {
	Name        string    `json:"name" yaml:"name"`
	IsDirectory bool      `json:"isDirectory" yaml:"isDirectory"`
	SizeBytes   int64     `json:"sizeBytes" yaml:"sizeBytes"`
	ModTime     time.Time `json:"modTime,omitempty" yaml:"modTime,omitempty"`
	Attributes  uint32    `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ListResult is the payload of the list subcommand.
type ListResult struct {
	File       string         `json:"file" yaml:"file"`
	Zone       int            `json:"zone" yaml:"zone"`
	Filesystem string         `json:"filesystem" yaml:"filesystem"`
	Dir        string         `json:"dir" yaml:"dir"`
	Entries    []OccupantInfo `json:"entries" yaml:"entries"`
}

func createListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [flags] IMAGE_FILE [DIR]",
		Short: "lists the occupants of a directory within a disk image's filesystem",
		Long: `List opens IMAGE_FILE through the vault, zone, and territory layers
and lists the occupants of DIR (the root, if omitted). Use --zone to
select a partition when the image carries a partition table.`,
		Args:              cobra.RangeArgs(1, 2),
		PreRunE:           validateFormat(&listFormat),
		RunE:              executeList,
		ValidArgsFunction: templateFileCompletion,
	}
	cmd.Flags().StringVar(&listFormat, "format", "text", "output format: text, json, or yaml")
	cmd.Flags().IntVar(&listZone, "zone", 0, "zone index to list (0 = no partition table, whole vault is the filesystem)")
	return cmd
}

func executeList(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath := args[0]
	dir := "/"
	if len(args) == 2 {
		dir = args[1]
	}
	log.Infof("listing %s in image file: %s (zone %d)", dir, imagePath, listZone)

	v, err := openVault(imagePath)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}
	defer v.Close()

	t, err := territoryForZone(v, listZone)
	if err != nil {
		return fmt.Errorf("open territory: %w", err)
	}

	occupants, err := t.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	result := ListResult{
		File:       imagePath,
		Zone:       listZone,
		Filesystem: t.Kind(),
		Dir:        dir,
		Entries:    buildOccupantInfos(occupants),
	}

	return writeFormatted(cmd.OutOrStdout(), listFormat, &result, true, func(w io.Writer) {
		renderListText(w, &result)
	})
}

func buildOccupantInfos(occupants []territory.Occupant) []OccupantInfo {
	out := make([]OccupantInfo, len(occupants))
	for i, o := range occupants {
		out[i] = OccupantInfo{
			Name:        o.Name,
			IsDirectory: o.IsDirectory,
			SizeBytes:   o.SizeBytes,
			ModTime:     o.ModTime,
			Attributes:  o.Attributes,
		}
	}
	return out
}

func renderListText(w io.Writer, result *ListResult) {
	fmt.Fprintf(w, "%s [%s] %s:\n", result.File, result.Filesystem, result.Dir)
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSIZE\tMODIFIED\tNAME")
	for _, e := range result.Entries {
		kind := "FILE"
		if e.IsDirectory {
			kind = "DIR"
		}
		modified := ""
		if !e.ModTime.IsZero() {
			modified = e.ModTime.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, humanize.Bytes(uint64(e.SizeBytes)), modified, e.Name)
	}
	_ = tw.Flush()
}
