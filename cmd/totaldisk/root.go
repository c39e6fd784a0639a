package main

import (
	"github.com/spf13/cobra"
)

// createRootCommand assembles the totaldisk CLI: info, zones, list,
// extract, acquire, and verify-layout, mirroring cmd/os-image-composer's
// command layout (inspect/compare) with --format text|json|yaml output.
func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "totaldisk",
		Short: "inspect and acquire forensic disk images",
		Long: `totaldisk opens a disk image through its container format, partition
table, and filesystem layers to inspect structure, list directories, and
extract files, and runs a verified, hashing block-copy acquisition from a
source device or image to a raw or VHD destination.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(createInfoCommand())
	root.AddCommand(createZonesCommand())
	root.AddCommand(createListCommand())
	root.AddCommand(createExtractCommand())
	root.AddCommand(createAcquireCommand())
	root.AddCommand(createVerifyLayoutCommand())

	return root
}

// templateFileCompletion offers shell completion narrowed to the
// extensions the vault factory recognizes (§4.2), falling back to raw
// dd images for anything else.
func templateFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"raw", "img", "dd", "vhd", "vhdx", "e01", "aff4"}, cobra.ShellCompDirectiveFilterFileExt
}
