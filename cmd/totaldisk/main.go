// Command totaldisk is the CLI front-end over the layered decoder pipeline:
// vault (container) -> zone (partition table) -> territory (filesystem),
// plus the acquisition engine. This package is glue only; every decoding
// and copying rule lives under internal/.
package main

import (
	"os"

	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
)

func main() {
	defer logger.Sync()

	if err := createRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
