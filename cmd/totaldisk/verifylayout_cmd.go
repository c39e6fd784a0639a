package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/open-edge-platform/totaldisk/internal/zone"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/cobra"
)

// layoutManifestSchema bounds a manifest to the shape verify-layout can
// check: a list of expected zones, each naming the partition-table type
// label it expects and, optionally, a minimum size and territory kind.
const layoutManifestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["zones"],
	"properties": {
		"zones": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["index", "typeName"],
				"properties": {
					"index":        {"type": "integer", "minimum": 1},
					"typeName":     {"type": "string", "minLength": 1},
					"minSizeBytes": {"type": "integer", "minimum": 0},
					"territory":    {"type": "string"}
				}
			}
		}
	}
}`

type layoutManifest struct {
	Zones []layoutZone `json:"zones"`
}

type layoutZone struct {
	Index        int    `json:"index"`
	TypeName     string `json:"typeName"`
	MinSizeBytes int64  `json:"minSizeBytes"`
	Territory    string `json:"territory"`
}

func createVerifyLayoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-layout [flags] IMAGE_FILE MANIFEST_FILE",
		Short: "checks a disk image's zone layout against a JSON manifest",
		Long: `Verify-layout validates MANIFEST_FILE against a fixed JSON schema,
then opens IMAGE_FILE and confirms every zone the manifest names is
present with at least the expected size, partition type label, and
(if named) filesystem, before an acquisition is trusted to proceed.`,
		Args:              cobra.ExactArgs(2),
		RunE:              executeVerifyLayout,
		ValidArgsFunction: templateFileCompletion,
	}
	return cmd
}

func executeVerifyLayout(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	imagePath, manifestPath := args[0], args[1]
	log.Infof("verifying layout of %s against manifest %s", imagePath, manifestPath)

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	if err := validateManifestSchema(manifestBytes); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}

	var manifest layoutManifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

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

	byIndex := make(map[int]int) // zone index -> position in zt.Zones()
	zones := zt.Zones()
	for i, z := range zones {
		byIndex[z.Index] = i
	}

	var problems []string
	for _, expected := range manifest.Zones {
		pos, ok := byIndex[expected.Index]
		if !ok {
			problems = append(problems, fmt.Sprintf("zone %d: missing", expected.Index))
			continue
		}
		actual := zones[pos]

		if !strings.EqualFold(actual.TypeName, expected.TypeName) {
			problems = append(problems, fmt.Sprintf("zone %d: expected type %q, got %q", expected.Index, expected.TypeName, actual.TypeName))
		}
		if expected.MinSizeBytes > 0 && int64(actual.Length) < expected.MinSizeBytes {
			problems = append(problems, fmt.Sprintf("zone %d: expected at least %d bytes, got %d", expected.Index, expected.MinSizeBytes, actual.Length))
		}
		if expected.Territory != "" {
			win, err := zone.Window(content, actual)
			if err != nil {
				problems = append(problems, fmt.Sprintf("zone %d: %v", expected.Index, err))
				continue
			}
			t, err := openTerritory(win)
			if err != nil {
				problems = append(problems, fmt.Sprintf("zone %d: no recognized filesystem: %v", expected.Index, err))
				continue
			}
			if !strings.EqualFold(t.Kind(), expected.Territory) {
				problems = append(problems, fmt.Sprintf("zone %d: expected filesystem %q, got %q", expected.Index, expected.Territory, t.Kind()))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("layout mismatch:\n  %s", strings.Join(problems, "\n  "))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s matches the layout described by %s (%d zones checked)\n", imagePath, manifestPath, len(manifest.Zones))
	return nil
}

func validateManifestSchema(manifestBytes []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("layout-manifest.json", strings.NewReader(layoutManifestSchema)); err != nil {
		return fmt.Errorf("compile schema resource: %w", err)
	}
	schema, err := compiler.Compile("layout-manifest.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestBytes))
	if err != nil {
		return fmt.Errorf("parse manifest as JSON: %w", err)
	}
	return schema.Validate(doc)
}
