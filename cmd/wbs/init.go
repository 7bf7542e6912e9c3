package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/config"
	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init <definition.json>",
	GroupID: "admin",
	Short:   "Initialize a project from a definition file",
	Long: `Validate the definition, instantiate runtime state under .wbs/,
pin the ledger configuration, and seed the agent registry. Safe to re-run
after adding packets to the definition.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := os.Getwd()
		if err != nil {
			fatal(err)
		}
		k, err := kernel.Init(root, args[0])
		if err != nil {
			fatal(err)
		}
		if err := config.WriteDefault(filepath.Join(kernel.ProjectDir(root), "config.yaml")); err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{
				"ok":      true,
				"root":    root,
				"packets": len(k.Def.Packets),
				"areas":   len(k.Def.WorkAreas),
			})
			return
		}
		fmt.Printf("%s initialized %s: %d packets across %d areas\n",
			ui.RenderPass("✓"), k.Def.Metadata.ProjectName, len(k.Def.Packets), len(k.Def.WorkAreas))
		fmt.Println("  state:      .wbs/wbs-state.json")
		fmt.Println("  ledger:     .wbs/dcl/")
		fmt.Println("  agents:     .wbs/agents.json")
		fmt.Println("  config:     .wbs/config.yaml")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
