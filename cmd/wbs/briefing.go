package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/ui"
)

var briefingCmd = &cobra.Command{
	Use:     "briefing",
	GroupID: "views",
	Short:   "Emit an agent-facing project briefing",
	Long: `Emit a structured project briefing: counts, ready and blocked
packets, active assignments, and recent activity. Designed for agents that
need orientation before claiming work; --compact bounds every section.`,
	Run: func(cmd *cobra.Command, args []string) {
		events, _ := cmd.Flags().GetInt("events")
		compact, _ := cmd.Flags().GetBool("compact")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		b, err := k.Briefing(events, compact)
		if err != nil {
			fatal(err)
		}
		// The briefing is a machine document; humans get the same JSON.
		outputJSON(b)
	},
}

var contextCmd = &cobra.Command{
	Use:     "context <packet-id>",
	GroupID: "views",
	Short:   "Emit the full working context for one packet",
	Long: `Emit everything an agent needs to work a packet: definition, runtime
view, dependencies both ways, handovers, recent history, and a manifest of
files referenced from notes. Truncation is recorded, never silent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		compact, _ := cmd.Flags().GetBool("compact")
		maxEvents, _ := cmd.Flags().GetInt("max-events")
		maxNotes, _ := cmd.Flags().GetInt("max-notes-bytes")
		maxHandovers, _ := cmd.Flags().GetInt("max-handovers")

		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		bundle, err := k.ContextBundle(args[0], compact, kernel.BundleLimits{
			MaxEvents:     maxEvents,
			MaxNotesBytes: maxNotes,
			MaxHandovers:  maxHandovers,
		})
		if err != nil {
			fatal(err)
		}
		outputJSON(bundle)
		if !jsonOutput && bundle.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderWarn("⚠ output truncated; raise limits or drop --compact"))
		}
	},
}

func init() {
	briefingCmd.Flags().Int("events", 20, "Recent events to include")
	briefingCmd.Flags().Bool("compact", false, "Bound every section for small contexts")
	contextCmd.Flags().Bool("compact", false, "Bound every section for small contexts")
	contextCmd.Flags().Int("max-events", 0, "Cap on history events (default 40)")
	contextCmd.Flags().Int("max-notes-bytes", 0, "Cap on notes bytes (default 4000)")
	contextCmd.Flags().Int("max-handovers", 0, "Cap on handover records (default 40)")
	rootCmd.AddCommand(briefingCmd, contextCmd)
}
