package main

import (
	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/kernel"
)

var handoverCmd = &cobra.Command{
	Use:     "handover <packet-id>",
	GroupID: "packets",
	Short:   "Park an in_progress packet for another agent",
	Long: `Record a handover on an in_progress packet: the owning agent leaves
progress notes, files touched, and remaining work, then releases the
assignment. An optional --to targets a specific successor.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		notes, _ := cmd.Flags().GetString("notes")
		files, _ := cmd.Flags().GetStringSlice("files")
		remaining, _ := cmd.Flags().GetStringSlice("remaining")
		toAgent, _ := cmd.Flags().GetString("to")

		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Handover(kernel.HandoverInput{
			PacketID:      args[0],
			Agent:         resolveAgent(cmd),
			Reason:        reason,
			ProgressNotes: notes,
			FilesModified: files,
			RemainingWork: remaining,
			ToAgent:       toAgent,
		})
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume <packet-id>",
	GroupID: "packets",
	Short:   "Resume a handed-over packet",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Resume(args[0], resolveAgent(cmd))
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

func init() {
	handoverCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	handoverCmd.Flags().StringP("reason", "r", "", "Why the packet is being handed over")
	handoverCmd.Flags().StringP("notes", "n", "", "Progress notes for the successor")
	handoverCmd.Flags().StringSlice("files", nil, "Files modified so far")
	handoverCmd.Flags().StringSlice("remaining", nil, "Remaining work items")
	handoverCmd.Flags().String("to", "", "Target agent for the handover")
	resumeCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	rootCmd.AddCommand(handoverCmd, resumeCmd)
}
