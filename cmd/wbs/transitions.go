package main

import (
	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:     "claim <packet-id>",
	GroupID: "packets",
	Short:   "Claim a pending packet",
	Long: `Claim a pending packet whose dependencies are all done. The packet
moves to in_progress and is assigned to the acting agent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Claim(args[0], resolveAgent(cmd))
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <packet-id>",
	GroupID: "packets",
	Short:   "Complete an in_progress packet",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		notes, _ := cmd.Flags().GetString("notes")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Done(args[0], resolveAgent(cmd), notes)
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

var noteCmd = &cobra.Command{
	Use:     "note <packet-id> <notes>",
	GroupID: "packets",
	Short:   "Record progress notes on an active packet",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Note(args[0], resolveAgent(cmd), args[1])
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

var failCmd = &cobra.Command{
	Use:     "fail <packet-id>",
	GroupID: "packets",
	Short:   "Fail a packet and block its dependents",
	Long: `Mark a packet failed. Every active dependent that transitively
requires it is moved to blocked, each with its own ledger commit.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Fail(args[0], resolveAgent(cmd), reason)
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset <packet-id>",
	GroupID: "packets",
	Short:   "Reset a packet back to pending",
	Long: `Reset a packet to pending, clearing its assignment. Dependents
blocked by a failure stay blocked until they are reset too.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.Reset(args[0])
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

func init() {
	claimCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	doneCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	doneCmd.Flags().StringP("notes", "n", "", "Completion notes (required)")
	noteCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	failCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	failCmd.Flags().StringP("reason", "r", "", "Failure reason")
	rootCmd.AddCommand(claimCmd, doneCmd, noteCmd, failCmd, resetCmd)
}
