package main

import (
	"github.com/spf13/cobra"
)

var closeoutCmd = &cobra.Command{
	Use:     "closeout-l2 <area-id>",
	GroupID: "packets",
	Short:   "Close out a work area with a drift assessment",
	Long: `Close out a work area once every packet in it is done. Requires a
drift assessment file covering scope, expected vs delivered, drift, evidence,
residual risks, and next actions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		assessment, _ := cmd.Flags().GetString("assessment")
		notes, _ := cmd.Flags().GetString("notes")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		res, err := k.CloseoutL2(args[0], resolveAgent(cmd), assessment, notes)
		if err != nil {
			fatal(err)
		}
		printTransition(res)
	},
}

func init() {
	closeoutCmd.Flags().StringP("agent", "a", "", "Acting agent id (or set WBS_ACTOR)")
	closeoutCmd.Flags().String("assessment", "", "Path to the drift assessment markdown file")
	closeoutCmd.Flags().StringP("notes", "n", "", "Closeout notes")
	_ = closeoutCmd.MarkFlagRequired("assessment")
	rootCmd.AddCommand(closeoutCmd)
}
