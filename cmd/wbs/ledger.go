package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/config"
	"github.com/governedworks/wbs/internal/dcl"
	"github.com/governedworks/wbs/internal/integrity"
	"github.com/governedworks/wbs/internal/types"
	"github.com/governedworks/wbs/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log [packet-id]",
	GroupID: "ledger",
	Short:   "Show the activity log, optionally for one packet",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		st, err := k.Status()
		if err != nil {
			fatal(err)
		}
		entries := st.Log
		if len(args) == 1 {
			filtered := make([]types.LogEntry, 0, len(entries))
			for _, e := range entries {
				if e.PacketID == args[0] {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-10s %-18s %s", e.Timestamp, e.PacketID, e.Event, e.Agent)
			if e.Notes != "" {
				line += "  " + e.Notes
			}
			fmt.Println(line)
		}
	},
}

var logModeCmd = &cobra.Command{
	Use:     "log-mode [plain|hash_chain]",
	GroupID: "ledger",
	Short:   "Show or switch the activity log integrity mode",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		if len(args) == 0 {
			st, err := k.Status()
			if err != nil {
				fatal(err)
			}
			mode := activity.NormalizeMode(st.LogIntegrityMode)
			if jsonOutput {
				outputJSON(map[string]string{"mode": mode})
				return
			}
			fmt.Println(mode)
			return
		}
		mode, err := k.SetLogMode(args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"mode": mode})
			return
		}
		fmt.Printf("%s log integrity mode: %s\n", ui.RenderPass("✓"), mode)
	},
}

var verifyLogCmd = &cobra.Command{
	Use:     "verify-log",
	GroupID: "ledger",
	Short:   "Verify the activity log hash chain",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		ok, issues, err := k.VerifyLog()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"ok": ok, "issues": issues})
		} else if ok {
			fmt.Printf("%s activity log verified\n", ui.RenderPass("✓"))
		} else {
			for _, issue := range issues {
				fmt.Println(ui.RenderFail("✗ " + issue))
			}
		}
		if !ok {
			exitIntegrityFailure()
		}
	},
}

var verifyCmd = &cobra.Command{
	Use:     "verify",
	GroupID: "ledger",
	Short:   "Run the full project integrity check",
	Long: `Verify the project: config lock, journal recovery, per-packet
commit chains, and the activity log. --mode full additionally re-hashes the
runtime state against each packet's ledger head.`,
	Run: func(cmd *cobra.Command, args []string) {
		mode, _ := cmd.Flags().GetString("mode")
		if mode == "" {
			mode = config.GetString("integrity.mode")
		}
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		st, err := k.Status()
		if err != nil {
			fatal(err)
		}
		report, err := integrity.Verify(k.Ledger, st, k.ConfigLockPath(), mode)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(report)
		} else if report.OK {
			fmt.Printf("%s integrity verified: %d packets, %d commits (%s mode)\n",
				ui.RenderPass("✓"), report.PacketsChecked, report.CommitsVerified, report.Mode)
		} else {
			fmt.Println(ui.RenderFail(fmt.Sprintf("✗ %d integrity errors", report.IntegrityErrors)))
			for _, issue := range report.ConfigLock.Issues {
				fmt.Println("  config: " + issue)
			}
			for _, r := range report.JournalRecovery.Issues {
				fmt.Printf("  journal: %s: %s\n", r.PacketID, r.Detail)
			}
			for id, issues := range report.VerificationIssues {
				for _, issue := range issues {
					fmt.Printf("  %s: %s\n", id, issue)
				}
			}
			for _, issue := range report.ActivityLog.Issues {
				fmt.Println("  log: " + issue)
			}
		}
		if !report.OK {
			exitIntegrityFailure()
		}
	},
}

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint <phase>",
	GroupID: "ledger",
	Short:   "Seal a project-wide checkpoint over all packet heads",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		heads, err := k.Ledger.PacketHeads()
		if err != nil {
			fatal(err)
		}
		chk, err := k.Ledger.WriteCheckpoint(args[0], heads)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(chk)
			return
		}
		fmt.Printf("%s checkpoint %s sealed over %d packets (merkle %s)\n",
			ui.RenderPass("✓"), chk.CheckpointID, len(chk.PacketHeads), chk.MerkleRoot[:12])
	},
}

var exportProofCmd = &cobra.Command{
	Use:     "export-proof <packet-id> <out.zip>",
	GroupID: "ledger",
	Short:   "Export a self-contained proof bundle for one packet",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		verify, _ := cmd.Flags().GetBool("verify")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		if err := k.Ledger.ExportProofBundle(args[0], args[1]); err != nil {
			fatal(err)
		}
		if verify {
			ok, issues, err := dcl.VerifyProofBundle(args[1], args[0])
			if err != nil {
				fatal(err)
			}
			if !ok {
				fatal(types.NewError(types.ErrIntegrity, "exported bundle failed verification: %v", issues))
			}
		}
		if jsonOutput {
			outputJSON(map[string]any{"ok": true, "bundle": args[1]})
			return
		}
		fmt.Printf("%s proof bundle written to %s\n", ui.RenderPass("✓"), args[1])
	},
}

var historyCmd = &cobra.Command{
	Use:     "history <packet-id>",
	GroupID: "ledger",
	Short:   "Show a packet's commit chain",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		commits, err := k.Ledger.History(args[0])
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(commits)
			return
		}
		for _, c := range commits {
			fmt.Printf("%s  seq=%d  %-12s %s  %s\n",
				c.CommitID, c.Seq, c.ActionEnvelope.Name, c.ActionEnvelope.Actor.ID, c.CreatedAt)
		}
	},
}

// exitIntegrityFailure gives verification commands the infrastructure exit
// code after the report has already been printed.
func exitIntegrityFailure() {
	os.Exit(2)
}

func init() {
	logCmd.Flags().Int("limit", 0, "Only show the last N entries")
	verifyCmd.Flags().String("mode", "", "fast or full (default from config)")
	exportProofCmd.Flags().Bool("verify", true, "Verify the bundle after writing it")
	rootCmd.AddCommand(logCmd, logModeCmd, verifyLogCmd, verifyCmd, checkpointCmd, exportProofCmd, historyCmd)
}
