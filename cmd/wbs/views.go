package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/types"
	"github.com/governedworks/wbs/internal/ui"
	"github.com/governedworks/wbs/internal/wbsdef"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "views",
	Short:   "Show every packet and its current status",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		st, err := k.Status()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(st)
			return
		}
		rows := make([]ui.PacketRow, 0, len(k.Def.Packets))
		for _, p := range k.Def.Packets {
			pkt := st.Packets[p.ID]
			if pkt == nil {
				continue
			}
			rows = append(rows, ui.PacketRow{
				ID:         p.ID,
				Status:     pkt.Status,
				AssignedTo: pkt.AssignedTo,
				Title:      p.Title,
			})
		}
		fmt.Println(ui.RenderPacketTable(rows, ui.GetWidth()))
	},
}

var readyCmd = &cobra.Command{
	Use:     "ready",
	GroupID: "views",
	Short:   "List packets that can be claimed now",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		ready, err := k.Ready()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(ready)
			return
		}
		if len(ready) == 0 {
			fmt.Println("No packets are ready.")
			return
		}
		rows := make([]ui.PacketRow, 0, len(ready))
		for _, r := range ready {
			rows = append(rows, ui.PacketRow{ID: r.ID, Status: types.StatusPending, Title: r.Title})
		}
		fmt.Println(ui.RenderPacketTable(rows, ui.GetWidth()))
	},
}

var nextCmd = &cobra.Command{
	Use:     "next",
	GroupID: "views",
	Short:   "Show the first claimable packet",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		next, err := k.Next()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"next": next})
			return
		}
		if next == nil {
			fmt.Println("No packets are ready.")
			return
		}
		fmt.Printf("%s  %s\n", next.ID, next.Title)
	},
}

var staleCmd = &cobra.Command{
	Use:     "stale",
	GroupID: "views",
	Short:   "List in_progress packets with no recent activity",
	Run: func(cmd *cobra.Command, args []string) {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		stale, err := k.Stale(olderThan)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(stale)
			return
		}
		if len(stale) == 0 {
			fmt.Println("No stale packets.")
			return
		}
		for _, s := range stale {
			last := s.LastActivity
			if last == "" {
				last = "unknown"
			}
			fmt.Printf("%s  assigned to %s, last activity %s\n", s.ID, s.AssignedTo, last)
		}
	},
}

var graphCmd = &cobra.Command{
	Use:     "graph",
	GroupID: "views",
	Short:   "Render the expanded dependency graph",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(k.Expanded)
			return
		}
		st, err := k.Status()
		if err != nil {
			fatal(err)
		}
		statuses := map[string]types.Status{}
		for id, pkt := range st.Packets {
			statuses[id] = pkt.Status
		}
		fmt.Println(ui.RenderDependencyGraph(k.Expanded, statuses))
	},
}

var validateCmd = &cobra.Command{
	Use:     "validate <definition>",
	GroupID: "views",
	Short:   "Validate a definition file without touching state",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		def, err := wbsdef.Load(args[0])
		if err != nil {
			fatal(err)
		}
		expanded, err := wbsdef.ExpandAndCheck(def)
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{
				"ok":      true,
				"packets": len(def.Packets),
				"areas":   len(def.WorkAreas),
				"edges":   expanded,
			})
			return
		}
		fmt.Printf("%s %s: %d packets, %d areas, dependency graph acyclic\n",
			ui.RenderPass("✓"), args[0], len(def.Packets), len(def.WorkAreas))
	},
}

func init() {
	staleCmd.Flags().Duration("older-than", 24*time.Hour, "Activity cutoff")
	rootCmd.AddCommand(statusCmd, readyCmd, nextCmd, staleCmd, graphCmd, validateCmd)
}
