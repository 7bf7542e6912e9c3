package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/supervisor"
	"github.com/governedworks/wbs/internal/ui"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	GroupID: "admin",
	Short:   "Manage the agent registry",
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents and the enforcement mode",
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		reg, err := supervisor.LoadRegistry(k.AgentsPath())
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(reg)
			return
		}
		fmt.Printf("enforcement mode: %s\n", reg.EnforcementMode)
		if len(reg.Agents) == 0 {
			fmt.Println("no agents registered")
			return
		}
		for _, a := range reg.Agents {
			fmt.Printf("  %-16s %-8s [%s]\n", a.ID, a.Type, strings.Join(a.Capabilities, ", "))
		}
	},
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Register an agent with its capabilities",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentType, _ := cmd.Flags().GetString("type")
		caps, _ := cmd.Flags().GetStringSlice("capabilities")

		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		reg, err := supervisor.LoadRegistry(k.AgentsPath())
		if err != nil {
			fatal(err)
		}
		replaced := false
		for i, a := range reg.Agents {
			if a.ID == args[0] {
				reg.Agents[i].Type = agentType
				reg.Agents[i].Capabilities = caps
				replaced = true
				break
			}
		}
		if !replaced {
			reg.Agents = append(reg.Agents, supervisor.Agent{
				ID:           args[0],
				Type:         agentType,
				Capabilities: caps,
			})
		}
		if err := supervisor.SaveRegistry(k.AgentsPath(), reg); err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"ok": true, "agent": args[0]})
			return
		}
		fmt.Printf("%s registered %s [%s]\n", ui.RenderPass("✓"), args[0], strings.Join(caps, ", "))
	},
}

var agentModeCmd = &cobra.Command{
	Use:   "mode [disabled|advisory|strict]",
	Short: "Show or set the capability enforcement mode",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		reg, err := supervisor.LoadRegistry(k.AgentsPath())
		if err != nil {
			fatal(err)
		}
		if len(args) == 0 {
			if jsonOutput {
				outputJSON(map[string]string{"mode": reg.EnforcementMode})
				return
			}
			fmt.Println(reg.EnforcementMode)
			return
		}
		reg.EnforcementMode = supervisor.NormalizeEnforcementMode(args[0])
		if err := supervisor.SaveRegistry(k.AgentsPath(), reg); err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"mode": reg.EnforcementMode})
			return
		}
		fmt.Printf("%s enforcement mode: %s\n", ui.RenderPass("✓"), reg.EnforcementMode)
	},
}

func init() {
	agentRegisterCmd.Flags().String("type", "human", "Agent type (human, llm, service)")
	agentRegisterCmd.Flags().StringSlice("capabilities", nil, "Capability tags from the taxonomy")
	agentCmd.AddCommand(agentListCmd, agentRegisterCmd, agentModeCmd)
	rootCmd.AddCommand(agentCmd)
}
