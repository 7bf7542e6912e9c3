package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/config"
	"github.com/governedworks/wbs/internal/debug"
	"github.com/governedworks/wbs/internal/kernel"
	"github.com/governedworks/wbs/internal/mirror"
	"github.com/governedworks/wbs/internal/types"
	"github.com/governedworks/wbs/internal/ui"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "wbs",
	Short: "Governed work-packet orchestration",
	Long: `wbs coordinates work packets through a governed lifecycle: every
transition is policy-checked, recorded in an append-only commit ledger,
and verifiable after the fact.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		ui.Init()
		if !cmd.Flags().Changed("json") {
			jsonOutput = config.GetBool("json")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddGroup(
		&cobra.Group{ID: "packets", Title: "Packet lifecycle:"},
		&cobra.Group{ID: "views", Title: "Project views:"},
		&cobra.Group{ID: "ledger", Title: "Ledger and integrity:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}

// exitCodeFor partitions failures: domain errors (bad request, policy,
// precondition) exit 1, infrastructure errors (locks, IO, corruption) exit 2.
func exitCodeFor(err error) int {
	var ke *types.Error
	if !errors.As(err, &ke) {
		return 1
	}
	switch ke.Kind {
	case types.ErrLockTimeout, types.ErrIO, types.ErrIntegrity, types.ErrSchemaMismatch:
		return 2
	default:
		return 1
	}
}

// fatal reports err and exits. JSON mode emits a machine-readable envelope.
func fatal(err error) {
	if jsonOutput {
		payload, _ := json.Marshal(map[string]any{"ok": false, "error": err.Error()})
		fmt.Println(string(payload))
	} else {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
	}
	os.Exit(exitCodeFor(err))
}

// outputJSON marshals v to stdout with indentation.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(2)
	}
}

// projectRoot locates the enclosing project or fails.
func projectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root := config.FindProjectRoot(cwd)
	if root == "" {
		return "", types.NewError(types.ErrNotFound, "no wbs project found; run `wbs init <definition>` first")
	}
	return root, nil
}

// openKernel opens the enclosing project with configured lock settings and
// the mirror observer when enabled.
func openKernel() (*kernel.Kernel, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	debug.SetLogDir(kernel.ProjectDir(root))
	k, err := kernel.Open(root, kernel.Config{
		LockTimeout: config.GetDuration("lock-timeout"),
		StaleAfter:  config.GetDuration("lock-stale-after"),
	})
	if err != nil {
		return nil, err
	}
	if config.GetBool("mirror.enabled") {
		m := mirror.New(kernel.ProjectDir(root), config.GetBool("mirror.git"), k.Ledger.Root)
		m.Warn = func(err error) { fmt.Fprintf(os.Stderr, "Warning: mirror: %v\n", err) }
		k.Observers = append(k.Observers, m.Observer())
	}
	return k, nil
}

// resolveAgent applies the --agent flag then the configured actor chain.
func resolveAgent(cmd *cobra.Command) string {
	flagValue, _ := cmd.Flags().GetString("agent")
	return config.GetActor(flagValue)
}

// printTransition renders a transition result for humans or machines.
func printTransition(res *kernel.TransitionResult) {
	if jsonOutput {
		outputJSON(res)
		return
	}
	fmt.Printf("%s %s\n", ui.RenderPass("✓"), res.Message)
	if res.Warning != "" {
		fmt.Println(ui.RenderWarn("⚠ " + res.Warning))
	}
	for _, id := range res.Blocked {
		fmt.Println(ui.RenderWarn("  blocked: " + id))
	}
}
