package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/governedworks/wbs/internal/config"
	"github.com/governedworks/wbs/internal/server"
	"github.com/governedworks/wbs/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "admin",
	Short:   "Serve the project over HTTP",
	Long: `Serve the lifecycle API over HTTP. The server verifies project
integrity at startup (refusing to start in strict mode when it fails) and
keeps the /v1/integrity report fresh by watching the state file.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = config.GetString("server.addr")
		}
		strict, _ := cmd.Flags().GetBool("strict")
		if !cmd.Flags().Changed("strict") {
			strict = config.GetBool("integrity.strict")
		}

		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		srv, err := server.New(k, server.Options{
			IntegrityMode: config.GetString("integrity.mode"),
			Strict:        strict,
		})
		if err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := srv.Watch(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: state watcher unavailable: %v\n", err)
		}

		if !srv.Report().OK {
			fmt.Println(ui.RenderWarn("⚠ serving with integrity errors; see /v1/integrity"))
		}
		fmt.Printf("listening on %s\n", addr)
		if err := srv.ListenAndServe(addr); err != nil {
			fatal(err)
		}
	},
}

var replayCmd = &cobra.Command{
	Use:     "replay",
	GroupID: "ledger",
	Short:   "Replay the activity log and diff it against live state",
	Long: `Rebuild packet state by folding the activity log from the start and
report any divergence from the live state file. A clean replay means the log
alone explains where every packet stands.`,
	Run: func(cmd *cobra.Command, args []string) {
		k, err := openKernel()
		if err != nil {
			fatal(err)
		}
		divergences, err := k.ReplayDivergences()
		if err != nil {
			fatal(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"ok": len(divergences) == 0, "divergences": divergences})
		} else if len(divergences) == 0 {
			fmt.Printf("%s replay matches live state\n", ui.RenderPass("✓"))
		} else {
			for _, d := range divergences {
				fmt.Println(ui.RenderFail("✗ " + d))
			}
		}
		if len(divergences) > 0 {
			exitIntegrityFailure()
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("strict", false, "Refuse to start when integrity verification fails")
	rootCmd.AddCommand(serveCmd, replayCmd)
}
