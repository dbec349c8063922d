// framesched runs a fixed-rate frame loop driving a cooperative task and
// timer scheduler.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"framesched/internal/app"
	"framesched/internal/config"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:          "framesched",
		Short:        "Frame-driven task and timer scheduler",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./configs/framesched.yaml", "path to config (yaml or json)")

	root.AddCommand(runCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the frame loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(cfgPath)
			if err != nil {
				return fmt.Errorf("fatal: %w", err)
			}
			return a.Run(ctx)
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config, then print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(cfgPath).Load()
			if err != nil {
				return err
			}
			settings, err := cfg.Scheduler.Settings()
			if err != nil {
				return err
			}
			// Diffing against an empty config lists every populated section.
			sections, _ := config.SummarizeConfigChange(&config.Config{}, cfg)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", cfgPath)
			fmt.Fprintf(out, "  max_running=%d tick_rate=%g backlog_warn=%d\n",
				settings.MaxRunning, settings.TickRate, settings.BacklogWarn)
			fmt.Fprintf(out, "  timers=%d tasks=%d\n", len(cfg.Timers), len(cfg.Tasks))
			for _, tc := range cfg.Timers {
				s, _ := config.ParseSchedule(tc.Every)
				fmt.Fprintf(out, "    timer %-16s %-8s %s\n", tc.Name, tc.Action, s)
			}
			if len(sections) > 0 {
				fmt.Fprintf(out, "  sections: %s\n", strings.Join(sections, ", "))
			}
			return nil
		},
	}
}
