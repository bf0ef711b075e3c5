package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kylegalloway/guardianeye/internal/app"
	"github.com/kylegalloway/guardianeye/internal/cost"
	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/state"
	"github.com/kylegalloway/guardianeye/internal/ui"
)

// StatusCmd returns the status command. It reads the state file the daemon
// writes, so it works while the daemon holds the lock.
func StatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the monitor's last published state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			st, err := state.NewManager(afero.NewOsFs(), cfg.DataDir).Load()
			if errors.Is(err, state.ErrNoState) {
				fmt.Fprintln(out, "No monitoring state recorded.")
				return nil
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(out, st)
			}
			fmt.Fprint(out, ui.FormatState(st))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// StatsCmd returns the stats command.
func StatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show verdict statistics and lifetime spend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			fs := afero.NewOsFs()

			tracker := cost.NewTracker(fs, filepath.Join(cfg.DataDir, app.CostFile), log)
			if err := tracker.Load(); err != nil {
				log.Warn("lifetime cost unavailable", "err", err)
			}
			stats := app.Statistics{
				Statistics: history.OpenVerdictLog(fs, cfg.DataDir, log).Statistics(),
				Cost:       tracker.Totals(),
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, stats)
			}
			fmt.Fprint(out, ui.FormatStatistics(stats.Statistics, stats.Cost))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
