package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kylegalloway/guardianeye/internal/history"
	"github.com/kylegalloway/guardianeye/internal/ui"
)

// HistoryCmd returns the history command.
func HistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verdicts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			entries := history.OpenVerdictLog(afero.NewOsFs(), cfg.DataDir, log).Entries(limit)

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, entries)
			}
			fmt.Fprint(out, ui.FormatHistory(entries))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of verdicts (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// SessionsCmd returns the sessions command.
func SessionsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent print sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			sessions := history.OpenSessionLog(afero.NewOsFs(), cfg.DataDir, log).Sessions(limit)

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, sessions)
			}
			fmt.Fprint(out, ui.FormatSessions(sessions))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of sessions (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// MarkFPCmd returns the mark-fp command.
func MarkFPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-fp <id>",
		Short: "Flag a failure verdict as a false positive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openSession(cfg, log, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.svc.MarkFalsePositive(args[0]) {
				return fmt.Errorf("no verdict with id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as a false positive.\n", args[0])
			return nil
		},
	}
}

// ClearHistoryCmd returns the clear-history command.
func ClearHistoryCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-history",
		Short: "Delete every recorded verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			var prompter ui.Prompter = ui.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			if yes {
				prompter = ui.AlwaysYes{}
			}
			if !prompter.Confirm("Delete all verdict history?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			s, err := openSession(cfg, log, false)
			if err != nil {
				return err
			}
			defer s.Close()

			s.svc.ClearHistory()
			fmt.Fprintln(cmd.OutOrStdout(), "Verdict history cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
