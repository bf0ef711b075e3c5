package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kylegalloway/guardianeye/internal/ui"
	"github.com/kylegalloway/guardianeye/internal/vision"
)

// CheckCmd returns the check command.
func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one monitoring cycle now",
		Long: `Capture a snapshot, analyse it and apply the strike policy once. A failure
verdict that reaches the strike threshold cancels the print like a scheduled cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openSession(cfg, log, true)
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.svc.RunOnce()
			fmt.Fprint(cmd.OutOrStdout(), ui.FormatState(st))
			if st.LastVerdict == nil && len(st.Errors) > 0 {
				return fmt.Errorf("check failed: %s", st.Errors[len(st.Errors)-1])
			}
			return nil
		},
	}
}

// TestProviderCmd returns the test-provider command.
func TestProviderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-provider",
		Short: "Check that the configured vision provider answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := vision.New(cfg.Provider, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Provider.Timeout+hostTimeout)
			defer cancel()

			ok, msg := p.TestConnection(ctx)
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed).Sprint("✗"), msg)
				return fmt.Errorf("provider %s unreachable", p.Name())
			}
			fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen).Sprint("✓"), msg)
			return nil
		},
	}
}
