// Package cli implements the guardianeye command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/guardianeye/internal/app"
	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/host"
	"github.com/kylegalloway/guardianeye/internal/locks"
	"github.com/kylegalloway/guardianeye/internal/logging"
)

// hostTimeout bounds every OctoPrint request.
const hostTimeout = 10 * time.Second

var configPath string

// NewRoot builds the root command with every subcommand attached.
func NewRoot(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guardianeye",
		Short: "GuardianEye - AI vision print-failure monitor",
		Long: `GuardianEye watches a 3D printer's camera, asks a vision model whether the
print is failing, and cancels the print after consecutive failure verdicts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "guardianeye.yaml", "path to guardianeye.yaml")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(CheckCmd())
	rootCmd.AddCommand(TestProviderCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(StatsCmd())
	rootCmd.AddCommand(HistoryCmd())
	rootCmd.AddCommand(SessionsCmd())
	rootCmd.AddCommand(MarkFPCmd())
	rootCmd.AddCommand(ClearHistoryCmd())
	rootCmd.AddCommand(VersionCmd(version))

	return rootCmd
}

// VersionCmd returns the version command.
func VersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guardianeye %s\n", version)
		},
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Logging), nil
}

// newHost returns the configured OctoPrint client, or nil when the host is
// disabled or has no URL.
func newHost(cfg *config.Config) (*host.OctoPrint, error) {
	if !cfg.Host.IsEnabled() || cfg.Host.OctoPrintURL == "" {
		return nil, nil
	}
	return host.NewOctoPrint(cfg.Host.OctoPrintURL, cfg.Host.APIKey, hostTimeout)
}

// session is a locked Service for commands that mutate the data directory.
type session struct {
	svc  *app.Service
	lock *locks.Lock
	op   *host.OctoPrint
}

func openSession(cfg *config.Config, log *slog.Logger, withHost bool) (*session, error) {
	lock, err := locks.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	s := &session{lock: lock}

	opts := app.Options{Config: cfg, Log: log}
	if withHost {
		op, err := newHost(cfg)
		if err != nil {
			lock.Release()
			return nil, err
		}
		if op != nil {
			s.op = op
			opts.Host = op
		}
	}
	s.svc = app.New(opts)
	return s, nil
}

func (s *session) Close() {
	s.svc.Close()
	if s.op != nil {
		s.op.Close()
	}
	s.lock.Release()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
