package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/guardianeye/internal/app"
	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/host"
	"github.com/kylegalloway/guardianeye/internal/locks"
	"github.com/kylegalloway/guardianeye/internal/monitor"
	"github.com/kylegalloway/guardianeye/internal/snapshot"
	"github.com/kylegalloway/guardianeye/internal/ui"
)

// RunCmd returns the run command.
func RunCmd() *cobra.Command {
	var startNow bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor prints until interrupted",
		Long: `Run the monitor daemon. With an OctoPrint host configured, monitoring starts
and stops with each print. Without one, use --start to monitor immediately.

The first SIGINT/SIGTERM shuts down gracefully; a second forces exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			lock, err := locks.Acquire(cfg.DataDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			if err := snapshot.CheckDiskSpace(cfg.DataDir, cfg.Snapshot.MinFreeMB); err != nil {
				log.Warn("disk space check", "err", err)
			}

			op, err := newHost(cfg)
			if err != nil {
				return err
			}
			opts := app.Options{
				Config: cfg,
				Log:    log,
				OnState: func(s monitor.State) {
					fmt.Fprintln(out, ui.FormatCycle(s))
				},
			}
			if op != nil {
				defer op.Close()
				opts.Host = op
			}
			svc := app.New(opts)
			defer svc.Close()

			w, err := config.Watch(configPath, svc.ReloadConfig, log)
			if err != nil {
				log.Warn("config hot reload disabled", "err", err)
			} else {
				defer w.Close()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case sig := <-sigCh:
					fmt.Fprintf(os.Stderr, "\nReceived %s, shutting down gracefully...\n", sig)
					cancel()
				case <-ctx.Done():
					return
				}
				// If we get a second signal, force exit
				<-sigCh
				exitf("Force exit.\n")
			}()

			events := make(chan host.Event, 16)
			if op != nil {
				go host.NewPoller(op, cfg.Host.PollInterval, log).Run(ctx, events)
			}

			fmt.Fprintf(out, "GuardianEye monitoring with %s/%s\n", cfg.Provider.Name, cfg.Provider.Model)
			if op == nil && !startNow {
				fmt.Fprintln(out, "No OctoPrint host configured; pass --start to monitor now.")
			}
			if startNow {
				svc.Start("")
			}

			for {
				select {
				case ev := <-events:
					svc.HandleEvent(ev)
				case <-ctx.Done():
					fmt.Fprint(out, ui.FormatState(svc.State()))
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&startNow, "start", false, "start monitoring immediately")
	return cmd
}
