package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mailsnooze/internal/schedule"

	"github.com/spf13/cobra"
)

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	var spec string

	cmd := &cobra.Command{
		Use:   "daemon [user...]",
		Short: "Sweep on a schedule instead of from cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(cmd, opts, args)
			if err != nil {
				return err
			}
			if spec == "" {
				spec = a.cfg.Daemon.Schedule
			}

			runner := schedule.NewRunner(a.log)
			if _, err := runner.Add(ctx, spec, func(ctx context.Context) { a.sweep(ctx) }); err != nil {
				return err
			}
			a.log.Info("daemon started", "users", len(a.users), "gateway", a.cfg.Gateway)
			runner.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "schedule", "", "Cron expression with seconds field (default from config, every minute)")

	return cmd
}
