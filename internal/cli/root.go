package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mailsnooze/internal/snooze"

	"github.com/spf13/cobra"
)

var ErrNoUsers = errors.New("the last arguments of this program must be one or more users (separated by spaces)")

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configPath string
	gateway    string
	doveadm    string
	debug      bool
	logFormat  string
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "mailsnooze [flags] user [user...]",
		Short: "Snooze mail in dovecot folders and move it back to the inbox when due",
		Long: "Marks mail filed under the Snooze folders with a MoveAt<timestamp> keyword and moves it\n" +
			"back to the inbox, unread, once that time has passed. Run it every minute from cron,\n" +
			"e.g. mailsnooze --doveadm=/usr/bin/doveadm john mary joe",
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(cmd, opts, args)
			if err != nil {
				return err
			}
			a.engine.DryRun = dryRun
			a.sweep(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/mailsnooze/config.yaml)")
	flags.StringVar(&opts.gateway, "gateway", "", "Mail store gateway: doveadm or imap")
	flags.StringVar(&opts.doveadm, "doveadm", "", "Path to doveadm binary (default /usr/bin/doveadm)")
	flags.BoolVar(&opts.debug, "debug", false, "Debug output about what is going on")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log intended changes without modifying mail")

	cmd.AddCommand(newDaemonCmd(opts))
	cmd.AddCommand(newSetupCmd(opts))
	cmd.AddCommand(newFoldersCmd(opts))
	cmd.AddCommand(newAuthCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func (a *app) sweep(ctx context.Context) snooze.Report {
	a.log.Debug("starting sweep", "users", a.users, "gateway", a.cfg.Gateway)
	rep := a.engine.Sweep(ctx, a.users)
	if rep.OK() {
		a.log.Info("sweep finished", "report", rep)
	} else {
		a.log.Warn("sweep finished with errors", "report", rep)
	}
	return rep
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
