package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newFoldersCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List the snooze folders and when mail filed now would return",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			loc, err := cfg.Snooze.Location()
			if err != nil {
				return err
			}
			printFolders(cmd.OutOrStdout(), cfg.Snooze.Root, time.Now().In(loc))
			return nil
		},
	}
	return cmd
}
