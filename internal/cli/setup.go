package cli

import (
	"fmt"

	"mailsnooze/internal/snooze"

	"github.com/spf13/cobra"
)

func newSetupCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup [user...]",
		Short: "Create and subscribe the snooze folders for users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, args)
			if err != nil {
				return err
			}
			creator, ok := a.gateway.(snooze.FolderCreator)
			if !ok {
				return fmt.Errorf("gateway %s cannot create folders", a.cfg.Gateway)
			}

			root := a.cfg.Snooze.Root
			folders := append([]string{root}, snooze.Folders(root)...)
			for _, user := range a.users {
				for _, folder := range folders {
					if err := creator.CreateFolder(cmd.Context(), user, folder); err != nil {
						return fmt.Errorf("create %q for %s: %w", folder, user, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d folders ready\n", user, len(folders))
			}
			return nil
		},
	}
	return cmd
}
