package cli

import (
	"fmt"

	"mailsnooze/internal/config"
	"mailsnooze/internal/secrets"

	"github.com/spf13/cobra"
)

func newAuthCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "IMAP master user credentials",
	}
	cmd.AddCommand(newAuthLoginCmd(opts))
	return cmd
}

func newAuthLoginCmd(opts *globalOptions) *cobra.Command {
	var (
		imapHost     string
		imapPort     int
		imapTLS      bool
		imapStartTLS bool
		imapInsecure bool

		masterUser     string
		password       string
		loginFormat    string
		keyringBackend string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the IMAP gateway settings and master password",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			cfg.Gateway = config.GatewayIMAP

			if cmd.Flags().Changed("imap-host") {
				cfg.IMAP.Host = imapHost
			}
			if cmd.Flags().Changed("imap-port") {
				cfg.IMAP.Port = imapPort
			}
			if cmd.Flags().Changed("imap-tls") {
				cfg.IMAP.TLS = imapTLS
			}
			if cmd.Flags().Changed("imap-starttls") {
				cfg.IMAP.StartTLS = imapStartTLS
			}
			if cmd.Flags().Changed("imap-insecure") {
				cfg.IMAP.InsecureSkipVerify = imapInsecure
			}
			if cmd.Flags().Changed("master-user") {
				cfg.Auth.MasterUser = masterUser
			}
			if cmd.Flags().Changed("login-format") {
				cfg.Auth.LoginFormat = loginFormat
			}
			if cmd.Flags().Changed("keyring-backend") {
				cfg.Auth.KeyringBackend = keyringBackend
			}

			// Validation needs a password; it is kept out of the saved file.
			probe := cfg
			probe.Auth.Password = password
			if err := config.ValidateIMAP(probe); err != nil {
				return err
			}
			if err := secrets.SetPassword(cfg.Auth.KeyringBackend, cfg.Auth.MasterUser, password); err != nil {
				return err
			}

			cfg.Auth.Password = ""
			path, err := config.Save(cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s, password stored in keyring\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&imapHost, "imap-host", "", "IMAP host")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port")
	cmd.Flags().BoolVar(&imapTLS, "imap-tls", false, "Use IMAP TLS")
	cmd.Flags().BoolVar(&imapStartTLS, "imap-starttls", false, "Use IMAP STARTTLS")
	cmd.Flags().BoolVar(&imapInsecure, "imap-insecure", false, "Skip IMAP TLS verification")

	cmd.Flags().StringVar(&masterUser, "master-user", "", "Dovecot master user")
	cmd.Flags().StringVar(&password, "password", "", "Master user password")
	cmd.Flags().StringVar(&loginFormat, "login-format", "", "Login name template using {user} and {master}")
	cmd.Flags().StringVar(&keyringBackend, "keyring-backend", "", "Keyring backend: auto, keychain, secret-service or file")

	return cmd
}
