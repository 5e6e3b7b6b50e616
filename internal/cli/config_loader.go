package cli

import (
	"errors"
	"log/slog"
	"os"

	"mailsnooze/internal/config"
	"mailsnooze/internal/doveadm"
	"mailsnooze/internal/imap"
	"mailsnooze/internal/logging"
	"mailsnooze/internal/secrets"
	"mailsnooze/internal/snooze"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// loadConfig reads the config file and applies flag overrides. The master
// password is looked up in the keyring when neither env nor file set it.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("gateway") {
		cfg.Gateway = opts.gateway
	}
	if flags.Changed("doveadm") {
		cfg.Doveadm.Path = opts.doveadm
	}
	if flags.Changed("debug") {
		cfg.Debug = opts.debug
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}

	if _, ok := os.LookupEnv(config.EnvPrefix + "_AUTH_PASSWORD"); ok {
		cfg.Auth.PasswordSource = "env"
		return cfg, nil
	}
	if cfg.Auth.Password != "" {
		cfg.Auth.PasswordSource = "config"
		return cfg, nil
	}
	if cfg.Gateway != config.GatewayIMAP || cfg.Auth.MasterUser == "" {
		return cfg, nil
	}

	password, err := secrets.GetPassword(cfg.Auth.KeyringBackend, cfg.Auth.MasterUser)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return cfg, nil
		}
		return cfg, err
	}

	cfg.Auth.Password = password
	cfg.Auth.PasswordSource = "keyring"
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := cfg.Log.Level
	if cfg.Debug {
		level = "debug"
	}
	noColor := true
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format, noColor)
}

func newGateway(cfg config.Config, log *slog.Logger) (snooze.Gateway, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Gateway == config.GatewayIMAP {
		return imap.NewService(cfg), nil
	}
	return doveadm.NewGateway(cfg.Doveadm.Path, log), nil
}

// app is everything a sweep needs, built once per command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	gateway snooze.Gateway
	engine  *snooze.Engine
	users   []string
}

func newApp(cmd *cobra.Command, opts *globalOptions, users []string) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		users = cfg.Users
	}
	if len(users) == 0 {
		return nil, ErrNoUsers
	}

	log := newLogger(cmd, cfg)
	gw, err := newGateway(cfg, log)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Snooze.Location()
	if err != nil {
		return nil, err
	}

	engine := snooze.NewEngine(gw, log)
	engine.Location = loc
	engine.Root = cfg.Snooze.Root
	engine.Inbox = cfg.Snooze.Inbox

	return &app{cfg: cfg, log: log, gateway: gw, engine: engine, users: users}, nil
}
