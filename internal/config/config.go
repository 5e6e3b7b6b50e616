package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	GatewayDoveadm = "doveadm"
	GatewayIMAP    = "imap"
)

var ErrUnknownGateway = errors.New("unknown gateway")

type Config struct {
	Gateway string        `mapstructure:"gateway" yaml:"gateway"`
	Doveadm DoveadmConfig `mapstructure:"doveadm" yaml:"doveadm"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Snooze  SnoozeConfig  `mapstructure:"snooze" yaml:"snooze"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Daemon  DaemonConfig  `mapstructure:"daemon" yaml:"daemon"`
	Users   []string      `mapstructure:"users" yaml:"users"`
	Debug   bool          `mapstructure:"debug" yaml:"debug"`
}

type DoveadmConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type IMAPConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool   `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// AuthConfig holds the dovecot master user the IMAP gateway logs in as on
// behalf of each mailbox owner.
type AuthConfig struct {
	MasterUser string `mapstructure:"master_user" yaml:"master_user"`
	Password   string `mapstructure:"password" yaml:"password"`
	// LoginFormat builds the IMAP login name from {user} and {master}.
	LoginFormat    string `mapstructure:"login_format" yaml:"login_format"`
	KeyringBackend string `mapstructure:"keyring_backend" yaml:"keyring_backend"`
	PasswordSource string `mapstructure:"-" yaml:"-"`
}

type SnoozeConfig struct {
	Root     string `mapstructure:"root" yaml:"root"`
	Inbox    string `mapstructure:"inbox" yaml:"inbox"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type DaemonConfig struct {
	// Schedule is a cron expression with a leading seconds field.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

func DefaultConfig() Config {
	return Config{
		Gateway: GatewayDoveadm,
		Doveadm: DoveadmConfig{Path: "/usr/bin/doveadm"},
		IMAP: IMAPConfig{
			Host: "localhost",
			Port: 993,
			TLS:  true,
		},
		Auth: AuthConfig{
			LoginFormat: "{user}*{master}",
		},
		Snooze: SnoozeConfig{
			Root:  "Snooze",
			Inbox: "INBOX",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Daemon: DaemonConfig{
			Schedule: "0 * * * * *",
		},
	}
}

func ConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path, or the default config file when path is empty. A missing
// default file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := EnsureDir(); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("gateway", cfg.Gateway)
	v.SetDefault("doveadm.path", cfg.Doveadm.Path)

	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)

	v.SetDefault("auth.master_user", cfg.Auth.MasterUser)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("auth.login_format", cfg.Auth.LoginFormat)
	v.SetDefault("auth.keyring_backend", cfg.Auth.KeyringBackend)

	v.SetDefault("snooze.root", cfg.Snooze.Root)
	v.SetDefault("snooze.inbox", cfg.Snooze.Inbox)
	v.SetDefault("snooze.timezone", cfg.Snooze.Timezone)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("daemon.schedule", cfg.Daemon.Schedule)
	v.SetDefault("debug", cfg.Debug)
}

// LoginName is the IMAP login used to act on user's mailbox.
func (c AuthConfig) LoginName(user string) string {
	format := c.LoginFormat
	if format == "" {
		format = "{user}*{master}"
	}
	return strings.NewReplacer("{user}", user, "{master}", c.MasterUser).Replace(format)
}

// Location resolves the snooze timezone; empty means the local zone.
func (c SnoozeConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("snooze.timezone: %w", err)
	}
	return loc, nil
}

func Validate(cfg Config) error {
	switch cfg.Gateway {
	case GatewayDoveadm:
		return ValidateDoveadm(cfg)
	case GatewayIMAP:
		return ValidateIMAP(cfg)
	default:
		return fmt.Errorf("%w %q (expected %s or %s)", ErrUnknownGateway, cfg.Gateway, GatewayDoveadm, GatewayIMAP)
	}
}

func ValidateDoveadm(cfg Config) error {
	if cfg.Doveadm.Path == "" {
		return fmt.Errorf("doveadm.path is required")
	}
	return nil
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.Auth.MasterUser == "" {
		return fmt.Errorf("auth.master_user is required")
	}
	if cfg.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}
	return nil
}
