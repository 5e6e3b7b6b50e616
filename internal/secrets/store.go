// Package secrets keeps the IMAP master password in the OS keyring, or in an
// encrypted file keyring on headless hosts.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"mailsnooze/internal/config"
)

const (
	keyringPasswordEnv = config.EnvPrefix + "_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential
	keyringBackendEnv  = config.EnvPrefix + "_KEYRING_BACKEND"  //nolint:gosec // env var name, not a credential

	backendAuto = "auto"

	// openTimeout bounds keyring.Open; D-Bus SecretService can hang when
	// gnome-keyring is installed but not running.
	openTimeout = 5 * time.Second
)

var (
	ErrSecretNotFound  = errors.New("secret not found")
	errMissingUser     = errors.New("missing master user")
	errMissingPassword = errors.New("missing password")
	errNoTTY           = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidBackend  = errors.New("invalid keyring backend")
	errKeyringTimeout  = errors.New("keyring connection timed out")
	keyringOpenFunc    = keyring.Open
	openKeyringFunc    = openKeyring
	isTerminal         = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

// Backend resolves the keyring backend from the environment, then the given
// configured value, defaulting to auto detection.
func Backend(configured string) string {
	if v := normalize(os.Getenv(keyringBackendEnv)); v != "" {
		return v
	}
	if v := normalize(configured); v != "" {
		return v
	}
	return backendAuto
}

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", backendAuto:
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s, keychain, secret-service or file)", errInvalidBackend, backend, backendAuto)
	}
}

func filePasswordPrompt(password string, set bool, tty bool) keyring.PromptFunc {
	// An empty passphrase set explicitly is valid.
	if set {
		return keyring.FixedStringPrompt(password)
	}
	if tty {
		return keyring.TerminalPrompt
	}
	return func(string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func openKeyring(backend string) (keyring.Keyring, error) {
	dir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbus := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	auto := backend == backendAuto && runtime.GOOS == "linux"
	if auto && dbus == "" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	password, set := os.LookupEnv(keyringPasswordEnv)
	cfg := keyring.Config{
		ServiceName:      config.AppName,
		AllowedBackends:  backends,
		FileDir:          dir,
		FilePasswordFunc: filePasswordPrompt(password, set, isTerminal()),
	}

	if !auto || dbus == "" {
		ring, err := keyringOpenFunc(cfg)
		if err != nil {
			return nil, fmt.Errorf("open keyring: %w", err)
		}
		return ring, nil
	}
	return openWithTimeout(cfg, openTimeout)
}

type openResult struct {
	ring keyring.Keyring
	err  error
}

func openWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan openResult, 1)
	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- openResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v; set %s=file and %s to use the encrypted file keyring",
			errKeyringTimeout, timeout, keyringBackendEnv, keyringPasswordEnv)
	}
}

// SetPassword stores the master password for masterUser.
func SetPassword(backend, masterUser, password string) error {
	user := normalize(masterUser)
	if user == "" {
		return errMissingUser
	}
	if password == "" {
		return errMissingPassword
	}

	ring, err := openKeyringFunc(Backend(backend))
	if err != nil {
		return err
	}
	item := keyring.Item{
		Key:   passwordKey(user),
		Data:  []byte(password),
		Label: config.AppName + " master password",
	}
	if err := ring.Set(item); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

// GetPassword returns the stored master password for masterUser.
func GetPassword(backend, masterUser string) (string, error) {
	user := normalize(masterUser)
	if user == "" {
		return "", errMissingUser
	}

	ring, err := openKeyringFunc(Backend(backend))
	if err != nil {
		return "", err
	}
	item, err := ring.Get(passwordKey(user))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(item.Data), nil
}

func passwordKey(user string) string {
	return "master:password:" + user
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
