package secrets

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) *keyring.ArrayKeyring {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := openKeyringFunc
	openKeyringFunc = func(string) (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyringFunc = prev })
	return ring
}

func TestPasswordRoundTrip(t *testing.T) {
	useArrayKeyring(t)

	_, err := GetPassword("", "Snoozer")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, SetPassword("", " Snoozer ", "s3cret"))
	got, err := GetPassword("", "snoozer")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestSetPasswordValidates(t *testing.T) {
	useArrayKeyring(t)
	assert.ErrorIs(t, SetPassword("", "", "pw"), errMissingUser)
	assert.ErrorIs(t, SetPassword("", "snoozer", ""), errMissingPassword)
}

func TestBackend(t *testing.T) {
	t.Setenv(keyringBackendEnv, "")
	assert.Equal(t, backendAuto, Backend(""))
	assert.Equal(t, "file", Backend(" File "))

	t.Setenv(keyringBackendEnv, "keychain")
	assert.Equal(t, "keychain", Backend("file"))
}

func TestAllowedBackends(t *testing.T) {
	backends, err := allowedBackends("file")
	require.NoError(t, err)
	assert.Equal(t, []keyring.BackendType{keyring.FileBackend}, backends)

	_, err = allowedBackends("vault")
	assert.ErrorIs(t, err, errInvalidBackend)
}

func TestFilePasswordPrompt(t *testing.T) {
	pw, err := filePasswordPrompt("", true, false)("")
	require.NoError(t, err)
	assert.Equal(t, "", pw)

	_, err = filePasswordPrompt("", false, false)("")
	assert.ErrorIs(t, err, errNoTTY)
}
