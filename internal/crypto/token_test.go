package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptToken(t *testing.T) {
	blob, err := EncryptToken("  a1-SecretToken  ", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "a1-SecretToken")

	got, err := DecryptToken(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a1-SecretToken", got)

	_, err = DecryptToken(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password")
}

func TestEncryptToken_Rejects(t *testing.T) {
	_, err := EncryptToken("tok", "")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = EncryptToken("   ", "pw")
	assert.Error(t, err)

	_, err = DecryptToken([]byte(`{"version":9}`), "pw")
	assert.ErrorContains(t, err, "unsupported version")
}

func TestLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, WriteTokenFile(path, "sealed-token", "pw"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadToken(TokenSource{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sealed-token", got)

	got, err = LoadToken(TokenSource{Token: "plain", EncryptedPath: path})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	_, err = LoadToken(TokenSource{})
	assert.ErrorIs(t, err, ErrNoToken)
}
