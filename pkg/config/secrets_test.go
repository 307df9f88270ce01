package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HasSecretsFile(dir))

	secrets := map[string]string{APITokenSecret: "tok-12345"}
	require.NoError(t, SaveSecrets(dir, "correct horse", secrets))
	assert.True(t, HasSecretsFile(dir))

	loaded, err := LoadSecrets(dir, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secrets, loaded)
}

func TestLoadSecrets_WrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveSecrets(dir, "correct horse", map[string]string{APITokenSecret: "tok-12345"}))

	_, err := LoadSecrets(dir, "battery staple")
	assert.ErrorContains(t, err, "failed to decrypt")
}

func TestGetAPIToken_EnvTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveSecrets(dir, "pass", map[string]string{APITokenSecret: "from-file"}))

	t.Setenv(APITokenEnv, "from-env")
	token, err := GetAPIToken(dir, "pass")
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestGetAPIToken_FromSecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(APITokenEnv, "")
	require.NoError(t, SaveSecrets(dir, "pass", map[string]string{APITokenSecret: "from-file"}))

	token, err := GetAPIToken(dir, "pass")
	require.NoError(t, err)
	assert.Equal(t, "from-file", token)
}

func TestGetAPIToken_NoSources(t *testing.T) {
	t.Setenv(APITokenEnv, "")
	_, err := GetAPIToken(t.TempDir(), "pass")
	assert.Error(t, err)
}

func TestGetAPIToken_MissingEntry(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(APITokenEnv, "")
	require.NoError(t, SaveSecrets(dir, "pass", map[string]string{"other": "x"}))

	_, err := GetAPIToken(dir, "pass")
	assert.ErrorContains(t, err, "no api_token entry")
}
