package tokenfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileNotFound(t *testing.T) {
	tf, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, tf)
	assert.NoError(t, err)
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, "tok-123", "https://plots.example.com"))

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tf.Token)
	assert.Equal(t, "https://plots.example.com", tf.ServerURL)
	assert.Positive(t, tf.SavedAt)
}

func TestLoad_MissingTokenField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"server_url":"https://x"}`), 0o600))

	tf, err := Load(path)
	assert.Nil(t, tf)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	tf, err := Load(path)
	assert.Nil(t, tf)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "sub", "dir", "token.json")

	require.NoError(t, Save(nested, "tok", ""))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, "tok", ""))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, "first", "https://a.example.com"))
	require.NoError(t, Save(path, "second", "https://b.example.com"))

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "second", tf.Token)
	assert.Equal(t, "https://b.example.com", tf.ServerURL)
}

func TestDelete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, "tok", ""))
	require.NoError(t, Delete(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDelete_MissingFileIsNotAnError(t *testing.T) {
	assert.NoError(t, Delete(filepath.Join(t.TempDir(), "nope.json")))
}
