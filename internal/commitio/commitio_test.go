package commitio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edged/edged/internal/commitio"
)

func TestCommitWritesAndBacksUpPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	w, err := commitio.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "old", string(backup))
}

func TestCloseWithoutCommitAbandons(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	w, err := commitio.Create(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("never committed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.ReadFile(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReadFallsBackToBackupOnValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("corrupt"), 0o644))
	require.NoError(t, os.WriteFile(path+".bak", []byte("good"), 0o644))

	valid := func(b []byte) bool { return string(b) == "good" }
	data, err := commitio.Read(path, valid)
	require.NoError(t, err)
	assert.Equal(t, "good", string(data))
}

func TestReadReturnsOriginalErrorWhenNoBackupWorks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")
	_, err := commitio.Read(path, nil)
	assert.Error(t, err)
}
