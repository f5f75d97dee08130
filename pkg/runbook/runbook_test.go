package runbook

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRunbook(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestForAlertLoadsAndMatchesCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	writeRunbook(t, dir, "ContainerDown.md", "# ContainerDown\nRestart the container.")
	writeRunbook(t, dir, "notes.txt", "not a runbook")

	s := NewStore(dir, time.Minute)
	assert.Contains(t, s.ForAlert("ContainerDown"), "Restart the container")
	assert.Contains(t, s.ForAlert("containerdown"), "Restart the container")
	assert.Empty(t, s.ForAlert("notes"))
	assert.Empty(t, s.ForAlert("Unknown"))
}

func TestListSorted(t *testing.T) {
	dir := t.TempDir()
	writeRunbook(t, dir, "ZfsDegraded.md", "z")
	writeRunbook(t, dir, "ContainerDown.md", "c")

	s := NewStore(dir, time.Minute)
	assert.Equal(t, []string{"containerdown", "zfsdegraded"}, s.List())
}

func TestReloadPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, time.Hour)
	assert.Empty(t, s.List())

	writeRunbook(t, dir, "DiskSpaceLow.md", "free up space")
	// TTL has not lapsed; only an explicit reload sees the new file.
	assert.Empty(t, s.ForAlert("DiskSpaceLow"))

	n, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, s.ForAlert("DiskSpaceLow"), "free up space")
}

func TestMissingDirectoryIsEmptyNotFatal(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"), time.Minute)
	assert.Empty(t, s.List())
	n, err := s.Reload()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOversizeRunbookTruncated(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, maxRunbookBytes+1000)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Huge.md"), big, 0o644))

	s := NewStore(dir, time.Minute)
	assert.Len(t, s.ForAlert("Huge"), maxRunbookBytes)
}
