package easyrsa

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// writeFakeInstall populates dir with an entry point so inspectDir accepts it.
func writeFakeInstall(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	name := entryPoint
	if runtime.GOOS == "windows" {
		name += ".bat"
	}
	bin := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return bin
}

// requireNoSystemInstall skips the test on hosts that happen to have a real
// easy-rsa package installed, where negative lookups cannot be asserted.
func requireNoSystemInstall(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	if _, err := Locate(); err == nil {
		t.Skip("host has a system easy-rsa installation")
	}
}

// ---------------------------------------------------------------------------
// Locate
// ---------------------------------------------------------------------------

func TestLocate_ExtraDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tools", "easy-rsa")
	writeFakeInstall(t, dir)

	h, err := Locate(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(h.Dir), "handle dir should be absolute")
	assert.True(t, filepath.IsAbs(h.Bin), "handle bin should be absolute")
	assert.Equal(t, h.Dir, filepath.Dir(h.Bin), "entry point should live in the handle dir")
}

func TestLocate_PrefersExtraDirOrder(t *testing.T) {
	first := filepath.Join(t.TempDir(), "first")
	second := filepath.Join(t.TempDir(), "second")
	writeFakeInstall(t, first)
	writeFakeInstall(t, second)

	h, err := Locate(first, second)
	require.NoError(t, err)

	wantDir, err := filepath.Abs(first)
	require.NoError(t, err)
	assert.Equal(t, wantDir, h.Dir)
}

func TestLocate_SkipsEmptyAndMissingDirs(t *testing.T) {
	good := filepath.Join(t.TempDir(), "install")
	writeFakeInstall(t, good)

	h, err := Locate("", filepath.Join(t.TempDir(), "does-not-exist"), good)
	require.NoError(t, err)

	wantDir, err := filepath.Abs(good)
	require.NoError(t, err)
	assert.Equal(t, wantDir, h.Dir)
}

func TestLocate_Unavailable(t *testing.T) {
	requireNoSystemInstall(t)

	_, err := Locate(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestInspectDir_RejectsDirectoryEntryPoint(t *testing.T) {
	dir := t.TempDir()
	// An entry point that is itself a directory is not runnable.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, entryPoint), 0o755))

	_, ok := inspectDir(dir)
	assert.False(t, ok)
}

func TestInspectDir_EmptyDir(t *testing.T) {
	_, ok := inspectDir(t.TempDir())
	assert.False(t, ok)
}
