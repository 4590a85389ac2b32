package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	first := NewFileLock(path)
	second := NewFileLock(path)

	ok, err := first.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held by the first holder")

	require.NoError(t, first.Unlock())
	ok, err = second.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock())
}

func TestLockerForOnlyLocksRealFiles(t *testing.T) {
	assert.Nil(t, lockerFor(afero.NewMemMapFs(), "/config.json"))
	assert.NotNil(t, lockerFor(afero.NewOsFs(), "/tmp/config.json"))
}

func TestSaveToFileOnDisk(t *testing.T) {
	cm := NewConfigManagerWithFilesystem(afero.NewOsFs())
	path := filepath.Join(t.TempDir(), "odcache", "config.json")

	cfg := cm.GetDefaultConfig()
	cfg.LogLevel = "debug"
	require.NoError(t, cm.SaveToFile(cfg, path))

	loaded, err := cm.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
}

func TestSaveToFileFailsWhileLocked(t *testing.T) {
	cm := NewConfigManagerWithFilesystem(afero.NewOsFs())
	path := filepath.Join(t.TempDir(), "config.json")

	held := NewFileLock(path)
	ok, err := held.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	err = cm.SaveToFile(cm.GetDefaultConfig(), path)
	assert.ErrorContains(t, err, "locked by another process")
}
