package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"odcache.click/internal/blockstream"
	"odcache.click/internal/config"
)

func TestConfigInitWritesDefaults(t *testing.T) {
	cli, memFs := newTestCLI(t)
	path := cli.configManager.UserConfigPath()

	res := run(t, cli, "config", "init", "--no-tracking")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "wrote default config to "+path)

	cm := config.NewConfigManagerWithFilesystem(memFs)
	loaded, err := cm.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cm.GetDefaultConfig(), loaded)
}

func TestConfigInitKeepsExistingFile(t *testing.T) {
	cli, memFs := newTestCLI(t)
	path := "/home/user/odcache.json"
	require.NoError(t, afero.WriteFile(memFs, path, []byte(`{"log_level": "error"}`), 0644))

	res := run(t, cli, "config", "init", "--path", path, "--no-tracking")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "already exists")

	data, err := afero.ReadFile(memFs, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"log_level": "error"}`, string(data))

	res = run(t, NewCLIWithFilesystem(memFs), "config", "init", "--path", path, "--force", "--no-tracking")
	require.Equal(t, 0, res.code, res.stderr)

	loaded, err := config.NewConfigManagerWithFilesystem(memFs).LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.LogLevel)
}

func TestConfigInitOnDiskTakesLock(t *testing.T) {
	t.Setenv("ODCACHE_TRACKING", "")
	path := filepath.Join(t.TempDir(), "odcache", "config.json")
	osFs := afero.NewOsFs()

	res := run(t, NewCLIWithFilesystem(osFs), "config", "init", "--path", path, "--no-tracking")
	require.Equal(t, 0, res.code, res.stderr)

	exists, err := afero.Exists(osFs, path)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = afero.Exists(osFs, path+".lock")
	require.NoError(t, err)
	assert.True(t, exists, "writer takes the sibling lock file")

	held := config.NewFileLock(path)
	ok, err := held.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	res = run(t, NewCLIWithFilesystem(osFs), "config", "init", "--path", path, "--force", "--no-tracking")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "locked by another process")
}

func TestConfigShowMergesFlags(t *testing.T) {
	cli, _ := newTestCLI(t)
	t.Setenv("ODCACHE_CACHE_SAMPLES", "")
	t.Setenv("ODCACHE_SEEK_PROBE", "")

	res := run(t, cli, "config", "show", "--cache-samples", "5000", "--seek-probe", "--no-tracking")
	require.Equal(t, 0, res.code, res.stderr)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &cfg))
	require.NotNil(t, cfg.Decode)
	assert.Equal(t, int64(5000), cfg.Decode.CacheSamples)
	assert.True(t, cfg.Decode.SeekProbe)
	assert.Equal(t, int64(blockstream.DefaultBlockSize), cfg.Decode.BlockSize)
	require.NotNil(t, cfg.Tracking)
	assert.False(t, cfg.Tracking.Enabled)
}

func TestCacheSamplesFlagRejectsZero(t *testing.T) {
	cli, _ := newTestCLI(t)
	res := run(t, cli, "config", "show", "--cache-samples", "0", "--no-tracking")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "--cache-samples must be > 0")
}
