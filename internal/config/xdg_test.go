package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXDGConfigPaths(t *testing.T) {
	paths := NewXDGDirs().GetConfigPaths("config.json")
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.True(t, strings.HasSuffix(p, filepath.Join("odcache", "config.json")), p)
	}

	bare := NewXDGDirs().GetConfigPaths("")
	assert.Len(t, bare, len(paths))
	assert.True(t, strings.HasSuffix(bare[0], "odcache"))
}

func TestXDGCachePath(t *testing.T) {
	x := NewXDGDirs()
	assert.True(t, strings.HasSuffix(x.GetCachePath(""), "odcache"))
	assert.True(t, strings.HasSuffix(x.GetCachePath("logs"), filepath.Join("odcache", "logs")))
}

func TestXDGCreateCacheDir(t *testing.T) {
	memFS := afero.NewMemMapFs()
	x := NewXDGDirsWithFilesystem(memFS)

	require.NoError(t, x.CreateCacheDir("tracking"))
	exists, err := afero.DirExists(memFS, x.GetCachePath("tracking"))
	require.NoError(t, err)
	assert.True(t, exists)

	ro := NewXDGDirsWithFilesystem(afero.NewReadOnlyFs(afero.NewMemMapFs()))
	assert.Error(t, ro.CreateCacheDir("tracking"))
}
