package config

import (
	"log/slog"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"
)

const appDir = "odcache"

// XDGDirs provides XDG Base Directory compliant paths for odcache
type XDGDirs struct {
	fs afero.Fs
}

// NewXDGDirs creates a new XDG directory manager on the OS filesystem
func NewXDGDirs() *XDGDirs {
	return NewXDGDirsWithFilesystem(afero.NewOsFs())
}

// NewXDGDirsWithFilesystem creates an XDG directory manager that creates
// directories through fs
func NewXDGDirsWithFilesystem(fs afero.Fs) *XDGDirs {
	return &XDGDirs{fs: fs}
}

// GetCachePath returns the cache directory path for a specific purpose
func (x *XDGDirs) GetCachePath(purpose string) string {
	baseDir := appDir
	if purpose != "" {
		baseDir = filepath.Join(baseDir, purpose)
	}

	cachePath := filepath.Join(xdg.CacheHome, baseDir)

	slog.Debug("generated cache path",
		"purpose", purpose,
		"cache_path", cachePath)

	return cachePath
}

// GetConfigPaths returns prioritized paths where config files can be found
// Returns paths in search order: user config dir, then system config dirs
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	var paths []string

	userConfigPath := filepath.Join(xdg.ConfigHome, appDir)
	if filename != "" {
		userConfigPath = filepath.Join(userConfigPath, filename)
	}
	paths = append(paths, userConfigPath)

	for _, configDir := range xdg.ConfigDirs {
		systemConfigPath := filepath.Join(configDir, appDir)
		if filename != "" {
			systemConfigPath = filepath.Join(systemConfigPath, filename)
		}
		paths = append(paths, systemConfigPath)
	}

	slog.Debug("generated config paths",
		"filename", filename,
		"total_paths", len(paths),
		"user_path", userConfigPath,
		"system_paths", len(xdg.ConfigDirs))

	return paths
}

// CreateCacheDir creates the cache directory for a specific purpose
func (x *XDGDirs) CreateCacheDir(purpose string) error {
	cachePath := x.GetCachePath(purpose)

	err := x.fs.MkdirAll(cachePath, 0755)
	if err != nil {
		slog.Error("failed to create cache directory", "path", cachePath, "error", err)
		return err
	}

	slog.Debug("cache directory ready", "path", cachePath)
	return nil
}
