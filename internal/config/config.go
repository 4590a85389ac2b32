package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"odcache.click/internal/blockstream"
	"odcache.click/internal/ondemand"
)

// saveLockTimeout bounds how long SaveToFile waits for another writer
const saveLockTimeout = 2 * time.Second

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// DecodeConfig holds the decoder tuning knobs
type DecodeConfig struct {
	CacheSamples    int64 `json:"cache_samples"`     // Sample cache capacity
	SeekTolerance   int64 `json:"seek_tolerance"`    // Forward distance decoded through instead of seeking
	MaxSeekAttempts int   `json:"max_seek_attempts"` // Seek retries before giving up on seeking
	SearchThreshold int   `json:"search_threshold"`  // Cached ranges before fills binary search
	SeekProbe       bool  `json:"seek_probe"`        // Probe the demuxer for seek support
	BlockSize       int64 `json:"block_size"`        // Block length for sequential reads
}

// Options turns the decode config into decoder options
func (d *DecodeConfig) Options() []ondemand.Option {
	opts := []ondemand.Option{
		ondemand.WithCacheCapacity(d.CacheSamples),
		ondemand.WithSeekTolerance(d.SeekTolerance),
		ondemand.WithMaxSeekAttempts(d.MaxSeekAttempts),
		ondemand.WithSearchThreshold(d.SearchThreshold),
	}
	if d.SeekProbe {
		opts = append(opts, ondemand.WithSeekProbe())
	}
	return opts
}

// Config represents odcache configuration
type Config struct {
	LogLevel    string             `json:"log_level"`              // Log level (debug, info, warn, error)
	FileLogging *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
	Decode      *DecodeConfig      `json:"decode,omitempty"`       // Decoder tuning
	Tracking    *TrackingConfig    `json:"tracking,omitempty"`     // Decode event tracking
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
	fs  afero.Fs
}

// NewConfigManager creates a configuration manager on the OS filesystem
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithFilesystem(afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a configuration manager that reads
// and writes through fs
func NewConfigManagerWithFilesystem(fs afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager", "filesystem", fmt.Sprintf("%T", fs))
	return &ConfigManager{
		xdg: NewXDGDirsWithFilesystem(fs),
		fs:  fs,
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		LogLevel: "warn",
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Decode: &DecodeConfig{
			CacheSamples:    ondemand.DefaultCacheSamples,
			SeekTolerance:   ondemand.DefaultSeekTolerance,
			MaxSeekAttempts: ondemand.DefaultMaxSeekAttempts,
			SearchThreshold: ondemand.DefaultSearchThreshold,
			SeekProbe:       false,
			BlockSize:       blockstream.DefaultBlockSize,
		},
		Tracking: GetDefaultTrackingConfig(),
	}

	slog.Debug("generated default config",
		"log_level", defaultConfig.LogLevel,
		"cache_samples", defaultConfig.Decode.CacheSamples,
		"seek_tolerance", defaultConfig.Decode.SeekTolerance,
		"tracking_enabled", defaultConfig.Tracking.Enabled)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file. Sections missing
// from the file keep their defaults.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(cm.fs, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := cm.GetDefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = cm.ValidateConfig(config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"log_level", config.LogLevel,
		"cache_samples", config.Decode.CacheSamples)

	return config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := cm.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	err = cm.fs.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if lock := lockerFor(cm.fs, filePath); lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveLockTimeout)
		defer cancel()
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock config file: %w", err)
		}
		if !ok {
			return fmt.Errorf("config file %s is locked by another process", filePath)
		}
		defer lock.Unlock()
	}

	err = afero.WriteFile(cm.fs, filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// UserConfigPath returns the per-user config file, the first path LoadConfig
// searches
func (cm *ConfigManager) UserConfigPath() string {
	return cm.xdg.GetConfigPaths("config.json")[0]
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	configPaths := cm.xdg.GetConfigPaths("config.json")

	slog.Debug("searching for config file", "paths", configPaths)

	for i, configPath := range configPaths {
		if exists, _ := afero.Exists(cm.fs, configPath); exists {
			slog.Debug("found config file", "path_index", i, "path", configPath)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// ValidateConfig validates configuration values
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}
		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}
		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if config.Decode != nil {
		decode := config.Decode

		if decode.CacheSamples <= 0 {
			errors = append(errors, fmt.Sprintf("decode cache_samples must be > 0, got %d", decode.CacheSamples))
		}
		if decode.SeekTolerance < 0 {
			errors = append(errors, fmt.Sprintf("decode seek_tolerance must be >= 0, got %d", decode.SeekTolerance))
		}
		if decode.MaxSeekAttempts <= 0 {
			errors = append(errors, fmt.Sprintf("decode max_seek_attempts must be > 0, got %d", decode.MaxSeekAttempts))
		}
		if decode.SearchThreshold < 0 {
			errors = append(errors, fmt.Sprintf("decode search_threshold must be >= 0, got %d", decode.SearchThreshold))
		}
		if decode.BlockSize <= 0 {
			errors = append(errors, fmt.Sprintf("decode block_size must be > 0, got %d", decode.BlockSize))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence.
// Zero values in override leave the base untouched.
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	merged := *base

	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
		slog.Debug("merged log level override", "value", override.LogLevel)
	}

	if override.FileLogging != nil {
		fl := *override.FileLogging
		merged.FileLogging = &fl
		slog.Debug("merged file logging override", "enabled", fl.Enabled)
	}

	if override.Decode != nil {
		var decode DecodeConfig
		if base.Decode != nil {
			decode = *base.Decode
		}
		o := override.Decode
		if o.CacheSamples != 0 {
			decode.CacheSamples = o.CacheSamples
		}
		if o.SeekTolerance != 0 {
			decode.SeekTolerance = o.SeekTolerance
		}
		if o.MaxSeekAttempts != 0 {
			decode.MaxSeekAttempts = o.MaxSeekAttempts
		}
		if o.SearchThreshold != 0 {
			decode.SearchThreshold = o.SearchThreshold
		}
		if o.BlockSize != 0 {
			decode.BlockSize = o.BlockSize
		}
		decode.SeekProbe = decode.SeekProbe || o.SeekProbe
		merged.Decode = &decode
		slog.Debug("merged decode override", "cache_samples", decode.CacheSamples)
	}

	if override.Tracking != nil {
		tracking := *override.Tracking
		merged.Tracking = &tracking
		slog.Debug("merged tracking override", "enabled", tracking.Enabled)
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config
	decode := *cm.GetDefaultConfig().Decode
	if config.Decode != nil {
		decode = *config.Decode
	}

	// ODCACHE_LOG_LEVEL
	if logLevel := os.Getenv("ODCACHE_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	// ODCACHE_CACHE_SAMPLES
	if v, ok := envInt("ODCACHE_CACHE_SAMPLES"); ok {
		decode.CacheSamples = v
	}

	// ODCACHE_SEEK_TOLERANCE
	if v, ok := envInt("ODCACHE_SEEK_TOLERANCE"); ok {
		decode.SeekTolerance = v
	}

	// ODCACHE_BLOCK_SIZE
	if v, ok := envInt("ODCACHE_BLOCK_SIZE"); ok {
		decode.BlockSize = v
	}

	// ODCACHE_SEEK_PROBE
	if probeStr := os.Getenv("ODCACHE_SEEK_PROBE"); probeStr != "" {
		if probe, err := strconv.ParseBool(probeStr); err == nil {
			decode.SeekProbe = probe
			slog.Debug("applied seek probe override from environment", "value", probe)
		} else {
			slog.Warn("invalid ODCACHE_SEEK_PROBE environment variable", "value", probeStr, "error", err)
		}
	}

	result.Decode = &decode
	if config.Tracking != nil {
		result.Tracking = ApplyTrackingEnvironmentOverrides(config.Tracking)
	}

	slog.Debug("environment overrides applied")
	return &result
}

func envInt(name string) (int64, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		slog.Warn("invalid integer environment variable", "name", name, "value", s, "error", err)
		return 0, false
	}
	slog.Debug("applied override from environment", "name", name, "value", v)
	return v, true
}

// ParseLogLevel maps a config log level to a slog level
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level '%s', must be one of: %s",
		logLevel, strings.Join(validLogLevels, ", "))
}

// ApplyLogLevel configures slog on stderr with the specified log level
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and writer
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	level, err := ParseLogLevel(logLevel)
	if err != nil {
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ResolveLogFilePath resolves the log file path using the XDG cache directory
// when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "odcache.log")
}

// ResolveTrackingDatabasePath resolves the tracking database path using the
// XDG cache directory when path is empty, creating its directory
func (cm *ConfigManager) ResolveTrackingDatabasePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if err := cm.xdg.CreateCacheDir("tracking"); err != nil {
		return "", fmt.Errorf("failed to create tracking directory: %w", err)
	}
	return filepath.Join(cm.xdg.GetCachePath("tracking"), "decodes.db"), nil
}
