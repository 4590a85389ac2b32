package config

import (
	"log/slog"
	"os"
	"strconv"
)

// TrackingConfig represents decode event tracking configuration
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether decode events are recorded
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG cache path)
}

// GetDefaultTrackingConfig returns the default tracking configuration
func GetDefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		Enabled:      true,
		DatabasePath: "",
	}
}

// ApplyTrackingEnvironmentOverrides applies environment variable overrides to tracking config
func ApplyTrackingEnvironmentOverrides(config *TrackingConfig) *TrackingConfig {
	result := *config

	// ODCACHE_TRACKING
	if trackingStr := os.Getenv("ODCACHE_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid ODCACHE_TRACKING environment variable", "value", trackingStr, "error", err)
		}
	}

	return &result
}
