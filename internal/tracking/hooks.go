package tracking

import (
	"log/slog"

	"odcache.click/internal/ondemand"
)

// SlogHook provides structured logging of decode events for debugging
type SlogHook struct {
	logger *slog.Logger
}

// NewSlogHook creates a new SlogHook with the given logger
// If logger is nil, uses the default logger
func NewSlogHook(logger *slog.Logger) *SlogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHook{
		logger: logger,
	}
}

// Hook returns the decoder hook
func (s *SlogHook) Hook() ondemand.Hook {
	return func(event ondemand.DecodeEvent) {
		attrs := []any{
			"stream", event.Stream,
			"start", event.Start,
			"length", event.Length,
			"channel", event.Channel,
			"filled", event.Filled,
			"cache_filled", event.CacheFilled,
			"seeked", event.Seeked,
			"duration", event.Duration,
		}
		if event.Err != nil {
			s.logger.Warn("decode failed", append(attrs, "error", event.Err)...)
			return
		}
		s.logger.Debug("decode", attrs...)
	}
}
