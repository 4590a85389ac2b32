package ondemand

import "time"

const (
	// DefaultSeekTolerance is how far behind the window the cursor may be
	// before a forward seek is preferred over decoding through. It should be
	// much larger than one packet.
	DefaultSeekTolerance = 400000

	// DefaultMaxSeekAttempts bounds the backwards seek retries
	DefaultMaxSeekAttempts = 8
)

// DecodeEvent describes one finished Decode call.
type DecodeEvent struct {
	Stream      string
	Start       int64
	Length      int64
	Channel     int
	Filled      int64
	CacheFilled int64 // samples served before any decoding
	Seeked      bool
	Duration    time.Duration
	Err         error
}

// Hook receives every DecodeEvent of a decoder
type Hook func(DecodeEvent)

// Option configures a Decoder
type Option func(*Decoder)

// WithCacheCapacity bounds the sample cache
func WithCacheCapacity(samples int64) Option {
	return func(d *Decoder) {
		if samples > 0 {
			d.cacheCapacity = samples
		}
	}
}

// WithSeekTolerance sets how far ahead of the cursor a request may start
// before seeking is considered.
func WithSeekTolerance(samples int64) Option {
	return func(d *Decoder) {
		if samples >= 0 {
			d.tolerance = samples
		}
	}
}

// WithMaxSeekAttempts bounds the seek retry loop
func WithMaxSeekAttempts(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSeekAttempts = n
		}
	}
}

// WithSearchThreshold sets the cache size above which fills probe with a
// binary search.
func WithSearchThreshold(n int) Option {
	return func(d *Decoder) {
		if n >= 0 {
			d.searchThreshold = n
		}
	}
}

// WithSeekCapability fixes the seek capability up front, skipping the probe.
func WithSeekCapability(c SeekCapability) Option {
	return func(d *Decoder) {
		d.seek = c
	}
}

// WithSeekProbe enables the full capability probe. Without it the first
// resolution reports seeking as unsupported.
func WithSeekProbe() Option {
	return func(d *Decoder) {
		d.probe = true
	}
}

// WithHook registers a hook called after every Decode
func WithHook(h Hook) Option {
	return func(d *Decoder) {
		if h != nil {
			d.hooks = append(d.hooks, h)
		}
	}
}
