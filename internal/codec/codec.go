package codec

import (
	"errors"
	"path/filepath"
	"strings"

	"odcache.click/internal/ondemand"
)

// Common codec errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNotSeekable       = errors.New("source is not seekable")
)

// Source is one audio library behind a Demuxer. Frames are runs of
// interleaved samples in the stream's sample format.
type Source interface {
	// Info describes the stream. Duration is in samples.
	Info() ondemand.StreamInfo

	// ReadFrame returns the next frame and the index of its first sample.
	// It returns io.EOF after the last frame.
	ReadFrame() ([]byte, int64, error)

	// SeekSample moves to the frame boundary at or before sample and
	// returns the sample index the next frame starts at.
	SeekSample(sample int64) (int64, error)

	Seekable() bool
	Close() error
}

// Codec opens one container format
type Codec interface {
	// Open parses the complete file contents
	Open(data []byte) (Source, error)

	// CanDecode checks if this codec can handle the given filename
	CanDecode(filename string) bool

	// FormatName returns the name of the format this codec handles
	FormatName() string
}

func hasExtension(filename string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
