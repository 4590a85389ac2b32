package codec

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Registry manages container codecs and provides format detection
type Registry struct {
	codecs []Codec
}

// NewRegistry creates a new empty codec registry
func NewRegistry() *Registry {
	slog.Debug("creating new codec registry")
	return &Registry{
		codecs: make([]Codec, 0),
	}
}

// NewDefaultRegistry creates a registry with every built-in codec
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register(NewWavCodec())
	registry.Register(NewMp3Codec())
	registry.Register(NewAiffCodec())
	registry.Register(NewFlacCodec())
	registry.Register(NewVorbisCodec())

	slog.Debug("default codec registry initialized",
		"supported_formats", registry.GetSupportedFormats())

	return registry
}

// Register adds a codec to the registry
func (r *Registry) Register(codec Codec) {
	if codec == nil {
		slog.Warn("attempted to register nil codec")
		return
	}

	r.codecs = append(r.codecs, codec)

	slog.Debug("codec registered",
		"format", codec.FormatName(),
		"total_codecs", len(r.codecs))
}

// GetCodecs returns all registered codecs
func (r *Registry) GetCodecs() []Codec {
	return r.codecs
}

// GetSupportedFormats returns a list of all supported format names
func (r *Registry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(r.codecs))
	for _, codec := range r.codecs {
		formats = append(formats, codec.FormatName())
	}
	return formats
}

// DetectFormat detects the appropriate codec based on filename extension only
func (r *Registry) DetectFormat(filename string) Codec {
	if filename == "" {
		slog.Debug("empty filename provided")
		return nil
	}

	// first registered has priority
	for _, codec := range r.codecs {
		if codec.CanDecode(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", codec.FormatName())
			return codec
		}
	}

	slog.Debug("no codec found for filename", "filename", filename)
	return nil
}

// DetectFormatWithContent detects format using magic bytes first, falling
// back to the extension
func (r *Registry) DetectFormatWithContent(filename string, header []byte) Codec {
	if len(header) == 0 {
		slog.Debug("empty content, using extension fallback")
		return r.DetectFormat(filename)
	}

	mtype := mimetype.Detect(header)
	mimeStr := strings.ToLower(mtype.String())

	slog.Debug("magic byte detection result",
		"filename", filename,
		"detected_mime", mimeStr,
		"bytes_analyzed", len(header))

	var codec Codec
	switch {
	case strings.Contains(mimeStr, "wav") || mimeStr == "audio/vnd.wave":
		codec = r.findCodecByFormat("WAV")
	case strings.Contains(mimeStr, "mpeg") || strings.Contains(mimeStr, "mp3"):
		codec = r.findCodecByFormat("MP3")
	case strings.Contains(mimeStr, "aiff"):
		codec = r.findCodecByFormat("AIFF")
	case strings.Contains(mimeStr, "flac"):
		codec = r.findCodecByFormat("FLAC")
	case strings.Contains(mimeStr, "ogg"):
		codec = r.findCodecByFormat("OGG")
	default:
		slog.Debug("unsupported or unrecognized magic bytes", "mime_type", mimeStr)
	}

	if codec != nil {
		slog.Debug("format detected by magic bytes",
			"filename", filename,
			"detected_format", codec.FormatName(),
			"mime_type", mimeStr)
		return codec
	}

	codec = r.DetectFormat(filename)
	if codec == nil {
		slog.Warn("no format detection method succeeded", "filename", filename)
	}
	return codec
}

// findCodecByFormat finds a codec by its format name
func (r *Registry) findCodecByFormat(formatName string) Codec {
	for _, codec := range r.codecs {
		if strings.EqualFold(codec.FormatName(), formatName) {
			return codec
		}
	}
	return nil
}

// Open reads the whole file, picks a codec and returns a demuxer over it
func (r *Registry) Open(filename string, reader io.Reader) (*Demuxer, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read file content", "filename", filename, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	codec := r.DetectFormatWithContent(filename, content[:min(len(content), 3072)])
	if codec == nil {
		err := fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
		slog.Error("no suitable codec found", "filename", filename, "error", err)
		return nil, err
	}

	src, err := codec.Open(content)
	if err != nil {
		slog.Error("failed to open source",
			"filename", filename,
			"format", codec.FormatName(),
			"error", err)
		return nil, err
	}

	demux := NewDemuxer(src)
	info := demux.Info()

	slog.Info("opened audio file",
		"filename", filename,
		"format", codec.FormatName(),
		"codec", info.Codec,
		"channels", info.Channels,
		"sample_rate", info.SampleRate,
		"sample_format", info.Format,
		"samples", info.Duration)

	return demux, nil
}
