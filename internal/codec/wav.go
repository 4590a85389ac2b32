package codec

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/youpy/go-wav"
	"odcache.click/internal/ondemand"
)

const (
	wavePCM        = 1
	waveFloat      = 3
	waveExtensible = 0xFFFE
)

// WavCodec handles WAV files
type WavCodec struct{}

// NewWavCodec creates a new WAV codec instance
func NewWavCodec() *WavCodec {
	return &WavCodec{}
}

// Open parses the RIFF header and loads the data chunk
func (c *WavCodec) Open(data []byte) (Source, error) {
	slog.Debug("opening WAV source", "size_bytes", len(data))

	if len(data) == 0 {
		slog.Error("empty WAV data")
		return nil, ErrInvalidData
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		slog.Error("failed to read WAV format", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	slog.Debug("WAV format detected",
		"audio_format", format.AudioFormat,
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"bits_per_sample", format.BitsPerSample)

	if format.NumChannels == 0 || format.SampleRate == 0 {
		slog.Error("invalid WAV format parameters",
			"channels", format.NumChannels,
			"sample_rate", format.SampleRate)
		return nil, ErrInvalidData
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		slog.Error("failed to read WAV samples", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	bits := int(format.BitsPerSample)
	var sampleFormat ondemand.SampleFormat
	switch {
	case format.AudioFormat == waveFloat && bits == 32:
		sampleFormat = ondemand.FormatF32
	case format.AudioFormat == waveFloat && bits == 64:
		sampleFormat = ondemand.FormatF64
	case format.AudioFormat != wavePCM && format.AudioFormat != waveExtensible:
		return nil, fmt.Errorf("%w: WAV audio format %d", ErrUnsupportedFormat, format.AudioFormat)
	case bits == 8:
		sampleFormat = ondemand.FormatU8
	case bits == 16:
		sampleFormat = ondemand.FormatS16
	case bits == 32:
		sampleFormat = ondemand.FormatS32
	case bits == 24:
		sampleFormat = ondemand.FormatS32
		raw = widen24(raw)
	default:
		slog.Error("unsupported bit depth", "bits", bits)
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, bits)
	}

	src := newPCMSource("wav", int(format.SampleRate), int(format.NumChannels), sampleFormat, raw)

	slog.Info("WAV source opened",
		"channels", format.NumChannels,
		"sample_rate", format.SampleRate,
		"format", sampleFormat,
		"samples", src.Info().Duration)

	return src, nil
}

// widen24 turns packed little-endian 24-bit samples into left-aligned 32-bit
func widen24(raw []byte) []byte {
	n := len(raw) / 3
	out := make([]byte, 0, n*4)
	for i := 0; i < n; i++ {
		b := raw[i*3 : i*3+3]
		out = append(out, 0, b[0], b[1], b[2])
	}
	return out
}

// CanDecode checks if this codec can handle the given filename
func (c *WavCodec) CanDecode(filename string) bool {
	return hasExtension(filename, ".wav", ".wave")
}

// FormatName returns the name of the format this codec handles
func (c *WavCodec) FormatName() string {
	return "WAV"
}
