package codec

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"odcache.click/internal/ondemand"
)

// AiffCodec handles AIFF files
type AiffCodec struct{}

// NewAiffCodec creates a new AIFF codec instance
func NewAiffCodec() *AiffCodec {
	return &AiffCodec{}
}

// FormatName returns the name of the format this codec handles
func (c *AiffCodec) FormatName() string {
	return "AIFF"
}

// CanDecode checks if this codec can handle the given filename
func (c *AiffCodec) CanDecode(filename string) bool {
	return hasExtension(filename, ".aiff", ".aif")
}

// Open parses the COMM chunk and loads the sound data
func (c *AiffCodec) Open(data []byte) (Source, error) {
	slog.Debug("opening AIFF source", "size_bytes", len(data))

	if len(data) == 0 {
		slog.Error("empty AIFF data")
		return nil, ErrInvalidData
	}

	decoder := aiff.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		slog.Error("invalid AIFF file format")
		return nil, ErrInvalidData
	}
	if decoder.Format() == nil {
		slog.Error("failed to get AIFF format")
		return nil, ErrInvalidData
	}

	sampleRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.SampleBitDepth())

	slog.Debug("AIFF format detected",
		"sample_rate", sampleRate,
		"channels", channels,
		"bits_per_sample", bitDepth)

	if channels == 0 || sampleRate == 0 || bitDepth == 0 {
		slog.Error("invalid AIFF format parameters",
			"channels", channels,
			"sample_rate", sampleRate,
			"bit_depth", bitDepth)
		return nil, ErrInvalidData
	}

	format, err := intFormat(bitDepth)
	if err != nil {
		slog.Error("unsupported bit depth", "bits", bitDepth)
		return nil, fmt.Errorf("%w: %d-bit AIFF", err, bitDepth)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		slog.Error("failed to read AIFF samples", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if pcm == nil || len(pcm.Data) == 0 {
		slog.Error("no audio data found in AIFF file")
		return nil, ErrInvalidData
	}

	src := newPCMSource("aiff", sampleRate, channels, format, packIntBuffer(pcm, bitDepth, format))

	slog.Info("AIFF source opened",
		"channels", channels,
		"sample_rate", sampleRate,
		"format", format,
		"samples", src.Info().Duration)

	return src, nil
}

// packIntBuffer lays out an interleaved integer buffer as little-endian
// samples of format
func packIntBuffer(pcm *audio.IntBuffer, bitDepth int, format ondemand.SampleFormat) []byte {
	out := make([]byte, 0, len(pcm.Data)*format.Size())
	for _, v := range pcm.Data {
		out = putInt(out, int32(v), bitDepth, format)
	}
	return out
}
