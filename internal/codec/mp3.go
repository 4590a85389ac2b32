package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hajimehoshi/go-mp3"
	"odcache.click/internal/ondemand"
)

const (
	// mp3FrameSize is the number of samples in one MPEG-1 Layer III frame
	mp3FrameSize = 1152

	// go-mp3 always produces 16-bit stereo
	mp3Channels    = 2
	mp3SampleBytes = 4
)

// Mp3Codec handles MP3 files
type Mp3Codec struct{}

// NewMp3Codec creates a new MP3 codec instance
func NewMp3Codec() *Mp3Codec {
	return &Mp3Codec{}
}

// Open creates a frame source over an MP3 stream
func (c *Mp3Codec) Open(data []byte) (Source, error) {
	slog.Debug("opening MP3 source", "size_bytes", len(data))

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to create MP3 decoder", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		slog.Error("invalid MP3 sample rate", "sample_rate", sampleRate)
		return nil, ErrInvalidData
	}

	var duration int64
	if length := decoder.Length(); length > 0 {
		duration = length / mp3SampleBytes
	}

	slog.Info("MP3 source opened",
		"sample_rate", sampleRate,
		"channels", mp3Channels,
		"samples", duration)

	return &mp3Source{
		decoder: decoder,
		info: ondemand.StreamInfo{
			Codec:      "mp3",
			SampleRate: sampleRate,
			Channels:   mp3Channels,
			Format:     ondemand.FormatS16,
			FrameSize:  mp3FrameSize,
			Duration:   duration,
		},
	}, nil
}

// CanDecode checks if this codec can handle the given filename
func (c *Mp3Codec) CanDecode(filename string) bool {
	return hasExtension(filename, ".mp3", ".mpeg")
}

// FormatName returns the name of the format this codec handles
func (c *Mp3Codec) FormatName() string {
	return "MP3"
}

type mp3Source struct {
	decoder *mp3.Decoder
	info    ondemand.StreamInfo
	pos     int64
}

func (s *mp3Source) Info() ondemand.StreamInfo { return s.info }

func (s *mp3Source) ReadFrame() ([]byte, int64, error) {
	buf := make([]byte, mp3FrameSize*mp3SampleBytes)
	n, err := io.ReadFull(s.decoder, buf)
	n -= n % mp3SampleBytes
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, 0, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	start := s.pos
	s.pos += int64(n / mp3SampleBytes)
	return buf[:n], start, nil
}

func (s *mp3Source) SeekSample(sample int64) (int64, error) {
	aligned := max(0, sample) / mp3FrameSize * mp3FrameSize
	if _, err := s.decoder.Seek(aligned*mp3SampleBytes, io.SeekStart); err != nil {
		return 0, err
	}
	s.pos = aligned
	return aligned, nil
}

func (s *mp3Source) Seekable() bool { return true }

func (s *mp3Source) Close() error { return nil }
