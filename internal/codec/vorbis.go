package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jfreymuth/oggvorbis"
	"odcache.click/internal/ondemand"
)

// VorbisCodec handles Ogg Vorbis files
type VorbisCodec struct{}

// NewVorbisCodec creates a new Ogg Vorbis codec instance
func NewVorbisCodec() *VorbisCodec {
	return &VorbisCodec{}
}

// Open reads the Vorbis headers
func (c *VorbisCodec) Open(data []byte) (Source, error) {
	slog.Debug("opening Vorbis source", "size_bytes", len(data))

	reader, err := oggvorbis.NewReader(bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to read Vorbis headers", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if reader.Channels() <= 0 || reader.SampleRate() <= 0 {
		return nil, ErrInvalidData
	}

	slog.Info("Vorbis source opened",
		"sample_rate", reader.SampleRate(),
		"channels", reader.Channels(),
		"samples", reader.Length())

	return &vorbisSource{
		reader: reader,
		buf:    make([]float32, pcmFrameSize*reader.Channels()),
		info: ondemand.StreamInfo{
			Codec:      "vorbis",
			SampleRate: reader.SampleRate(),
			Channels:   reader.Channels(),
			Format:     ondemand.FormatF32,
			FrameSize:  pcmFrameSize,
			Duration:   reader.Length(),
		},
	}, nil
}

// CanDecode checks if this codec can handle the given filename
func (c *VorbisCodec) CanDecode(filename string) bool {
	return hasExtension(filename, ".ogg", ".oga")
}

// FormatName returns the name of the format this codec handles
func (c *VorbisCodec) FormatName() string {
	return "OGG"
}

type vorbisSource struct {
	reader *oggvorbis.Reader
	info   ondemand.StreamInfo
	buf    []float32
	pos    int64
}

func (s *vorbisSource) Info() ondemand.StreamInfo { return s.info }

// ReadFrame decodes up to pcmFrameSize samples
func (s *vorbisSource) ReadFrame() ([]byte, int64, error) {
	total := 0
	for total < len(s.buf) {
		n, err := s.reader.Read(s.buf[total:])
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
		if n == 0 {
			break
		}
	}
	total -= total % s.info.Channels
	if total == 0 {
		return nil, 0, io.EOF
	}

	out := make([]byte, 0, total*4)
	for _, v := range s.buf[:total] {
		out = putFloat32(out, v)
	}

	start := s.pos
	s.pos += int64(total / s.info.Channels)
	return out, start, nil
}

func (s *vorbisSource) SeekSample(sample int64) (int64, error) {
	aligned := max(0, sample) / pcmFrameSize * pcmFrameSize
	if err := s.reader.SetPosition(aligned); err != nil {
		return 0, err
	}
	s.pos = aligned
	return aligned, nil
}

func (s *vorbisSource) Seekable() bool { return true }

func (s *vorbisSource) Close() error { return nil }
