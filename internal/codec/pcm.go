package codec

import (
	"encoding/binary"
	"io"
	"math"

	"odcache.click/internal/ondemand"
)

// pcmFrameSize is the frame length handed out for formats without codec
// frames of their own.
const pcmFrameSize = 1024

// pcmSource serves frames out of fully parsed interleaved PCM
type pcmSource struct {
	info ondemand.StreamInfo
	data []byte
	pos  int64
}

func newPCMSource(codec string, sampleRate, channels int, format ondemand.SampleFormat, data []byte) *pcmSource {
	s := &pcmSource{
		info: ondemand.StreamInfo{
			Codec:      codec,
			SampleRate: sampleRate,
			Channels:   channels,
			Format:     format,
			FrameSize:  pcmFrameSize,
		},
		data: data,
	}
	s.info.Duration = s.samples()
	return s
}

func (s *pcmSource) frameBytes() int64 {
	return int64(s.info.Channels * s.info.Format.Size())
}

func (s *pcmSource) samples() int64 {
	fb := s.frameBytes()
	if fb == 0 {
		return 0
	}
	return int64(len(s.data)) / fb
}

func (s *pcmSource) Info() ondemand.StreamInfo { return s.info }

func (s *pcmSource) ReadFrame() ([]byte, int64, error) {
	total := s.samples()
	if s.pos >= total {
		return nil, 0, io.EOF
	}
	n := min(int64(pcmFrameSize), total-s.pos)
	fb := s.frameBytes()
	start := s.pos
	s.pos += n
	return s.data[start*fb : (start+n)*fb], start, nil
}

func (s *pcmSource) SeekSample(sample int64) (int64, error) {
	sample = max(0, min(sample, s.samples()))
	s.pos = sample / pcmFrameSize * pcmFrameSize
	return s.pos, nil
}

func (s *pcmSource) Seekable() bool { return true }

func (s *pcmSource) Close() error {
	s.data = nil
	return nil
}

// intFormat picks the stored format for integer samples of bitDepth bits.
// Up to 16 bits widen to S16, anything wider to S32.
func intFormat(bitDepth int) (ondemand.SampleFormat, error) {
	switch {
	case bitDepth <= 0 || bitDepth > 32:
		return ondemand.FormatNone, ErrUnsupportedFormat
	case bitDepth <= 16:
		return ondemand.FormatS16, nil
	default:
		return ondemand.FormatS32, nil
	}
}

// putInt writes a signed sample of bitDepth bits left-aligned in format
func putInt(dst []byte, v int32, bitDepth int, format ondemand.SampleFormat) []byte {
	switch format {
	case ondemand.FormatS16:
		return binary.LittleEndian.AppendUint16(dst, uint16(int16(v<<(16-bitDepth))))
	default:
		return binary.LittleEndian.AppendUint32(dst, uint32(v<<(32-bitDepth)))
	}
}

func putFloat32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}
