// Package blockstream pulls consecutive blocks out of an on-demand decoder,
// either as a beep.Streamer or block by block for every channel.
package blockstream

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/spf13/afero"
	"odcache.click/internal/ondemand"
)

// DefaultBlockSize is the block length used when none is configured
const DefaultBlockSize = 65536

// Streamer plays a decoder from the first sample. Mono sources are
// duplicated to both sides; channels past the second are ignored.
type Streamer struct {
	dec      *ondemand.Decoder
	pos      int64
	length   int64 // 0 when the stream length is unknown
	channels int
	err      error
}

// New creates a streamer over dec
func New(dec *ondemand.Decoder) *Streamer {
	info := dec.Info()
	return &Streamer{
		dec:      dec,
		length:   info.Samples(),
		channels: min(2, info.Channels),
	}
}

// Stream fills samples with the next decoded frames
func (s *Streamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil || len(samples) == 0 {
		return 0, false
	}

	n := int64(len(samples))
	if s.length > 0 {
		n = min(n, s.length-s.pos)
	}
	if n <= 0 {
		return 0, false
	}

	left, filled, err := s.dec.Decode(s.pos, n, 0)
	if err != nil {
		s.err = err
		return 0, false
	}
	right := left
	if s.channels > 1 {
		var rfilled int64
		right, rfilled, err = s.dec.Decode(s.pos, n, 1)
		if err != nil {
			s.err = err
			return 0, false
		}
		filled = min(filled, rfilled)
	}
	if filled == 0 {
		return 0, false
	}

	for i := 0; i < int(filled); i++ {
		samples[i][0] = left.Float64(i)
		samples[i][1] = right.Float64(i)
	}
	s.pos += filled
	return int(filled), true
}

// Err returns the decode error that stopped the stream, if any
func (s *Streamer) Err() error {
	return s.err
}

// Position returns the number of frames streamed so far
func (s *Streamer) Position() int64 {
	return s.pos
}

// Format describes the streamed audio for encoders
func (s *Streamer) Format() beep.Format {
	precision := 2
	if s.dec.OutputFormat() == ondemand.OutputFloat32 {
		precision = 3
	}
	return beep.Format{
		SampleRate:  beep.SampleRate(s.dec.Info().SampleRate),
		NumChannels: max(1, s.channels),
		Precision:   precision,
	}
}

// Export decodes the whole stream and writes it to path as WAV. It returns
// the number of frames written.
func Export(fs afero.Fs, path string, dec *ondemand.Decoder) (int64, error) {
	out, err := fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	s := New(dec)
	format := s.Format()
	if err := wav.Encode(out, s, format); err != nil {
		out.Close()
		return s.Position(), fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return s.Position(), err
	}
	if s.Err() != nil {
		return s.Position(), s.Err()
	}

	slog.Info("exported stream",
		"stream", dec.Name(),
		"path", path,
		"frames", s.Position(),
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"precision", format.Precision)

	return s.Position(), nil
}

// ErrStop ends a Walk early without reporting an error
var ErrStop = errors.New("stop walking blocks")

// BlockFunc receives one decoded block of a channel
type BlockFunc func(start int64, channel int, block *ondemand.Block, filled int64) error

// Walk decodes the stream block by block, every channel of a block before
// the next block, until the stream ends. A block filled short marks the end
// when the length is unknown.
func Walk(dec *ondemand.Decoder, blockSize int64, fn BlockFunc) error {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	info := dec.Info()

	total := info.Samples()

	for start := int64(0); total <= 0 || start < total; start += blockSize {
		length := blockSize
		if total > 0 {
			length = min(length, total-start)
		}

		short := false
		for ch := 0; ch < info.Channels; ch++ {
			block, filled, err := dec.Decode(start, length, ch)
			if err != nil {
				return fmt.Errorf("block at %d channel %d: %w", start, ch, err)
			}
			if err := fn(start, ch, block, filled); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
			short = short || filled < length
		}

		if short {
			slog.Debug("stream ended before its block", "stream", dec.Name(), "start", start)
			break
		}
	}
	return nil
}
