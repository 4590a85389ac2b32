package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"odcache.click/internal/ondemand"
)

// DefaultBatchSamples bounds how many samples one DecodeFrame call produces
const DefaultBatchSamples = 4096

// Demuxer adapts a Source to ondemand.Demuxer. Every container handled here
// carries exactly one audio stream, at index 0, with a time base of one tick
// per sample.
type Demuxer struct {
	src    Source
	info   ondemand.StreamInfo
	batch  int
	dts    int64
	frames int64
}

// NewDemuxer wraps src
func NewDemuxer(src Source) *Demuxer {
	info := src.Info()
	info.Index = 0
	info.TimeBase = ondemand.Rational{Num: 1, Den: int64(info.SampleRate)}
	info.StartTime = 0

	return &Demuxer{
		src:   src,
		info:  info,
		batch: DefaultBatchSamples,
		dts:   ondemand.NoTimestamp,
	}
}

// SetBatchSamples changes the number of samples DecodeFrame produces per call
func (d *Demuxer) SetBatchSamples(n int) {
	if n > 0 {
		d.batch = n
	}
}

// Info describes the single stream
func (d *Demuxer) Info() ondemand.StreamInfo { return d.info }

// Streams builds a fresh stream set for this demuxer
func (d *Demuxer) Streams() *ondemand.StreamSet {
	return ondemand.NewStreamSet(&ondemand.StreamContext{
		Info:   d.info,
		Packet: ondemand.Packet{DTS: ondemand.NoTimestamp},
	})
}

// FramesRead returns how many frames were handed out so far
func (d *Demuxer) FramesRead() int64 { return d.frames }

func (d *Demuxer) ReadNextFrame(streams []*ondemand.StreamContext) (*ondemand.StreamContext, ondemand.FrameStatus) {
	if len(streams) == 0 {
		return nil, ondemand.FrameEOF
	}

	data, pos, err := d.src.ReadFrame()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			slog.Error("failed to read frame",
				"codec", d.info.Codec,
				"frames_read", d.frames,
				"error", err)
		}
		return nil, ondemand.FrameEOF
	}
	d.frames++

	sc := streams[0]
	sc.Packet = ondemand.Packet{
		DTS:       pos,
		Data:      data,
		Remaining: len(data),
		Valid:     true,
	}
	return sc, ondemand.FrameValid
}

func (d *Demuxer) DecodeFrame(sc *ondemand.StreamContext, flushing bool) error {
	sc.DecodedValid = 0
	sc.FrameValid = false
	if flushing || !sc.Packet.Valid || sc.Packet.Remaining <= 0 {
		return nil
	}

	frameBytes := sc.Info.Channels * sc.Info.Format.Size()
	if frameBytes == 0 {
		return fmt.Errorf("%w: %s with %d channels", ErrUnsupportedFormat, sc.Info.Format, sc.Info.Channels)
	}

	off := len(sc.Packet.Data) - sc.Packet.Remaining
	n := min(d.batch*frameBytes, sc.Packet.Remaining)
	sc.Decoded = sc.Packet.Data[off : off+n]
	sc.DecodedValid = n
	sc.FrameValid = true
	sc.Packet.Remaining -= n
	return nil
}

func (d *Demuxer) SeekFrame(stream int, timestamp int64) error {
	if stream != d.info.Index {
		return fmt.Errorf("%w: stream %d", ondemand.ErrInvalidStream, stream)
	}
	if !d.src.Seekable() {
		return ErrNotSeekable
	}

	landed, err := d.src.SeekSample(timestamp)
	if err != nil {
		return fmt.Errorf("seek to %d: %w", timestamp, err)
	}
	d.dts = landed

	slog.Debug("source seeked", "codec", d.info.Codec, "timestamp", timestamp, "landed", landed)
	return nil
}

func (d *Demuxer) CurrentDTS(stream int) int64 {
	return d.dts
}

// ProbeSeek reports whether the source supports seeking
func (d *Demuxer) ProbeSeek(stream int) bool {
	return stream == d.info.Index && d.src.Seekable()
}

func (d *Demuxer) Close() error {
	return d.src.Close()
}
