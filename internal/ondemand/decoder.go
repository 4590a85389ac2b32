package ondemand

import (
	"fmt"
	"log/slog"
	"time"
)

// SeekCapability records whether seeking in the source can be trusted. It is
// resolved at most once per decoder.
type SeekCapability int

const (
	SeekUnknown SeekCapability = iota
	SeekSupported
	SeekUnsupported
)

// String returns a readable name for the capability
func (c SeekCapability) String() string {
	switch c {
	case SeekSupported:
		return "supported"
	case SeekUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Decoder materializes sample ranges of one compressed stream on demand.
// A Decoder is not safe for concurrent use; run one Decode at a time.
type Decoder struct {
	name        string
	streams     *StreamSet
	tracks      [][]int
	demux       Demuxer
	streamIndex int
	output      OutputFormat
	cache       *Cache

	seek   SeekCapability
	probe  bool
	resync bool // trust the next frame's timestamp instead of the cursor

	cacheCapacity   int64
	tolerance       int64
	maxSeekAttempts int
	searchThreshold int
	hooks           []Hook

	closed bool
}

// NewDecoder creates a decoder for streamIndex of streams. It retains a
// reference on streams and takes ownership of demux, which Close closes.
// tracks maps each stream to the tracks its channels feed.
//
// The first frame read after creation is placed by its DTS, the same way as
// the first frame after a seek, so a stream that starts late gets a silent
// lead-in instead of being shifted to sample zero.
func NewDecoder(name string, streams *StreamSet, tracks [][]int, demux Demuxer, streamIndex int, opts ...Option) (*Decoder, error) {
	if streams == nil || streamIndex < 0 || streamIndex >= streams.Len() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStream, streamIndex)
	}
	if demux == nil {
		return nil, fmt.Errorf("%w: no demuxer", ErrInvalidStream)
	}

	d := &Decoder{
		name:            name,
		streams:         streams.Retain(),
		tracks:          tracks,
		demux:           demux,
		streamIndex:     streamIndex,
		resync:          true,
		cacheCapacity:   DefaultCacheSamples,
		tolerance:       DefaultSeekTolerance,
		maxSeekAttempts: DefaultMaxSeekAttempts,
		searchThreshold: DefaultSearchThreshold,
	}
	for _, opt := range opts {
		opt(d)
	}

	info := d.stream().Info
	d.output = OutputFor(info.Format)
	d.cache = NewCache(d.cacheCapacity)
	d.cache.SetSearchThreshold(d.searchThreshold)

	slog.Debug("created on-demand decoder",
		"stream", name,
		"stream_index", streamIndex,
		"codec", info.Codec,
		"channels", info.Channels,
		"sample_rate", info.SampleRate,
		"source_format", info.Format,
		"output_format", d.output,
		"cache_capacity", d.cacheCapacity)

	return d, nil
}

// ReadHeader acknowledges the header; the importer has already parsed it.
func (d *Decoder) ReadHeader() bool {
	return true
}

// Name returns the stream identifier
func (d *Decoder) Name() string { return d.name }

// Info returns the selected stream's description
func (d *Decoder) Info() StreamInfo { return d.stream().Info }

// OutputFormat returns the format of blocks returned by Decode
func (d *Decoder) OutputFormat() OutputFormat { return d.output }

// Tracks returns the channel to track mapping
func (d *Decoder) Tracks() [][]int { return d.tracks }

// Cache exposes the sample cache for inspection
func (d *Decoder) Cache() *Cache { return d.cache }

// SeekCapability returns the current capability without resolving it
func (d *Decoder) SeekCapability() SeekCapability { return d.seek }

func (d *Decoder) stream() *StreamContext {
	return d.streams.Streams()[d.streamIndex]
}

// SeekingAllowed resolves the seek capability on first use and reports it.
func (d *Decoder) SeekingAllowed() bool {
	if d.seek == SeekUnknown {
		d.seek = d.probeSeek()
		slog.Debug("resolved seek capability", "stream", d.name, "capability", d.seek)
	}
	return d.seek == SeekSupported
}

// probeSeek checks that a sample can be addressed by the stream's time base
// and that the demuxer can seek.
func (d *Decoder) probeSeek() SeekCapability {
	if !d.probe {
		return SeekUnsupported
	}

	info := d.stream().Info
	if info.Duration <= 0 || info.SampleRate <= 0 || info.TimeBase.Num <= 0 {
		return SeekUnsupported
	}
	if float64(info.TimeBase.Den)/float64(info.TimeBase.Num) < float64(info.SampleRate) {
		return SeekUnsupported
	}

	prober, ok := d.demux.(SeekProber)
	if !ok || !prober.ProbeSeek(info.Index) {
		return SeekUnsupported
	}
	return SeekSupported
}

// Decode materializes length samples of channel starting at start. The
// returned count may be smaller than length when the stream ends early or
// decoding fails; the unfilled tail of the block is zero. A window behind the
// cursor that cannot be seeked to is served from the cache alone while the
// rewind is within the seek tolerance. ErrSeekFailed means the window could
// not be reached and no block is produced.
func (d *Decoder) Decode(start, length int64, channel int) (block *Block, filled int64, err error) {
	began := time.Now()
	event := DecodeEvent{Stream: d.name, Start: start, Length: length, Channel: channel}
	defer func() {
		event.Filled = filled
		event.Err = err
		event.Duration = time.Since(began)
		for _, h := range d.hooks {
			h(event)
		}
	}()

	if d.closed {
		return nil, 0, ErrDecoderClosed
	}
	sc := d.stream()
	if start < 0 || length < 0 {
		return nil, 0, fmt.Errorf("%w: start %d length %d", ErrInvalidRange, start, length)
	}
	if channel < 0 || channel >= sc.Info.Channels {
		return nil, 0, fmt.Errorf("%w: channel %d of %d", ErrInvalidChannel, channel, sc.Info.Channels)
	}

	block = NewBlock(d.output, int(length))
	span := Span{Start: start, Length: length}

	filled, err = d.cache.Fill(block, &span, channel)
	event.CacheFilled = filled
	if err != nil {
		return block, filled, err
	}

	if span.Length > 0 && d.outsideWindow(span) {
		pos := d.cache.Position()
		if d.SeekingAllowed() {
			if err := d.seekTo(span); err != nil {
				return nil, 0, err
			}
			event.Seeked = true
		} else if pos > span.End()+d.tolerance {
			slog.Warn("window is far behind the decoder and seeking is unsupported",
				"stream", d.name,
				"start", span.Start,
				"position", pos)
			return nil, 0, fmt.Errorf("%w: sample %d is behind position %d", ErrSeekFailed, span.Start, pos)
		} else if pos > span.End() {
			// the cursor only moves forward; what the cache held is all there is
			slog.Debug("window is behind the decoder, returning cached samples",
				"stream", d.name,
				"start", span.Start,
				"position", pos,
				"filled", filled)
			return block, filled, nil
		}
	}

	if span.Length > 0 {
		d.decodeWindow(span)
	}

	more, err := d.cache.Fill(block, &span, channel)
	filled += more

	slog.Debug("decode finished",
		"stream", d.name,
		"start", start,
		"length", length,
		"channel", channel,
		"filled", filled,
		"cached_ranges", d.cache.Len())

	return block, filled, err
}

// outsideWindow reports whether sequential decoding from the cursor is the
// wrong way to reach span: the cursor is already past it, or so far behind
// that a seek is cheaper.
func (d *Decoder) outsideWindow(span Span) bool {
	pos := d.cache.Position()
	return pos > span.End() || pos+d.tolerance < span.Start
}

// seekTo moves the demuxer to at or before span.Start, stepping further back
// on each attempt. On failure the capability becomes unsupported.
func (d *Decoder) seekTo(span Span) error {
	info := d.stream().Info
	pos := span.End() + 1
	landed := false

	for attempt := 1; attempt <= d.maxSeekAttempts && pos > span.Start; attempt++ {
		target := max(0, span.Start-d.tolerance*int64(attempt)/int64(d.maxSeekAttempts))
		ts := info.ToTimestamp(target)

		if err := d.demux.SeekFrame(info.Index, ts); err != nil {
			slog.Warn("seek failed", "stream", d.name, "timestamp", ts, "attempt", attempt, "error", err)
			break
		}
		pos = info.ToSamples(d.demux.CurrentDTS(info.Index), 0.5)
		landed = true

		slog.Debug("seek landed",
			"stream", d.name,
			"target", target,
			"position", pos,
			"attempt", attempt)
	}

	if landed {
		d.cache.SetPosition(pos)
		d.resync = true
	}
	if pos > span.Start {
		d.seek = SeekUnsupported
		slog.Warn("seek could not reach window, disabling seeking",
			"stream", d.name,
			"start", span.Start,
			"position", pos)
		return fmt.Errorf("%w: landed at %d, wanted %d", ErrSeekFailed, pos, span.Start)
	}
	return nil
}

// frameStart derives where a frame begins from its timestamp, rounded to the
// codec's frame size so imprecise timestamps leave no gaps.
func (d *Decoder) frameStart(sc *StreamContext) int64 {
	info := sc.Info
	dts := sc.Packet.DTS
	if dts == NoTimestamp {
		dts = info.StartTime
	}
	if dts == NoTimestamp {
		return d.cache.Position()
	}

	pos := info.ToSamples(dts, 0.52)
	if fs := int64(info.FrameSize); fs > 0 {
		pos = (pos + fs/2) / fs * fs
	}
	return pos
}

// decodeWindow reads frames until the cursor passes the end of span, then
// flushes if the stream ran out first.
func (d *Decoder) decodeWindow(span Span) {
	firstPass := true
	status := FrameValid

	for d.cache.Position() < span.End() {
		var sc *StreamContext
		sc, status = d.demux.ReadNextFrame(d.streams.Streams())
		if status == FrameEOF {
			break
		}
		if status == FrameSkip {
			continue
		}
		if sc.Info.Index != d.streamIndex {
			sc.ReleasePacket()
			continue
		}

		actual := d.cache.Position()
		if d.resync {
			actual = d.frameStart(sc)
			d.resync = false
		}
		if actual != d.cache.Position() {
			slog.Debug("frame timestamp differs from cursor",
				"stream", d.name,
				"frame_start", actual,
				"position", d.cache.Position(),
				"last_length", d.cache.LastLen(),
				"start", span.Start,
				"length", span.Length)
		}

		if firstPass && actual > span.Start {
			d.cache.InsertSilence(span.Start, actual-span.Start, sc.Info.Channels, d.output)
		}
		firstPass = false
		d.cache.SetPosition(actual)

		failed := false
		for sc.Packet.Remaining > 0 {
			before := sc.Packet.Remaining
			if err := d.decodeFrame(sc, false); err != nil {
				slog.Error("frame decode failed", "stream", d.name, "dts", sc.Packet.DTS, "error", err)
				failed = true
				break
			}
			if sc.Packet.Remaining >= before {
				slog.Error("frame decode made no progress", "stream", d.name, "remaining", before)
				failed = true
				break
			}
		}
		sc.ReleasePacket()
		if failed {
			return
		}
	}

	if status != FrameValid {
		d.flush()
	}
}

// flush drains every stream's codec once
func (d *Decoder) flush() {
	slog.Debug("flushing decoders", "stream", d.name, "streams", d.streams.Len())
	for _, sc := range d.streams.Streams() {
		if err := d.decodeFrame(sc, true); err != nil {
			slog.Debug("flush returned error", "stream_index", sc.Info.Index, "error", err)
			continue
		}
		sc.ReleasePacket()
	}
}

// decodeFrame runs one DecodeFrame and caches its output at the cursor
func (d *Decoder) decodeFrame(sc *StreamContext, flushing bool) error {
	if err := d.demux.DecodeFrame(sc, flushing); err != nil {
		return err
	}
	if !sc.FrameValid || sc.Info.Index != d.streamIndex {
		return nil
	}

	frameBytes := sc.Info.Format.Size() * sc.Info.Channels
	if frameBytes == 0 || sc.DecodedValid < frameBytes {
		return nil
	}
	n := sc.DecodedValid / frameBytes
	data := make([]byte, n*frameBytes)
	copy(data, sc.Decoded[:n*frameBytes])

	d.cache.Insert(DecodedRange{
		Data:     data,
		Start:    d.cache.Position(),
		Len:      int64(n),
		Channels: sc.Info.Channels,
		Format:   sc.Info.Format,
	})
	return nil
}

// Close closes the owned demuxer, releases the shared streams and drops the
// cache. Calling Close twice is a no-op.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.demux != nil {
		err = d.demux.Close()
		d.demux = nil
	}
	remaining := d.streams.Release()
	d.cache.Reset()

	slog.Debug("closed on-demand decoder", "stream", d.name, "stream_refs", remaining)
	return err
}
