package ondemand

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 44100

// fakeDemuxer serves a synthetic S16 stream in fixed-size frames whose DTS is
// the first sample index of the frame.
type fakeDemuxer struct {
	frameSize int
	channels  int
	first     int64 // DTS of the first frame
	total     int64 // one past the last sample

	chunk      int   // bytes produced per DecodeFrame, whole samples for 1 or 2 channels
	seekable   bool
	seekOffset int64 // added to every landing position
	skipEvery  int   // report FrameSkip before every n-th frame
	decodeErr  error

	pos     int64
	dts     int64
	reads   int
	seeks   int
	flushes int
	closed  bool
}

func newFakeDemuxer(channels int, total int64) *fakeDemuxer {
	return &fakeDemuxer{
		frameSize: 32,
		channels:  channels,
		total:     total,
		chunk:     40,
		seekable:  true,
		dts:       NoTimestamp,
	}
}

func (f *fakeDemuxer) info() StreamInfo {
	return StreamInfo{
		Index:      0,
		Codec:      "fake",
		SampleRate: testRate,
		Channels:   f.channels,
		Format:     FormatS16,
		TimeBase:   Rational{Num: 1, Den: testRate},
		FrameSize:  f.frameSize,
		StartTime:  NoTimestamp,
		Duration:   f.total,
	}
}

func (f *fakeDemuxer) ReadNextFrame(streams []*StreamContext) (*StreamContext, FrameStatus) {
	if f.pos < f.first {
		f.pos = f.first
	}
	if f.pos >= f.total {
		return nil, FrameEOF
	}
	f.reads++
	if f.skipEvery > 0 && f.reads%f.skipEvery == 0 {
		return nil, FrameSkip
	}

	n := min(int64(f.frameSize), f.total-f.pos)
	sc := streams[0]
	data := s16Data(f.pos, n, f.channels)
	sc.Packet = Packet{DTS: f.pos, Data: data, Remaining: len(data), Valid: true}
	f.pos += n
	return sc, FrameValid
}

func (f *fakeDemuxer) DecodeFrame(sc *StreamContext, flushing bool) error {
	if flushing {
		f.flushes++
		sc.FrameValid = false
		sc.DecodedValid = 0
		return nil
	}
	if f.decodeErr != nil {
		return f.decodeErr
	}

	off := len(sc.Packet.Data) - sc.Packet.Remaining
	n := min(f.chunk, sc.Packet.Remaining)
	sc.Decoded = sc.Packet.Data[off : off+n]
	sc.DecodedValid = n
	sc.FrameValid = true
	sc.Packet.Remaining -= n
	return nil
}

func (f *fakeDemuxer) SeekFrame(stream int, timestamp int64) error {
	f.seeks++
	if !f.seekable {
		return errors.New("not seekable")
	}
	fs := int64(f.frameSize)
	f.pos = timestamp/fs*fs + f.seekOffset
	f.dts = f.pos
	return nil
}

func (f *fakeDemuxer) CurrentDTS(stream int) int64 {
	return f.dts
}

func (f *fakeDemuxer) ProbeSeek(stream int) bool {
	return f.seekable
}

func (f *fakeDemuxer) Close() error {
	f.closed = true
	return nil
}

func newTestDecoder(t *testing.T, f *fakeDemuxer, opts ...Option) (*Decoder, *StreamSet) {
	t.Helper()
	streams := NewStreamSet(&StreamContext{Info: f.info()})
	d, err := NewDecoder("test", streams, [][]int{{0}}, f, 0, opts...)
	require.NoError(t, err)
	return d, streams
}

func requireSamples(t *testing.T, block *Block, start int64, channel int) {
	t.Helper()
	for i := 0; i < block.Len(); i++ {
		require.Equal(t, testSample(start+int64(i), channel), block.Int16[i], "sample %d", start+int64(i))
	}
}

func TestDecodeSequential(t *testing.T) {
	f := newFakeDemuxer(1, 10000)
	d, _ := newTestDecoder(t, f)

	block, filled, err := d.Decode(100, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), filled)
	assert.Equal(t, OutputInt16, block.Format)
	requireSamples(t, block, 100, 0)

	// the cache alone now covers the request
	var covered int64
	for _, r := range d.Cache().Ranges() {
		lo, hi := max(r.Start, 100), min(r.End(), 150)
		if hi > lo {
			covered += hi - lo
		}
	}
	assert.GreaterOrEqual(t, covered, int64(50))

	reads := f.reads
	block, filled, err = d.Decode(100, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), filled)
	requireSamples(t, block, 100, 0)
	assert.Equal(t, reads, f.reads, "cached window should not read frames")
}

func TestDecodeStereoChannel(t *testing.T) {
	f := newFakeDemuxer(2, 5000)
	d, _ := newTestDecoder(t, f)

	block, filled, err := d.Decode(1000, 300, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(300), filled)
	requireSamples(t, block, 1000, 1)

	block, filled, err = d.Decode(1000, 300, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(300), filled)
	requireSamples(t, block, 1000, 0)
}

func TestDecodeLeadingGapIsSilent(t *testing.T) {
	f := newFakeDemuxer(1, 5000)
	f.first = 1024
	d, _ := newTestDecoder(t, f)

	block, filled, err := d.Decode(0, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), filled)
	for i := 0; i < 100; i++ {
		require.Zero(t, block.Int16[i])
	}

	block, filled, err = d.Decode(1000, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), filled)
	for i := 0; i < 24; i++ {
		assert.Zero(t, block.Int16[i])
	}
	assert.Equal(t, testSample(1024, 0), block.Int16[24])
	assert.Equal(t, testSample(1099, 0), block.Int16[99])
}

func TestDecodeEndOfStreamUnderfills(t *testing.T) {
	f := newFakeDemuxer(1, 100)
	d, _ := newTestDecoder(t, f)

	block, filled, err := d.Decode(50, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), filled)
	assert.Equal(t, 1, f.flushes)
	assert.Equal(t, testSample(99, 0), block.Int16[49])
	for i := 50; i < 100; i++ {
		assert.Zero(t, block.Int16[i])
	}
}

func TestDecodeSkipsForeignFrames(t *testing.T) {
	f := newFakeDemuxer(1, 2000)
	f.skipEvery = 3
	d, _ := newTestDecoder(t, f)

	block, filled, err := d.Decode(0, 500, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(500), filled)
	assert.Zero(t, f.flushes, "the loop ended on a valid frame")
	requireSamples(t, block, 0, 0)
}

func TestDecodeFrameErrorStops(t *testing.T) {
	f := newFakeDemuxer(1, 2000)
	f.decodeErr = errors.New("corrupt packet")
	d, _ := newTestDecoder(t, f)

	_, filled, err := d.Decode(0, 100, 0)
	require.NoError(t, err)
	assert.Zero(t, filled)
	assert.Equal(t, 1, f.reads)
	assert.Zero(t, f.flushes)
}

func TestDecodeRewindWithoutSeeking(t *testing.T) {
	f := newFakeDemuxer(1, 10000)
	d, _ := newTestDecoder(t, f, WithCacheCapacity(1000), WithSeekTolerance(1000))

	_, filled, err := d.Decode(5000, 100, 0)
	require.NoError(t, err)
	require.Equal(t, int64(100), filled)

	before := starts(d.Cache())
	total := d.Cache().Total()
	position := d.Cache().Position()

	block, filled, err := d.Decode(0, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSeekFailed))
	assert.Nil(t, block)
	assert.Zero(t, filled)
	assert.Equal(t, SeekUnsupported, d.SeekCapability())

	assert.Equal(t, before, starts(d.Cache()))
	assert.Equal(t, total, d.Cache().Total())
	assert.Equal(t, position, d.Cache().Position())
	assert.Zero(t, f.seeks)
}

func TestDecodeShortRewindReturnsCachedSamples(t *testing.T) {
	f := newFakeDemuxer(1, 10000)
	d, _ := newTestDecoder(t, f, WithCacheCapacity(1000))

	_, _, err := d.Decode(5000, 100, 0)
	require.NoError(t, err)

	head := d.Cache().Ranges()[0].Start
	position := d.Cache().Position()
	reads := f.reads
	require.Greater(t, position, head+50)

	// the window straddles the head of the cache
	start := head - 50
	block, filled, err := d.Decode(start, 100, 0)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Greater(t, filled, int64(0))
	assert.LessOrEqual(t, filled, int64(50))
	for i := 100 - filled; i < 100; i++ {
		require.Equal(t, testSample(start+i, 0), block.Int16[i], "sample %d", start+i)
	}
	for i := int64(0); i < 50; i++ {
		require.Zero(t, block.Int16[i])
	}

	assert.Equal(t, SeekUnsupported, d.SeekCapability())
	assert.Equal(t, position, d.Cache().Position())
	assert.Equal(t, reads, f.reads, "no frames are decoded behind the cursor")
	assert.Zero(t, f.seeks)
}

func TestDecodeSeeksForward(t *testing.T) {
	f := newFakeDemuxer(1, 2000000)

	var events []DecodeEvent
	d, _ := newTestDecoder(t, f,
		WithSeekCapability(SeekSupported),
		WithSeekTolerance(1000),
		WithHook(func(e DecodeEvent) { events = append(events, e) }))

	block, filled, err := d.Decode(500000, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(64), filled)
	requireSamples(t, block, 500000, 0)
	assert.Equal(t, 1, f.seeks)
	assert.Less(t, f.reads, 20)

	require.Len(t, events, 1)
	assert.True(t, events[0].Seeked)
	assert.Equal(t, int64(64), events[0].Filled)
	assert.Zero(t, events[0].CacheFilled)

	// rewinding is a seek too when seeking works
	block, filled, err = d.Decode(1000, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(64), filled)
	requireSamples(t, block, 1000, 0)
	assert.Equal(t, 2, f.seeks)
}

func TestDecodeSeekExhaustion(t *testing.T) {
	f := newFakeDemuxer(1, 2000000)
	f.seekOffset = 5024 // always lands past the target, on a frame boundary
	d, _ := newTestDecoder(t, f,
		WithSeekCapability(SeekSupported),
		WithSeekTolerance(1000))

	block, filled, err := d.Decode(500000, 64, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSeekFailed))
	assert.Nil(t, block)
	assert.Zero(t, filled)
	assert.Equal(t, DefaultMaxSeekAttempts, f.seeks)
	assert.Equal(t, SeekUnsupported, d.SeekCapability())
	assert.False(t, d.SeekingAllowed())

	// the capability sticks: further requests decode forward without seeking
	block, filled, err = d.Decode(520000, 16, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(16), filled)
	requireSamples(t, block, 520000, 0)
	assert.Equal(t, DefaultMaxSeekAttempts, f.seeks)
}

func TestDecodeSeekError(t *testing.T) {
	f := newFakeDemuxer(1, 2000000)
	f.seekable = false
	d, _ := newTestDecoder(t, f, WithSeekCapability(SeekSupported), WithSeekTolerance(1000))

	_, _, err := d.Decode(500000, 64, 0)
	assert.True(t, errors.Is(err, ErrSeekFailed))
	assert.Equal(t, 1, f.seeks)
	assert.Equal(t, SeekUnsupported, d.SeekCapability())
	assert.Zero(t, d.Cache().Position())
}

func TestSeekingAllowed(t *testing.T) {
	t.Run("disabled by default reports unsupported", func(t *testing.T) {
		d, _ := newTestDecoder(t, newFakeDemuxer(1, 1000))
		assert.Equal(t, SeekUnknown, d.SeekCapability())
		assert.False(t, d.SeekingAllowed())
		assert.Equal(t, SeekUnsupported, d.SeekCapability())
	})

	t.Run("enabled check allows seeking", func(t *testing.T) {
		d, _ := newTestDecoder(t, newFakeDemuxer(1, 1000), WithSeekProbe())
		assert.True(t, d.SeekingAllowed())
		assert.Equal(t, SeekSupported, d.SeekCapability())
	})

	t.Run("rejects an unseekable demuxer", func(t *testing.T) {
		f := newFakeDemuxer(1, 1000)
		f.seekable = false
		d, _ := newTestDecoder(t, f, WithSeekProbe())
		assert.False(t, d.SeekingAllowed())
	})

	t.Run("rejects a coarse time base", func(t *testing.T) {
		f := newFakeDemuxer(1, 1000)
		streams := NewStreamSet(&StreamContext{Info: f.info()})
		streams.Streams()[0].Info.TimeBase = Rational{Num: 1, Den: 1000}
		d, err := NewDecoder("coarse", streams, nil, f, 0, WithSeekProbe())
		require.NoError(t, err)
		assert.False(t, d.SeekingAllowed())
	})

	t.Run("rejects unknown duration", func(t *testing.T) {
		d, _ := newTestDecoder(t, newFakeDemuxer(1, 0), WithSeekProbe())
		assert.False(t, d.SeekingAllowed())
	})
}

func TestDecodeValidation(t *testing.T) {
	d, _ := newTestDecoder(t, newFakeDemuxer(2, 1000))

	_, _, err := d.Decode(0, 10, 2)
	assert.True(t, errors.Is(err, ErrInvalidChannel))

	_, _, err = d.Decode(-1, 10, 0)
	assert.True(t, errors.Is(err, ErrInvalidRange))

	block, filled, err := d.Decode(0, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, filled)
	assert.Zero(t, block.Len())
}

func TestNewDecoderErrors(t *testing.T) {
	f := newFakeDemuxer(1, 100)
	streams := NewStreamSet(&StreamContext{Info: f.info()})

	_, err := NewDecoder("x", streams, nil, f, 1)
	assert.True(t, errors.Is(err, ErrInvalidStream))

	_, err = NewDecoder("x", streams, nil, nil, 0)
	assert.True(t, errors.Is(err, ErrInvalidStream))

	_, err = NewDecoder("x", nil, nil, f, 0)
	assert.True(t, errors.Is(err, ErrInvalidStream))

	assert.Equal(t, int32(1), streams.Refs())
}

func TestDecoderClose(t *testing.T) {
	f := newFakeDemuxer(1, 1000)
	d, streams := newTestDecoder(t, f)
	assert.Equal(t, int32(2), streams.Refs())
	assert.True(t, d.ReadHeader())
	assert.Equal(t, "test", d.Name())
	assert.Equal(t, [][]int{{0}}, d.Tracks())

	_, _, err := d.Decode(0, 10, 0)
	require.NoError(t, err)

	require.NoError(t, d.Close())
	assert.True(t, f.closed)
	assert.Equal(t, int32(1), streams.Refs())
	assert.Zero(t, d.Cache().Len())

	require.NoError(t, d.Close())
	assert.Equal(t, int32(1), streams.Refs())

	_, _, err = d.Decode(0, 10, 0)
	assert.True(t, errors.Is(err, ErrDecoderClosed))
}

func TestStreamInfoConversions(t *testing.T) {
	info := StreamInfo{SampleRate: 48000, TimeBase: Rational{Num: 1, Den: 90000}}
	assert.Equal(t, int64(48000), info.ToSamples(90000, 0.5))
	assert.Equal(t, int64(90000), info.ToTimestamp(48000))

	info.TimeBase = Rational{}
	assert.Equal(t, int64(77), info.ToSamples(77, 0.5))
}

func TestStreamInfoSamples(t *testing.T) {
	info := StreamInfo{SampleRate: 44100, TimeBase: Rational{Num: 1, Den: 1000}, Duration: 2000}
	assert.Equal(t, int64(88200), info.Samples())

	info.TimeBase = Rational{Num: 1, Den: 44100}
	info.Duration = 12345
	assert.Equal(t, int64(12345), info.Samples())

	info.Duration = 0
	assert.Zero(t, info.Samples())
}
