package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"odcache.click/internal/ondemand"
)

func openTestDemuxer(t *testing.T, channels int, samples int64) *Demuxer {
	t.Helper()
	demux, err := NewDefaultRegistry().Open("test.wav", bytes.NewReader(generateS16WAV(channels, samples)))
	require.NoError(t, err)
	return demux
}

func TestDemuxerFrames(t *testing.T) {
	demux := openTestDemuxer(t, 1, 1500)
	demux.SetBatchSamples(100)
	streams := demux.Streams()
	assert.Equal(t, 1, streams.Len())

	sc, status := demux.ReadNextFrame(streams.Streams())
	require.Equal(t, ondemand.FrameValid, status)
	assert.Equal(t, int64(0), sc.Packet.DTS)
	assert.Equal(t, 2048, sc.Packet.Remaining)

	var batches []int
	for sc.Packet.Remaining > 0 {
		require.NoError(t, demux.DecodeFrame(sc, false))
		require.True(t, sc.FrameValid)
		batches = append(batches, sc.DecodedValid)
	}
	assert.Len(t, batches, 11)
	assert.Equal(t, 200, batches[0])
	assert.Equal(t, 48, batches[10])

	sc, status = demux.ReadNextFrame(streams.Streams())
	require.Equal(t, ondemand.FrameValid, status)
	assert.Equal(t, int64(1024), sc.Packet.DTS)

	_, status = demux.ReadNextFrame(streams.Streams())
	assert.Equal(t, ondemand.FrameEOF, status)
	assert.Equal(t, int64(2), demux.FramesRead())

	require.NoError(t, demux.DecodeFrame(sc, true))
	assert.False(t, sc.FrameValid)
	assert.Zero(t, sc.DecodedValid)
}

func TestDemuxerSeek(t *testing.T) {
	demux := openTestDemuxer(t, 2, 5000)
	assert.Equal(t, ondemand.NoTimestamp, demux.CurrentDTS(0))
	assert.True(t, demux.ProbeSeek(0))
	assert.False(t, demux.ProbeSeek(1))

	require.NoError(t, demux.SeekFrame(0, 3000))
	assert.Equal(t, int64(2048), demux.CurrentDTS(0))

	sc, status := demux.ReadNextFrame(demux.Streams().Streams())
	require.Equal(t, ondemand.FrameValid, status)
	assert.Equal(t, int64(2048), sc.Packet.DTS)

	err := demux.SeekFrame(3, 0)
	assert.True(t, errors.Is(err, ondemand.ErrInvalidStream))
	require.NoError(t, demux.Close())
}

func TestDecoderOverWav(t *testing.T) {
	demux := openTestDemuxer(t, 2, 60000)
	streams := demux.Streams()

	d, err := ondemand.NewDecoder("tone.wav", streams, [][]int{{0, 1}}, demux, 0,
		ondemand.WithSeekProbe(),
		ondemand.WithSeekTolerance(4096))
	require.NoError(t, err)
	defer d.Close()

	check := func(start, length int64, channel int) {
		t.Helper()
		block, filled, err := d.Decode(start, length, channel)
		require.NoError(t, err)
		require.Equal(t, length, filled)
		for i := int64(0); i < length; i++ {
			require.Equal(t, wavSample(start+i, channel), block.Int16[i], "sample %d", start+i)
		}
	}

	check(2000, 500, 1)
	check(2000, 500, 0)
	check(50000, 700, 0) // far ahead, seeks
	assert.Equal(t, ondemand.SeekSupported, d.SeekCapability())
	check(100, 300, 1)   // still cached
	check(10000, 300, 1) // behind the cursor, seeks back

	block, filled, err := d.Decode(59900, 200, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), filled)
	assert.Zero(t, block.Int16[150])
}
