package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"odcache.click/internal/ondemand"
)

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func TestDBHookRecord(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "session-1")
	hook.now = fixedClock(1700000000)

	require.NoError(t, hook.Describe("/audio/a.flac", ondemand.StreamInfo{
		Codec: "flac", SampleRate: 44100, Channels: 2, Duration: 88200,
	}))

	record := hook.Hook()
	record(ondemand.DecodeEvent{
		Stream: "/audio/a.flac", Start: 100, Length: 50, Channel: 1,
		Filled: 50, CacheFilled: 20, Seeked: true, Duration: 1500 * time.Microsecond,
	})
	record(ondemand.DecodeEvent{
		Stream: "/audio/a.flac", Start: 90000, Length: 10, Channel: 0,
		Err: errors.New("boom"),
	})

	var (
		ts, start, length, filled, cacheFilled, durationUs int64
		channel, seeked                                    int
		session, path, codec                               string
	)
	err := db.QueryRow(`
		SELECT e.timestamp, e.session_id, s.path, s.codec, e.channel, e.start, e.length,
		       e.filled, e.cache_filled, e.seeked, e.duration_us
		FROM decode_events e JOIN streams s ON e.stream_id = s.id
		ORDER BY e.id LIMIT 1`).Scan(&ts, &session, &path, &codec, &channel, &start,
		&length, &filled, &cacheFilled, &seeked, &durationUs)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), ts)
	assert.Equal(t, "session-1", session)
	assert.Equal(t, "/audio/a.flac", path)
	assert.Equal(t, "flac", codec)
	assert.Equal(t, 1, channel)
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(50), length)
	assert.Equal(t, int64(50), filled)
	assert.Equal(t, int64(20), cacheFilled)
	assert.Equal(t, 1, seeked)
	assert.Equal(t, int64(1500), durationUs)

	var errText string
	require.NoError(t, db.QueryRow("SELECT error FROM decode_events WHERE start = 90000").Scan(&errText))
	assert.Equal(t, "boom", errText)
	assert.False(t, hook.Disabled())
}

func TestDBHookUndescribedStream(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s")

	hook.Record(ondemand.DecodeEvent{Stream: "x.wav", Length: 10, Filled: 10})
	hook.Record(ondemand.DecodeEvent{Stream: "x.wav", Start: 10, Length: 10, Filled: 10})

	var streams, events int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM streams").Scan(&streams))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM decode_events").Scan(&events))
	assert.Equal(t, 1, streams)
	assert.Equal(t, 2, events)

	// describing later fills in the bare row
	require.NoError(t, hook.Describe("x.wav", ondemand.StreamInfo{Codec: "wav", SampleRate: 8000, Channels: 1}))
	var rate int
	require.NoError(t, db.QueryRow("SELECT sample_rate FROM streams WHERE path = 'x.wav'").Scan(&rate))
	assert.Equal(t, 8000, rate)
}

func TestDBHookDisablesOnError(t *testing.T) {
	db := setupTestDB(t)
	hook := NewDBHook(db, "s")
	require.NoError(t, db.Close())

	hook.Record(ondemand.DecodeEvent{Stream: "x.wav"})
	assert.True(t, hook.Disabled())

	// further calls are ignored
	hook.Record(ondemand.DecodeEvent{Stream: "x.wav"})
	assert.NoError(t, hook.Describe("x.wav", ondemand.StreamInfo{}))
}
