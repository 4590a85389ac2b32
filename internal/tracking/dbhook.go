package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"odcache.click/internal/ondemand"
)

// DBHook records decode events of one session to the database. The first
// write error disables it so decoding never fails because of tracking.
type DBHook struct {
	db        *sql.DB
	sessionID string
	disabled  bool
	streamIDs map[string]int64
	now       func() time.Time
}

// NewDBHook creates a new database hook for the specified session
func NewDBHook(db *sql.DB, sessionID string) *DBHook {
	return &DBHook{
		db:        db,
		sessionID: sessionID,
		streamIDs: make(map[string]int64),
		now:       time.Now,
	}
}

// Describe stores what is known about a stream before it is decoded
func (d *DBHook) Describe(name string, info ondemand.StreamInfo) error {
	if d.disabled {
		return nil
	}

	_, err := d.db.Exec(`
		INSERT INTO streams (path, codec, sample_rate, channels, duration)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			codec = excluded.codec,
			sample_rate = excluded.sample_rate,
			channels = excluded.channels,
			duration = excluded.duration`,
		name,
		info.Codec,
		info.SampleRate,
		info.Channels,
		info.Samples())
	if err != nil {
		return fmt.Errorf("failed to describe stream %s: %w", name, err)
	}
	delete(d.streamIDs, name)
	return nil
}

// Record stores one decode event
func (d *DBHook) Record(event ondemand.DecodeEvent) {
	if d.disabled {
		return
	}

	streamID, err := d.ensureStream(event.Stream)
	if err != nil {
		slog.Warn("decode tracking failed to create stream", "error", err, "stream", event.Stream)
		d.disabled = true
		return
	}

	var errText sql.NullString
	if event.Err != nil {
		errText = sql.NullString{String: event.Err.Error(), Valid: true}
	}
	seeked := 0
	if event.Seeked {
		seeked = 1
	}

	_, err = d.db.Exec(`
		INSERT INTO decode_events (timestamp, session_id, stream_id, channel, start, length, filled, cache_filled, seeked, duration_us, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.now().Unix(),
		d.sessionID,
		streamID,
		event.Channel,
		event.Start,
		event.Length,
		event.Filled,
		event.CacheFilled,
		seeked,
		event.Duration.Microseconds(),
		errText)
	if err != nil {
		slog.Warn("decode tracking failed to log event", "error", err, "stream", event.Stream)
		d.disabled = true
		return
	}

	slog.Debug("decode tracking logged event",
		"session_id", d.sessionID,
		"stream_id", streamID,
		"start", event.Start,
		"filled", event.Filled)
}

// ensureStream returns the row id of the stream, inserting a bare row for
// streams never described
func (d *DBHook) ensureStream(name string) (int64, error) {
	if id, ok := d.streamIDs[name]; ok {
		return id, nil
	}

	if _, err := d.db.Exec(`INSERT OR IGNORE INTO streams (path) VALUES (?)`, name); err != nil {
		return 0, err
	}

	var id int64
	if err := d.db.QueryRow(`SELECT id FROM streams WHERE path = ?`, name).Scan(&id); err != nil {
		return 0, err
	}
	d.streamIDs[name] = id
	return id, nil
}

// Disabled reports whether a write error switched the hook off
func (d *DBHook) Disabled() bool {
	return d.disabled
}

// Hook returns the decoder hook
func (d *DBHook) Hook() ondemand.Hook {
	return d.Record
}
