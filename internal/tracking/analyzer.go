package tracking

import (
	"database/sql"
	"fmt"
	"time"
)

const eventsFrom = `
		FROM decode_events e
		JOIN streams s ON e.stream_id = s.id`

// Summary aggregates decode events
type Summary struct {
	TotalEvents  int           `json:"total_events"`
	Streams      int           `json:"streams"`
	Sessions     int           `json:"sessions"`
	Requested    int64         `json:"samples_requested"`
	Filled       int64         `json:"samples_filled"`
	CacheFilled  int64         `json:"samples_from_cache"`
	Seeks        int           `json:"seeks"`
	Errors       int           `json:"errors"`
	AvgDuration  time.Duration `json:"avg_duration"`
	CacheHitRate float64       `json:"cache_hit_rate"` // CacheFilled / Filled
}

// StreamStats summarizes the decode events of one stream
type StreamStats struct {
	Path        string `json:"path"`
	Codec       string `json:"codec,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Events      int    `json:"events"`
	Requested   int64  `json:"samples_requested"`
	Filled      int64  `json:"samples_filled"`
	CacheFilled int64  `json:"samples_from_cache"`
	Seeks       int    `json:"seeks"`
	Errors      int    `json:"errors"`
	LastDecoded int64  `json:"last_decoded"` // Unix timestamp
}

// ErrorCount is one distinct decode error and how often it happened
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Streams int    `json:"streams"`
}

func whereSuffix(filter QueryFilter) (string, []any) {
	whereClause, args := filter.BuildWhereClause(time.Now())
	if whereClause == "" {
		return "", nil
	}
	return " WHERE " + whereClause, args
}

// GetSummary returns overall decode statistics
func GetSummary(db *sql.DB, filter QueryFilter) (*Summary, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	where, args := whereSuffix(filter)
	query := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT e.stream_id),
			COUNT(DISTINCT e.session_id),
			COALESCE(SUM(e.length), 0),
			COALESCE(SUM(e.filled), 0),
			COALESCE(SUM(e.cache_filled), 0),
			COALESCE(SUM(e.seeked), 0),
			COUNT(e.error),
			COALESCE(AVG(e.duration_us), 0)` + eventsFrom + where

	var summary Summary
	var avgMicros float64
	err := db.QueryRow(query, args...).Scan(
		&summary.TotalEvents,
		&summary.Streams,
		&summary.Sessions,
		&summary.Requested,
		&summary.Filled,
		&summary.CacheFilled,
		&summary.Seeks,
		&summary.Errors,
		&avgMicros)
	if err != nil {
		return nil, fmt.Errorf("failed to query decode summary: %w", err)
	}

	summary.AvgDuration = time.Duration(avgMicros * float64(time.Microsecond))
	if summary.Filled > 0 {
		summary.CacheHitRate = float64(summary.CacheFilled) / float64(summary.Filled)
	}

	return &summary, nil
}

// GetStreamStats returns per-stream statistics, busiest stream first
func GetStreamStats(db *sql.DB, filter QueryFilter) ([]StreamStats, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	where, args := whereSuffix(filter)
	query := `
		SELECT
			s.path,
			s.codec,
			s.sample_rate,
			s.channels,
			COUNT(*) AS events,
			SUM(e.length),
			SUM(e.filled),
			SUM(e.cache_filled),
			SUM(e.seeked),
			COUNT(e.error),
			MAX(e.timestamp)` + eventsFrom + where + `
		GROUP BY s.id
		ORDER BY events DESC, s.path`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream stats: %w", err)
	}
	defer rows.Close()

	var results []StreamStats
	for rows.Next() {
		var st StreamStats
		err := rows.Scan(&st.Path, &st.Codec, &st.SampleRate, &st.Channels,
			&st.Events, &st.Requested, &st.Filled, &st.CacheFilled,
			&st.Seeks, &st.Errors, &st.LastDecoded)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream stats row: %w", err)
		}
		results = append(results, st)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stream stats rows: %w", err)
	}

	return results, nil
}

// GetErrors returns the distinct decode errors, most frequent first
func GetErrors(db *sql.DB, filter QueryFilter) ([]ErrorCount, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	filter.Failed = true
	where, args := whereSuffix(filter)
	query := `
		SELECT
			e.error,
			COUNT(*) AS count,
			COUNT(DISTINCT e.stream_id)` + eventsFrom + where + `
		GROUP BY e.error
		ORDER BY count DESC, e.error`

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decode errors: %w", err)
	}
	defer rows.Close()

	var results []ErrorCount
	for rows.Next() {
		var ec ErrorCount
		if err := rows.Scan(&ec.Message, &ec.Count, &ec.Streams); err != nil {
			return nil, fmt.Errorf("failed to scan decode error row: %w", err)
		}
		results = append(results, ec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decode error rows: %w", err)
	}

	return results, nil
}
