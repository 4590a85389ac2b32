package tracking

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"
)

// QueryFilter represents common query structure for all stats queries
type QueryFilter struct {
	// Time filters (mutually exclusive)
	StartTime  *time.Time // Start of time range (inclusive)
	EndTime    *time.Time // End of time range (exclusive)
	Days       int        // Convenience: last N days (overrides Start/End)
	DatePreset string     // Convenience: "today", "yesterday", "week", "month", "all"

	// Content filters
	Stream    string // Filter by stream path
	Channel   *int   // Filter by channel
	SessionID string // Filter by specific session
	Failed    bool   // Only events that returned an error

	Limit int // Maximum results
}

// ApplyTimeFilter converts QueryFilter time options to Unix timestamps
func (q *QueryFilter) ApplyTimeFilter(now time.Time) (startUnix, endUnix int64) {
	endUnix = now.Unix()

	// Priority order: DatePreset > StartTime/EndTime > Days > no filter
	if q.DatePreset != "" {
		start, end, err := ParseDatePreset(q.DatePreset, now)
		if err != nil {
			slog.Warn("invalid date preset, using no time filter", "preset", q.DatePreset, "error", err)
			return 0, endUnix
		}
		if start.IsZero() {
			return 0, end.Unix()
		}
		return start.Unix(), end.Unix()
	}

	if q.StartTime != nil && q.EndTime != nil {
		return q.StartTime.Unix(), q.EndTime.Unix()
	}
	if q.StartTime != nil {
		return q.StartTime.Unix(), endUnix
	}
	if q.EndTime != nil {
		return 0, q.EndTime.Unix()
	}

	if q.Days > 0 {
		startTime := now.AddDate(0, 0, -q.Days)
		return startTime.Unix(), endUnix
	}

	return 0, endUnix
}

// BuildWhereClause constructs the SQL WHERE clause and arguments. Columns are
// qualified with the e (decode_events) and s (streams) aliases.
func (q *QueryFilter) BuildWhereClause(now time.Time) (string, []any) {
	var clauses []string
	var args []any

	if q.StartTime != nil || q.EndTime != nil || q.Days > 0 || q.DatePreset != "" {
		startUnix, endUnix := q.ApplyTimeFilter(now)

		if startUnix > 0 {
			clauses = append(clauses, "e.timestamp >= ?")
			args = append(args, startUnix)
		}

		clauses = append(clauses, "e.timestamp <= ?")
		args = append(args, endUnix)
	}

	if q.Stream != "" {
		clauses = append(clauses, "s.path = ?")
		args = append(args, q.Stream)
	}

	if q.Channel != nil {
		clauses = append(clauses, "e.channel = ?")
		args = append(args, *q.Channel)
	}

	if q.SessionID != "" {
		clauses = append(clauses, "e.session_id = ?")
		args = append(args, q.SessionID)
	}

	if q.Failed {
		clauses = append(clauses, "e.error IS NOT NULL")
	}

	whereClause := strings.Join(clauses, " AND ")

	slog.Debug("built where clause", "clause", whereClause, "arg_count", len(args))

	return whereClause, args
}

// ParseDatePreset converts date preset strings to time ranges
func ParseDatePreset(preset string, now time.Time) (start, end time.Time, err error) {
	switch preset {
	case "today":
		start = beginningOfDay(now)
		end = now
	case "yesterday":
		yesterday := now.AddDate(0, 0, -1)
		start = beginningOfDay(yesterday)
		end = beginningOfDay(now)
	case "week", "this-week":
		start = beginningOfWeek(now)
		end = now
	case "last-week":
		start = beginningOfWeek(now).AddDate(0, 0, -7)
		end = beginningOfWeek(now)
	case "month", "this-month":
		start = beginningOfMonth(now)
		end = now
	case "last-month":
		start = beginningOfMonth(now).AddDate(0, -1, 0)
		end = beginningOfMonth(now)
	case "all", "all-time":
		start = time.Time{}
		end = now
	default:
		err = fmt.Errorf("unknown preset: %s", preset)
		return
	}

	slog.Debug("parsed date preset", "preset", preset, "start", start, "end", end)
	return
}

// ParseNaturalDate parses natural language dates like "3 days ago" relative
// to now
func ParseNaturalDate(naturalDate string, now time.Time) (time.Time, error) {
	result, err := naturaldate.Parse(naturalDate, now)
	if err != nil {
		slog.Warn("failed to parse natural language date", "input", naturalDate, "error", err)
		return time.Time{}, fmt.Errorf("failed to parse natural date '%s': %w", naturalDate, err)
	}

	slog.Debug("parsed natural language date", "input", naturalDate, "result", result)
	return result, nil
}

// beginningOfDay returns time at start of day (00:00:00)
func beginningOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// beginningOfWeek returns time at start of week (Monday 00:00:00)
func beginningOfWeek(t time.Time) time.Time {
	weekday := t.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	monday := t.AddDate(0, 0, -int(weekday-1))
	return beginningOfDay(monday)
}

// beginningOfMonth returns time at start of month (1st day 00:00:00)
func beginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
