package ondemand

import "log/slog"

// Silence returns a zero-valued range covering [start, start+length) with
// channels interleaved channels, stored in the output's own sample format.
func Silence(start, length int64, channels int, out OutputFormat) DecodedRange {
	format := out.SampleFormat()
	return DecodedRange{
		Data:     make([]byte, length*int64(channels)*int64(format.Size())),
		Start:    start,
		Len:      length,
		Channels: channels,
		Format:   format,
	}
}

// InsertSilence caches a silent range so later fills treat the hole like
// decoded audio.
func (c *Cache) InsertSilence(start, length int64, channels int, out OutputFormat) int {
	slog.Debug("inserting silence",
		"start", start,
		"length", length,
		"channels", channels,
		"format", out)
	return c.Insert(Silence(start, length, channels, out))
}
