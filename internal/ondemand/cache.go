package ondemand

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

const (
	// DefaultCacheSamples bounds the cache at roughly 100 seconds of stereo
	// audio at 44.1kHz.
	DefaultCacheSamples = 4410000

	// DefaultSearchThreshold is the number of cached ranges below which Fill
	// scans from the head instead of probing.
	DefaultSearchThreshold = 10
)

// DecodedRange is one cached span of decoded audio.
type DecodedRange struct {
	Data     []byte // interleaved samples, Len*Channels*Format.Size() bytes
	Start    int64
	Len      int64
	Channels int
	Format   SampleFormat
}

// End returns the index one past the last sample of the range
func (r DecodedRange) End() int64 {
	return r.Start + r.Len
}

// Span is the still unfilled part of a request and where it lands in the
// destination block.
type Span struct {
	Start  int64
	Length int64
	Offset int // write cursor into the destination block
}

// End returns the index one past the last requested sample
func (s Span) End() int64 {
	return s.Start + s.Length
}

// Cache is an ordered, capacity-bounded store of decoded ranges. It also
// carries the decode cursor, which every insert advances.
type Cache struct {
	ranges    []DecodedRange
	total     int64
	capacity  int64
	threshold int

	position int64 // next sample index expected from the stream
	lastLen  int64 // length of the last inserted range
}

// NewCache creates an empty cache bounded at capacity samples
func NewCache(capacity int64) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSamples
	}
	return &Cache{
		capacity:  capacity,
		threshold: DefaultSearchThreshold,
	}
}

// SetSearchThreshold sets the range count above which Fill probes with a
// binary search.
func (c *Cache) SetSearchThreshold(n int) {
	c.threshold = n
}

// Len returns the number of cached ranges
func (c *Cache) Len() int { return len(c.ranges) }

// Total returns the number of cached samples across all ranges
func (c *Cache) Total() int64 { return c.total }

// Capacity returns the sample bound of the cache
func (c *Cache) Capacity() int64 { return c.capacity }

// Position returns the decode cursor
func (c *Cache) Position() int64 { return c.position }

// SetPosition moves the decode cursor without touching cached data
func (c *Cache) SetPosition(pos int64) { c.position = pos }

// LastLen returns the length of the most recently inserted range
func (c *Cache) LastLen() int64 { return c.lastLen }

// Ranges returns a copy of the cached ranges in order. Sample buffers are
// shared, not copied.
func (c *Cache) Ranges() []DecodedRange {
	return slices.Clone(c.ranges)
}

// Reset drops every cached range
func (c *Cache) Reset() {
	clear(c.ranges)
	c.ranges = nil
	c.total = 0
}

// Insert places r in start order, ahead of any range with the same start,
// and advances the cursor to the end of r. When the cache grows past
// capacity, ranges are evicted from whichever end is farther from the new
// one; on a tie the head goes. Insert returns the final index of r, or -1 if
// r itself was evicted.
func (c *Cache) Insert(r DecodedRange) int {
	idx := sort.Search(len(c.ranges), func(i int) bool {
		return c.ranges[i].Start >= r.Start
	})
	c.ranges = slices.Insert(c.ranges, idx, r)
	c.total += r.Len
	c.lastLen = r.Len
	c.position = r.End()

	for c.total > c.capacity && len(c.ranges) > 0 {
		fromHead := idx
		fromTail := len(c.ranges) - 1 - idx
		drop := len(c.ranges) - 1
		if fromHead >= fromTail {
			drop = 0
		}

		c.total -= c.ranges[drop].Len
		slog.Debug("evicting cached range",
			"start", c.ranges[drop].Start,
			"length", c.ranges[drop].Len,
			"index", drop,
			"cached_samples", c.total)
		c.ranges = slices.Delete(c.ranges, drop, drop+1)

		switch {
		case drop == idx:
			idx = -1
		case drop < idx:
			idx--
		}
	}

	return idx
}

// firstCandidate returns the index the fill scan starts from. Ranges are
// sorted by start, not by end, so the probe is approximate; a long range
// far ahead of its neighbours can be missed, which only costs a re-decode.
func (c *Cache) firstCandidate(start int64) int {
	if len(c.ranges) <= c.threshold {
		return 0
	}
	return sort.Search(len(c.ranges), func(i int) bool {
		return c.ranges[i].End() >= start
	})
}

// Fill copies cached samples for channel into dst and shrinks span to what
// is still missing. Only hits that touch one edge of the span are used, so
// the remainder is always a single contiguous window. Fill returns the
// number of samples written. On a conversion error the samples already
// written stay valid.
func (c *Cache) Fill(dst *Block, span *Span, channel int) (int64, error) {
	if len(c.ranges) == 0 || span.Length <= 0 {
		return 0, nil
	}

	var filled int64
	for i := c.firstCandidate(span.Start); i < len(c.ranges); i++ {
		r := &c.ranges[i]

		if span.Start < r.End() && span.End() > r.Start {
			// interior hit, would split the span in two
			if span.Start < r.Start && span.End() > r.End() {
				continue
			}
			if channel >= r.Channels {
				return filled, fmt.Errorf("%w: channel %d of %d", ErrInvalidChannel, channel, r.Channels)
			}

			hit := min(span.End(), r.End()) - max(r.Start, span.Start)
			inCache := max(0, span.Start-r.Start)
			var inRequest int64
			tail := span.Start < r.Start
			if tail {
				inRequest = span.Length - hit
			}

			for j := int64(0); j < hit; j++ {
				out := span.Offset + int(inRequest+j)
				in := int((inCache+j)*int64(r.Channels)) + channel
				if err := convertSample(dst, out, r.Data, r.Format, in); err != nil {
					slog.Error("cache fill aborted",
						"format", r.Format,
						"range_start", r.Start,
						"error", err)
					return filled, err
				}
			}
			filled += hit

			if tail {
				span.Length -= hit
			} else {
				span.Start += hit
				span.Offset += int(hit)
				span.Length -= hit
			}
		}

		if span.Length <= 0 || r.Start > span.End() {
			break
		}
	}

	return filled, nil
}
