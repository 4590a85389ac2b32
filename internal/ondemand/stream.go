package ondemand

import (
	"log/slog"
	"math"
	"sync/atomic"
)

// NoTimestamp marks an unknown timestamp
const NoTimestamp int64 = math.MinInt64

// Rational is a time base: one tick lasts Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// StreamInfo describes one audio stream as parsed by the importer.
type StreamInfo struct {
	Index      int
	Codec      string
	SampleRate int
	Channels   int
	Format     SampleFormat // format of decoded batches
	TimeBase   Rational
	FrameSize  int   // samples per frame when fixed, 0 otherwise
	StartTime  int64 // time base units, NoTimestamp if unknown
	Duration   int64 // time base units, 0 if unknown
}

// ToSamples converts a timestamp in the stream time base to a sample index,
// adding bias before truncating.
func (i StreamInfo) ToSamples(ts int64, bias float64) int64 {
	if i.TimeBase.Den == 0 {
		return ts
	}
	return int64(bias + float64(i.SampleRate)*float64(ts)*(float64(i.TimeBase.Num)/float64(i.TimeBase.Den)))
}

// Samples returns the stream length in samples, 0 if unknown
func (i StreamInfo) Samples() int64 {
	if i.Duration <= 0 {
		return 0
	}
	return i.ToSamples(i.Duration, 0.5)
}

// ToTimestamp converts a sample index to the stream time base
func (i StreamInfo) ToTimestamp(sample int64) int64 {
	if i.TimeBase.Num == 0 || i.SampleRate == 0 {
		return sample
	}
	return int64(float64(sample) * (float64(i.TimeBase.Den) / float64(i.TimeBase.Num*int64(i.SampleRate))))
}

// Packet is the compressed payload backing one frame.
type Packet struct {
	DTS       int64
	Data      []byte
	Remaining int // bytes of Data not yet decoded
	Valid     bool
}

// StreamContext carries the decode state of one stream. Contexts are owned by
// the importer and shared with every decoder created from it.
type StreamContext struct {
	Info   StreamInfo
	Packet Packet

	Decoded      []byte // samples produced by the last DecodeFrame
	DecodedValid int    // valid bytes in Decoded
	FrameValid   bool
}

// ReleasePacket drops the current packet
func (sc *StreamContext) ReleasePacket() {
	sc.Packet = Packet{DTS: NoTimestamp}
}

// StreamSet is a reference-counted set of stream contexts.
type StreamSet struct {
	streams []*StreamContext
	refs    atomic.Int32
}

// NewStreamSet creates a set holding one reference for the caller
func NewStreamSet(streams ...*StreamContext) *StreamSet {
	s := &StreamSet{streams: streams}
	s.refs.Store(1)
	return s
}

// Retain adds a reference
func (s *StreamSet) Retain() *StreamSet {
	s.refs.Add(1)
	return s
}

// Release drops a reference and returns how many remain
func (s *StreamSet) Release() int32 {
	n := s.refs.Add(-1)
	if n < 0 {
		slog.Warn("stream set released more times than retained", "refs", n)
	}
	return n
}

// Refs returns the current reference count
func (s *StreamSet) Refs() int32 {
	return s.refs.Load()
}

// Streams returns the shared contexts. The slice aliases the set's storage.
func (s *StreamSet) Streams() []*StreamContext {
	return s.streams
}

// Len returns the number of streams
func (s *StreamSet) Len() int {
	return len(s.streams)
}

// FrameStatus is the outcome of reading the next frame.
type FrameStatus int

const (
	FrameValid FrameStatus = iota
	FrameSkip              // the frame belongs to a stream that is not imported
	FrameEOF
)

// String returns a readable name for the status
func (s FrameStatus) String() string {
	switch s {
	case FrameValid:
		return "valid"
	case FrameSkip:
		return "skip"
	default:
		return "eof"
	}
}

// Demuxer is an opened container together with its codecs. A decoder takes
// ownership of the demuxer it is created with.
type Demuxer interface {
	// ReadNextFrame loads the next packet into the matching context of
	// streams and returns it with FrameValid.
	ReadNextFrame(streams []*StreamContext) (*StreamContext, FrameStatus)

	// DecodeFrame decodes part of the packet held by sc into sc.Decoded,
	// reducing sc.Packet.Remaining. With flushing set it drains buffered
	// samples instead.
	DecodeFrame(sc *StreamContext, flushing bool) error

	// SeekFrame repositions the container near timestamp of stream.
	SeekFrame(stream int, timestamp int64) error

	// CurrentDTS reports the decode timestamp of stream after a seek.
	CurrentDTS(stream int) int64

	Close() error
}

// SeekProber is implemented by demuxers that can tell whether seeking works
// without disturbing the read position.
type SeekProber interface {
	ProbeSeek(stream int) bool
}
