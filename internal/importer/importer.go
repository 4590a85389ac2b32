// Package importer opens audio files and hands out on-demand decoders for
// their streams.
package importer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"odcache.click/internal/codec"
	"odcache.click/internal/ondemand"
)

// ErrDemuxerTaken is returned when a decoder already owns the demuxer
var ErrDemuxerTaken = errors.New("demuxer already handed to a decoder")

// Import is one opened file. It owns the stream contexts shared with every
// decoder it creates, and the demuxer until a decoder takes it.
type Import struct {
	Name string

	streams *ondemand.StreamSet
	tracks  [][]int
	info     ondemand.StreamInfo
	seekable bool
	demux    *codec.Demuxer
}

// Open reads path from fs and parses it with the first matching codec
func Open(fs afero.Fs, registry *codec.Registry, path string) (*Import, error) {
	slog.Debug("importing file", "path", path)

	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	demux, err := registry.Open(path, file)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}

	info := demux.Info()
	tracks := make([][]int, 1)
	for ch := 0; ch < info.Channels; ch++ {
		tracks[0] = append(tracks[0], ch)
	}

	im := &Import{
		Name:     path,
		streams:  demux.Streams(),
		tracks:   tracks,
		info:     info,
		seekable: demux.ProbeSeek(info.Index),
		demux:    demux,
	}

	slog.Info("file imported",
		"path", path,
		"codec", info.Codec,
		"channels", info.Channels,
		"sample_rate", info.SampleRate,
		"samples", info.Samples(),
		"seekable", im.seekable)

	return im, nil
}

// Info describes the imported stream
func (im *Import) Info() ondemand.StreamInfo { return im.info }

// Streams returns the shared stream set
func (im *Import) Streams() *ondemand.StreamSet { return im.streams }

// Seekable reports whether the source supports seeking
func (im *Import) Seekable() bool { return im.seekable }

// Tracks maps each stream to the tracks its channels feed
func (im *Import) Tracks() [][]int { return im.tracks }

// NewDecoder creates the decoder for the imported stream. The decoder takes
// the demuxer, so only the first call succeeds.
func (im *Import) NewDecoder(opts ...ondemand.Option) (*ondemand.Decoder, error) {
	if im.demux == nil {
		return nil, ErrDemuxerTaken
	}

	d, err := ondemand.NewDecoder(im.Name, im.streams, im.tracks, im.demux, im.info.Index, opts...)
	if err != nil {
		return nil, err
	}
	im.demux = nil
	return d, nil
}

// Close releases the import's reference on the streams, and the demuxer if
// no decoder took it.
func (im *Import) Close() error {
	var err error
	if im.demux != nil {
		err = im.demux.Close()
		im.demux = nil
	}
	if im.streams != nil {
		remaining := im.streams.Release()
		slog.Debug("import closed", "path", im.Name, "stream_refs", remaining)
		im.streams = nil
	}
	return err
}
