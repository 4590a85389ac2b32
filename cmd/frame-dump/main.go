package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"odcache.click/internal/codec"
	"odcache.click/internal/config"
	"odcache.click/internal/fs"
	"odcache.click/internal/ondemand"
)

// frameRecord is one line of output
type frameRecord struct {
	Frame   int64 `json:"frame"`
	DTS     int64 `json:"dts"`
	Bytes   int   `json:"bytes"`
	Samples int   `json:"samples"`
}

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

// run dumps the file named in args and returns the exit code
func run(args []string, stdout io.Writer) int {
	cm := config.NewConfigManager()
	cfg, err := cm.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}
	cfg = cm.ApplyEnvironmentOverrides(cfg)
	if err := cm.ApplyLogLevel(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		return 1
	}

	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s FILE\n", args[0])
		return 2
	}
	path := args[1]

	f, err := fs.NewDefaultFactory().ReadOnly().Open(path)
	if err != nil {
		slog.Error("failed to open file", "path", path, "error", err)
		return 1
	}
	defer f.Close()

	demux, err := codec.NewDefaultRegistry().Open(path, f)
	if err != nil {
		slog.Error("failed to open demuxer", "path", path, "error", err)
		return 1
	}
	defer demux.Close()

	info := demux.Info()
	slog.Info("dumping frames",
		"path", path,
		"codec", info.Codec,
		"sample_rate", info.SampleRate,
		"channels", info.Channels,
		"format", info.Format.String(),
		"duration", info.Duration)

	if err := dumpFrames(demux, info, json.NewEncoder(stdout)); err != nil {
		slog.Error("failed to write frame", "error", err)
		return 1
	}
	return 0
}

// dumpFrames reads every frame of the demuxer's stream and encodes one
// record per frame
func dumpFrames(demux *codec.Demuxer, info ondemand.StreamInfo, enc *json.Encoder) error {
	set := demux.Streams()
	defer set.Release()

	frameBytes := info.Channels * info.Format.Size()
	var total int64
	for {
		sc, status := demux.ReadNextFrame(set.Streams())
		if status == ondemand.FrameEOF {
			break
		}
		if status != ondemand.FrameValid {
			continue
		}

		rec := frameRecord{Frame: demux.FramesRead(), DTS: sc.Packet.DTS, Bytes: len(sc.Packet.Data)}
		if frameBytes > 0 {
			rec.Samples = len(sc.Packet.Data) / frameBytes
		}
		total += int64(rec.Samples)
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	slog.Info("frame dump completed", "frames", demux.FramesRead(), "samples", total)
	return nil
}
