package cli

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/spf13/cobra"
	"odcache.click/internal/blockstream"
	"odcache.click/internal/importer"
	"odcache.click/internal/ondemand"
)

// fileInfo is the info command's report
type fileInfo struct {
	Path       string  `json:"path"`
	Codec      string  `json:"codec"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Format     string  `json:"sample_format"`
	Output     string  `json:"output_format"`
	Samples    int64   `json:"samples"`
	Seconds    float64 `json:"seconds"`
	FrameSize  int     `json:"frame_size,omitempty"`
	Seekable   bool    `json:"seekable"`
}

func newInfoCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info FILE",
		Short: "Show stream parameters of an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}

			im, err := importer.Open(cli.fs, cli.registry, args[0])
			if err != nil {
				return err
			}
			defer im.Close()

			s := im.Info()
			info := fileInfo{
				Path:       im.Name,
				Codec:      s.Codec,
				SampleRate: s.SampleRate,
				Channels:   s.Channels,
				Format:     s.Format.String(),
				Output:     ondemand.OutputFor(s.Format).String(),
				Samples:    s.Samples(),
				FrameSize:  s.FrameSize,
				Seekable:   im.Seekable(),
			}
			if s.SampleRate > 0 {
				info.Seconds = float64(info.Samples) / float64(s.SampleRate)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "File:        %s\n", info.Path)
			fmt.Fprintf(out, "Codec:       %s\n", info.Codec)
			fmt.Fprintf(out, "Sample rate: %d Hz\n", info.SampleRate)
			fmt.Fprintf(out, "Channels:    %d\n", info.Channels)
			fmt.Fprintf(out, "Format:      %s (served as %s)\n", info.Format, info.Output)
			fmt.Fprintf(out, "Length:      %d samples (%.3fs)\n", info.Samples, info.Seconds)
			if info.FrameSize > 0 {
				fmt.Fprintf(out, "Frame size:  %d\n", info.FrameSize)
			}
			fmt.Fprintf(out, "Seekable:    %t\n", info.Seekable)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// Output formats of the decode command
const (
	formatAuto = "auto"
	formatText = "text"
	formatRaw  = "raw"
)

func newDecodeCommand() *cobra.Command {
	var start, length int64
	var channel int
	var format string

	cmd := &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode a window of samples from one channel",
		Long: `Decode a window of samples from one channel.

Text output prints one "index value" line per sample. Raw output writes the
samples as little-endian int16 or float32, and is the default when stdout is
not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}

			dec, err := cli.openDecoder(args[0])
			if err != nil {
				return err
			}
			defer dec.Close()

			block, filled, err := dec.Decode(start, length, channel)
			if err != nil {
				return err
			}
			if filled < length {
				slog.Info("stream ended inside the window", "requested", length, "filled", filled)
			}

			out := cmd.OutOrStdout()
			switch cli.resolveFormat(out, format) {
			case formatRaw:
				return writeRaw(out, block, int(filled))
			default:
				return writeText(out, block, start, int(filled))
			}
		},
	}

	cmd.Flags().Int64Var(&start, "start", 0, "First sample of the window")
	cmd.Flags().Int64Var(&length, "length", 1024, "Number of samples")
	cmd.Flags().IntVar(&channel, "channel", 0, "Channel to decode")
	cmd.Flags().StringVar(&format, "format", formatAuto, "Output format (auto, text, raw)")
	return cmd
}

// resolveFormat picks raw output for auto when out is a file that is not a
// terminal
func (c *CLI) resolveFormat(out io.Writer, format string) string {
	if format != formatAuto {
		return format
	}
	if f, ok := out.(*os.File); ok && !c.isInteractiveTerminal(int(f.Fd())) {
		return formatRaw
	}
	return formatText
}

func writeText(w io.Writer, block *ondemand.Block, start int64, n int) error {
	for i := 0; i < n; i++ {
		var err error
		if block.Format == ondemand.OutputInt16 {
			_, err = fmt.Fprintf(w, "%d\t%d\n", start+int64(i), block.Int16[i])
		} else {
			_, err = fmt.Fprintf(w, "%d\t%g\n", start+int64(i), block.Float32[i])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeRaw(w io.Writer, block *ondemand.Block, n int) error {
	buf := make([]byte, 0, n*block.Format.Size())
	for i := 0; i < n; i++ {
		if block.Format == ondemand.OutputInt16 {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(block.Int16[i]))
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(block.Float32[i]))
		}
	}
	_, err := w.Write(buf)
	return err
}

func newBlocksCommand() *cobra.Command {
	var blockSize int64

	cmd := &cobra.Command{
		Use:   "blocks FILE",
		Short: "Decode a whole file block by block and print per-channel peaks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}

			if blockSize <= 0 {
				blockSize = cli.cfg.Decode.BlockSize
			}

			dec, err := cli.openDecoder(args[0])
			if err != nil {
				return err
			}
			defer dec.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%10s %7s %8s %8s %8s\n", "start", "channel", "samples", "peak", "rms")

			var blocks int
			err = blockstream.Walk(dec, blockSize, func(start int64, channel int, block *ondemand.Block, filled int64) error {
				peak, rms := levels(block, int(filled))
				blocks++
				_, err := fmt.Fprintf(out, "%10d %7d %8d %8.4f %8.4f\n", start, channel, filled, peak, rms)
				return err
			})
			if err != nil {
				return err
			}

			stats := dec.Cache()
			slog.Info("blocks decoded",
				"path", args[0],
				"blocks", blocks,
				"cached_ranges", stats.Len(),
				"cached_samples", stats.Total())
			return nil
		},
	}

	cmd.Flags().Int64Var(&blockSize, "block-size", 0, "Samples per block (default from config)")
	return cmd
}

// levels returns the peak and RMS of the first n samples of block
func levels(block *ondemand.Block, n int) (peak, rms float64) {
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := block.Float64(i)
		peak = max(peak, math.Abs(v))
		sum += v * v
	}
	return peak, math.Sqrt(sum / float64(n))
}

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export FILE OUT.wav",
		Short: "Decode a file and write it as WAV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}

			dec, err := cli.openDecoder(args[0])
			if err != nil {
				return err
			}
			defer dec.Close()

			frames, err := blockstream.Export(cli.fs, args[1], dec)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frames to %s\n", frames, args[1])
			return nil
		},
	}
	return cmd
}
