package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"odcache.click/internal/tracking"
)

// statsReport is everything the stats command prints
type statsReport struct {
	Summary *tracking.Summary      `json:"summary"`
	Streams []tracking.StreamStats `json:"streams"`
	Errors  []tracking.ErrorCount  `json:"errors,omitempty"`
}

func newStatsCommand() *cobra.Command {
	var days int
	var preset string
	var since string
	var stream string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded decode events",
		Long: `Summarize recorded decode events.

Every decode run by this tool is recorded to the tracking database unless
tracking is disabled. This command reports how much was decoded, how much the
sample cache served, how often the decoder seeked and which errors occurred.

Examples:
  odcache stats                        # Last 7 days
  odcache stats --preset today         # Today only
  odcache stats --since "3 days ago"   # Natural language start
  odcache stats --stream song.flac     # One file only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cliFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cli.trackingDB == nil {
				return fmt.Errorf("decode tracking is not enabled or database is not available")
			}

			filter := tracking.QueryFilter{
				Days:       days,
				DatePreset: preset,
				Stream:     stream,
				Limit:      limit,
			}
			if since != "" {
				start, err := tracking.ParseNaturalDate(since, time.Now())
				if err != nil {
					return err
				}
				filter.StartTime = &start
			}

			slog.Debug("running stats command", "days", days, "preset", preset, "since", since, "stream", stream)

			report := statsReport{}
			if report.Summary, err = tracking.GetSummary(cli.trackingDB, filter); err != nil {
				return err
			}
			if report.Streams, err = tracking.GetStreamStats(cli.trackingDB, filter); err != nil {
				return err
			}
			if report.Errors, err = tracking.GetErrors(cli.trackingDB, filter); err != nil {
				slog.Warn("failed to get decode errors", "error", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			outputStats(cmd.OutOrStdout(), report, filter)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Number of days to analyze (0 = all time)")
	cmd.Flags().StringVar(&preset, "preset", "", "Date preset (today, yesterday, last-week, this-month, all-time)")
	cmd.Flags().StringVar(&since, "since", "", `Start of the range in natural language ("yesterday", "2 weeks ago")`)
	cmd.Flags().StringVar(&stream, "stream", "", "Only events of this file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of streams and errors to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func timeContext(filter tracking.QueryFilter) string {
	switch {
	case filter.DatePreset != "":
		return filter.DatePreset
	case filter.StartTime != nil:
		return "since " + filter.StartTime.Format(time.DateTime)
	case filter.Days > 0:
		return fmt.Sprintf("last %d days", filter.Days)
	}
	return "all time"
}

func outputStats(w io.Writer, report statsReport, filter tracking.QueryFilter) {
	s := report.Summary
	if s.TotalEvents == 0 {
		fmt.Fprintf(w, "No decode events recorded (%s).\n", timeContext(filter))
		return
	}

	fmt.Fprintf(w, "Decode Activity (%s):\n\n", timeContext(filter))
	fmt.Fprintf(w, "  Decode calls:      %d across %d streams in %d sessions\n", s.TotalEvents, s.Streams, s.Sessions)
	fmt.Fprintf(w, "  Samples requested: %d\n", s.Requested)
	fmt.Fprintf(w, "  Samples filled:    %d\n", s.Filled)
	fmt.Fprintf(w, "  Served from cache: %d (%.1f%%)\n", s.CacheFilled, s.CacheHitRate*100)
	fmt.Fprintf(w, "  Seeks:             %d\n", s.Seeks)
	fmt.Fprintf(w, "  Errors:            %d\n", s.Errors)
	fmt.Fprintf(w, "  Average call:      %s\n", s.AvgDuration)

	if len(report.Streams) > 0 {
		fmt.Fprintf(w, "\nStreams:\n")
		for _, st := range report.Streams {
			displayPath := st.Path
			if len(displayPath) > 35 {
				displayPath = "..." + displayPath[len(displayPath)-32:]
			}
			fmt.Fprintf(w, "  %-35s %-5s %5d calls %10d samples %4d seeks %3d errors\n",
				displayPath, st.Codec, st.Events, st.Filled, st.Seeks, st.Errors)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  %4dx %s\n", e.Count, e.Message)
		}
	}
}
