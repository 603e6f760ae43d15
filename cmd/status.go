package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show frontier, archive, and review-queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		ctx := cmd.Context()

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatSnapshot(os.Stdout, *snap)
		return nil
	},
}

func formatSnapshot(w io.Writer, s monitoring.MetricsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "FRONTIER")
	fmt.Fprintf(tw, "  total\t%d\n", s.FrontierTotal)
	fmt.Fprintf(tw, "  pending\t%d\n", s.FrontierPending)
	fmt.Fprintf(tw, "  done\t%d\n", s.FrontierDone)
	fmt.Fprintf(tw, "  errors\t%d\n", s.FrontierErrors)
	fmt.Fprintf(tw, "  abandoned\t%d\n", s.FrontierAbandoned)
	fmt.Fprintf(tw, "  fail rate\t%.1f%%\n", s.FrontierFailRate*100)

	fmt.Fprintln(tw, "ARCHIVE")
	fmt.Fprintf(tw, "  documents\t%d\n", s.Documents)
	fmt.Fprintf(tw, "  matched\t%d\n", s.MatchedDocs)
	fmt.Fprintf(tw, "  scored\t%d\n", s.ScoredDocs)
	fmt.Fprintf(tw, "  size\t%s\n", formatBytes(s.ArchiveBytes))

	fmt.Fprintln(tw, "REVIEW QUEUE")
	fmt.Fprintf(tw, "  pending\t%d\n", s.PendingReview)
	fmt.Fprintf(tw, "  reviewed\t%d\n", s.Reviewed)
	fmt.Fprintf(tw, "  high value\t%d\n", s.HighValue)
	fmt.Fprintf(tw, "  irrelevant\t%d\n", s.Irrelevant)
	fmt.Fprintf(tw, "  ignored\t%d\n", s.Ignored)

	fmt.Fprintln(tw, "LAST RUN")
	if s.LastRunID == "" {
		fmt.Fprintln(tw, "  none recorded\t")
	} else {
		fmt.Fprintf(tw, "  id\t%s\n", s.LastRunID)
		if s.LastRunStarted != nil {
			fmt.Fprintf(tw, "  started\t%s\n", s.LastRunStarted.Format(time.RFC3339))
		}
		if s.RunActive {
			fmt.Fprintln(tw, "  state\tactive")
		} else if s.LastRunEnded != nil {
			fmt.Fprintf(tw, "  ended\t%s\n", s.LastRunEnded.Format(time.RFC3339))
		}
	}

	fmt.Fprintln(tw, "LAST RELEASE")
	if s.ReleaseCreatedAt == "" {
		fmt.Fprintln(tw, "  none recorded\t")
	} else {
		fmt.Fprintf(tw, "  created\t%s\n", s.ReleaseCreatedAt)
		fmt.Fprintf(tw, "  changes\t+%d / ~%d / -%d\n", s.ReleaseAdded, s.ReleaseChanged, s.ReleaseRemoved)
	}

	tw.Flush()
}

// formatBytes renders a byte count with a binary-unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
