package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/search"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
)

var (
	searchLimit          int
	searchSemanticWeight float64
	searchJSON           bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank archived documents against an ad-hoc query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("limit") {
			cfg.Search.ResultLimit = searchLimit
		}
		if cmd.Flags().Changed("semantic-weight") {
			cfg.Search.SemanticWeight = searchSemanticWeight
		}
		if err := cfg.Validate("search"); err != nil {
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

		searcher := search.New(st, semantic.NewFromConfig(cfg.Embed), cfg.Search)

		query := strings.Join(args, " ")
		results, err := searcher.Search(ctx, query)
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		if len(results) == 0 {
			fmt.Println("No matching documents.")
			return nil
		}
		formatResults(os.Stdout, results)
		return nil
	},
}

func formatResults(w io.Writer, results []search.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tDOC\tSTATUS\tTITLE")
	for i, r := range results {
		status := string(r.ReviewStatus)
		if status == "" {
			status = "-"
		}
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(tw, "%d\t%.3f\t%d\t%s\t%s\n", i+1, r.Score, r.DocID, status, truncate(title, 80))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64Var(&searchSemanticWeight, "semantic-weight", 0, "semantic similarity weight (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}
