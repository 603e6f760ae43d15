package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/export"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/pkg/notion"
)

var (
	exportDir    string
	exportLimit  int
	exportXLSX   bool
	exportNotion bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the flagged-document triage index to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("dir") {
			cfg.Export.Dir = exportDir
		}
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		if exportNotion && (cfg.Notion.Token == "" || cfg.Notion.ReviewDB == "") {
			return eris.New("notion export requires notion.token and notion.review_db")
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

		rows, err := st.FlaggedDocs(ctx, exportLimit)
		if err != nil {
			return err
		}

		path, err := export.WriteSemanticIndex(cfg.Export.Dir, rows)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d rows)\n", path, len(rows))

		if exportXLSX {
			path, err := export.WriteReviewWorkbook(cfg.Export.Dir, rows)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
		}

		if exportNotion {
			client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit))
			res, err := notion.SyncQueue(ctx, client, cfg.Notion.ReviewDB, rows)
			if err != nil {
				return err
			}
			fmt.Printf("Notion sync: %d created, %d updated, %d skipped\n",
				res.Created, res.Updated, res.Skipped)
		}

		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "export directory (default from config)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "cap on exported rows, 0 for all")
	exportCmd.Flags().BoolVar(&exportXLSX, "xlsx", false, "also write the review workbook")
	exportCmd.Flags().BoolVar(&exportNotion, "notion", false, "mirror the queue into the Notion review database")
	rootCmd.AddCommand(exportCmd)
}
