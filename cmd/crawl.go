package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/pipeline"
)

var (
	crawlSeeds    []string
	crawlMaxPages int
	crawlWorkers  int
	crawlFollow   bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the disclosure site and triage every downloaded file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("seeds") {
			cfg.Crawl.Seeds = crawlSeeds
		}
		if cmd.Flags().Changed("max-pages") {
			cfg.Crawl.MaxPages = crawlMaxPages
		}
		if cmd.Flags().Changed("workers") {
			cfg.Crawl.Workers = crawlWorkers
		}
		if cmd.Flags().Changed("follow-discovered-pages") {
			cfg.Crawl.FollowDiscoveredPages = crawlFollow
		}
		if err := cfg.Validate("crawl"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := pipeline.NewRunner(st, *cfg, pipeline.Events{
			Log:   func(msg string) { fmt.Println(msg) },
			Error: func(msg string) { fmt.Fprintln(os.Stderr, "error: "+msg) },
		})

		err = runner.Run(ctx)
		stats := runner.Stats()
		fmt.Printf("Crawl finished: %d queued, %d processed, %d downloaded, %d matched\n",
			stats.Queued, stats.Processed, stats.Downloaded, stats.Matched)

		if errors.Is(err, context.Canceled) {
			zap.L().Info("crawl interrupted, frontier state saved")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "crawl run")
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringSliceVar(&crawlSeeds, "seeds", nil, "seed listing URLs (default from config)")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "listing page budget (default from config)")
	crawlCmd.Flags().IntVar(&crawlWorkers, "workers", 0, "download workers (default from config)")
	crawlCmd.Flags().BoolVar(&crawlFollow, "follow-discovered-pages", false, "also crawl non-pagination pages found on listings")
	rootCmd.AddCommand(crawlCmd)
}
