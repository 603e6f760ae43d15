package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/fetch"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/pipeline"
)

var reprocessWorkers int

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-run parsing, matching, and scoring over the stored archive",
	Long:  "Replaces the derived rows (text, matches, entities, scores) of every stored document from its file on disk. No network requests are made, so profile or scoring changes can be applied to the whole archive offline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("workers") {
			cfg.Crawl.Workers = reprocessWorkers
		}
		if err := cfg.Validate("reprocess"); err != nil {
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

		proc, err := pipeline.NewProcessor(ctx, st, *cfg)
		if err != nil {
			return err
		}

		ids, err := st.AllDocumentIDs(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Reprocessing %d documents\n", len(ids))

		var processed, flagged, missing, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Crawl.Workers)
		for _, id := range ids {
			if gctx.Err() != nil {
				break
			}
			id := id
			g.Go(func() error {
				doc, err := st.GetDocument(gctx, id)
				if err != nil || doc == nil {
					if err != nil && !errors.Is(err, context.Canceled) {
						zap.L().Error("load document", zap.Int64("doc_id", id), zap.Error(err))
						failed.Add(1)
					}
					return nil
				}
				if _, err := os.Stat(doc.LocalPath); err != nil {
					zap.L().Warn("document file missing, skipping",
						zap.Int64("doc_id", id), zap.String("path", doc.LocalPath))
					missing.Add(1)
					return nil
				}

				out, err := proc.Process(gctx, &fetch.Result{
					URL:         doc.URL,
					FinalURL:    doc.FinalURL,
					LocalPath:   doc.LocalPath,
					ContentType: doc.ContentType,
					FileSize:    doc.FileSize,
					SHA256:      doc.SHA256,
					FetchedAt:   doc.FetchedAt,
				}, pipeline.ProcessOptions{AllowMove: true, ReprocessExisting: true})
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						zap.L().Error("reprocess document", zap.Int64("doc_id", id), zap.Error(err))
						failed.Add(1)
					}
					return nil
				}

				processed.Add(1)
				if out.PassesRelevance {
					flagged.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		fmt.Printf("Reprocess complete: %d processed, %d flagged, %d missing files, %d failed\n",
			processed.Load(), flagged.Load(), missing.Load(), failed.Load())
		return nil
	},
}

func init() {
	reprocessCmd.Flags().IntVar(&reprocessWorkers, "workers", 0, "parallel workers (default from config)")
	rootCmd.AddCommand(reprocessCmd)
}
