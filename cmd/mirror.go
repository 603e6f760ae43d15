package main

import (
	"fmt"
	"net/url"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/fetch"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/pipeline"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/urlutil"
)

var mirrorRoot string

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Ingest a disclosure dataset from an FTP mirror",
	Long:  "Walks an FTP mirror of the dataset, downloads every document-like file, and runs each through the same dedup and triage pass as the crawler.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("mirror"); err != nil {
			return err
		}

		rootURL := mirrorRoot
		if rootURL == "" {
			rootURL = "ftp://" + cfg.Mirror.Host + cfg.Mirror.RootDir
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

		fetcher := fetch.NewFTPFetcher(fetch.FTPOptions{
			User:     cfg.Mirror.User,
			Password: cfg.Mirror.Password,
			Timeout:  time.Duration(cfg.Crawl.DownloadTimeoutSecs) * time.Second,
		})

		docs, err := fetcher.ListDocuments(ctx, rootURL)
		if err != nil {
			return eris.Wrap(err, "list mirror")
		}
		fmt.Printf("Mirror lists %d documents\n", len(docs))

		var fetched, reused, flagged, failed int
		for _, docURL := range docs {
			if ctx.Err() != nil {
				break
			}

			localPath, err := mirrorLocalPath(proc.Plan().RawDir, docURL)
			if err != nil {
				zap.L().Warn("skip unparseable mirror entry", zap.String("url", docURL), zap.Error(err))
				failed++
				continue
			}

			n, sha, err := fetcher.FetchToFile(ctx, docURL, localPath)
			if err != nil {
				zap.L().Error("mirror fetch failed", zap.String("url", docURL), zap.Error(err))
				failed++
				continue
			}

			out, err := proc.Process(ctx, &fetch.Result{
				URL:       docURL,
				FinalURL:  docURL,
				LocalPath: localPath,
				FileSize:  n,
				SHA256:    sha,
				FetchedAt: time.Now().UTC(),
			}, pipeline.ProcessOptions{AllowMove: true})
			if err != nil {
				zap.L().Error("mirror process failed", zap.String("url", docURL), zap.Error(err))
				failed++
				continue
			}

			fetched++
			if out.Reused {
				reused++
			}
			if out.PassesRelevance {
				flagged++
				fmt.Printf("flagged: %s (%d hits)\n", out.Title, len(out.Hits))
			}
		}

		fmt.Printf("Mirror complete: %d fetched, %d duplicates, %d flagged, %d failed\n",
			fetched, reused, flagged, failed)
		return nil
	},
}

// mirrorLocalPath flattens the mirror path into a single raw-dir filename so
// nested dataset directories cannot collide on their base names.
func mirrorLocalPath(rawDir, docURL string) (string, error) {
	u, err := url.Parse(docURL)
	if err != nil {
		return "", eris.Wrapf(err, "parse mirror url %s", docURL)
	}
	name := urlutil.SafeFilename(strings.TrimPrefix(u.Path, "/"), 160)
	if name == "" {
		return "", eris.Errorf("mirror url %s has no path", docURL)
	}
	return filepath.Join(rawDir, name), nil
}

func init() {
	mirrorCmd.Flags().StringVar(&mirrorRoot, "root", "", "ftp:// root URL (default from mirror.host and mirror.root_dir)")
	rootCmd.AddCommand(mirrorCmd)
}
