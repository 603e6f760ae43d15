package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/config"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "disclosures",
	Short: "Crawler and triage toolkit for public document disclosures",
	Long:  "Crawls a disclosure site, downloads and deduplicates the published files, matches them against an investigative keyword profile, and ranks the archive for human review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func initStore() (store.Store, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return store.NewSQLite(cfg.Store.Path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
