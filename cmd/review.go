package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/feedback"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/model"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/semantic"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review <doc-id|sha256> <label>",
	Short: "Label a document and fold the verdict into future ranking",
	Long:  "Labels a document reviewed, ignored, irrelevant, or high_value. Irrelevant and high_value verdicts adjust host priors and feedback centroids so later crawls and searches learn from them.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("review"); err != nil {
			return err
		}

		label := model.ReviewStatus(strings.ToLower(args[1]))
		if !model.ValidReviewStatus(label) {
			return eris.Errorf("unknown label %q (want reviewed, ignored, irrelevant, or high_value)", args[1])
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

		docID, err := resolveDocRef(ctx, st, args[0])
		if err != nil {
			return err
		}

		applier := feedback.NewApplier(st, semantic.NewFromConfig(cfg.Embed),
			cfg.Storage.OutputDir, cfg.Storage.Layout, cfg.Feedback)
		if err := applier.Apply(ctx, docID, label); err != nil {
			return err
		}

		fmt.Printf("Document %d marked %s\n", docID, label)
		return nil
	},
}

// resolveDocRef accepts either a numeric document id or a full sha256 hash.
func resolveDocRef(ctx context.Context, st store.Store, ref string) (int64, error) {
	if isSHA256Hex(ref) {
		id, err := st.DocumentIDBySHA256(ctx, ref)
		if err != nil {
			return 0, err
		}
		if id == 0 {
			return 0, eris.Errorf("no document with hash %s", ref)
		}
		return id, nil
	}

	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, eris.Errorf("document reference %q is neither an id nor a sha256 hash", ref)
	}
	doc, err := st.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, eris.Errorf("no document with id %d", id)
	}
	return id, nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
