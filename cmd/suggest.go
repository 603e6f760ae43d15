package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YourHumdrumChap/Epstein-File-Downloader/internal/match"
	"github.com/YourHumdrumChap/Epstein-File-Downloader/pkg/anthropic"
)

var (
	suggestCount int
	suggestModel string
	suggestMerge bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask Claude for keyword candidates related to the topic profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("suggest"); err != nil {
			return err
		}

		ctx := cmd.Context()

		profile, err := match.LoadProfile(cfg.Match.ProfilePath)
		if err != nil {
			return err
		}
		topics := profile.TopicPhrases
		if len(topics) == 0 {
			topics = cfg.Triage.TopicPhrases
		}
		model := suggestModel
		if model == "" {
			model = cfg.Anthropic.Model
		}

		client := anthropic.NewClient(cfg.Anthropic.Key)
		res, err := anthropic.SuggestKeywords(ctx, client, anthropic.SuggestRequest{
			Model:    model,
			Topic:    topics,
			Keywords: profile.Keywords,
			Count:    suggestCount,
		})
		if err != nil {
			return err
		}

		zap.L().Info("keyword suggestion complete",
			zap.String("model", res.Model),
			zap.Int("suggested", len(res.Keywords)),
			zap.Int64("input_tokens", res.Usage.InputTokens),
			zap.Int64("output_tokens", res.Usage.OutputTokens),
		)

		for _, kw := range res.Keywords {
			fmt.Println(kw)
		}

		if suggestMerge && len(res.Keywords) > 0 {
			merged := append(profile.Keywords, res.Keywords...)
			if err := match.SaveProfile(cfg.Match.ProfilePath, merged); err != nil {
				return err
			}
			fmt.Printf("Merged %d keywords into %s\n", len(res.Keywords), cfg.Match.ProfilePath)
		}

		return nil
	},
}

func init() {
	suggestCmd.Flags().IntVar(&suggestCount, "count", 10, "how many keywords to request")
	suggestCmd.Flags().StringVar(&suggestModel, "model", "", "model override (default from config)")
	suggestCmd.Flags().BoolVar(&suggestMerge, "merge", false, "append accepted suggestions to the keyword profile")
	rootCmd.AddCommand(suggestCmd)
}
