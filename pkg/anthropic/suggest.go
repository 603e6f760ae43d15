package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultSuggestModel balances cost against keyword quality.
const DefaultSuggestModel = "claude-haiku-4-5-20251001"

const (
	defaultSuggestCount = 15
	suggestMaxTokens    = 1024
)

const suggestSystem = "You expand keyword lists for a document-review tool. " +
	"Reply with a JSON array of strings and nothing else."

// SuggestRequest describes one keyword-expansion round.
type SuggestRequest struct {
	Model    string   // empty picks DefaultSuggestModel
	Topic    []string // phrases describing the investigation
	Keywords []string // patterns already in the profile
	Count    int      // how many new keywords to ask for
}

// SuggestResult carries the fresh keywords plus the usage that produced them.
type SuggestResult struct {
	Keywords []string
	Model    string
	Usage    TokenUsage
}

// SuggestKeywords asks the model for search terms related to the topic
// profile. Candidates already present in the profile are dropped
// (case-insensitive), so every returned keyword is new.
func SuggestKeywords(ctx context.Context, c Client, req SuggestRequest) (*SuggestResult, error) {
	if len(req.Topic) == 0 && len(req.Keywords) == 0 {
		return nil, eris.New("anthropic: empty profile, nothing to expand")
	}

	model := req.Model
	if model == "" {
		model = DefaultSuggestModel
	}
	count := req.Count
	if count <= 0 {
		count = defaultSuggestCount
	}

	resp, err := c.CreateMessage(ctx, MessageRequest{
		Model:     model,
		MaxTokens: suggestMaxTokens,
		System:    suggestSystem,
		Messages: []Message{
			{Role: "user", Content: buildSuggestPrompt(req.Topic, req.Keywords, count)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: suggest keywords")
	}

	candidates, err := parseKeywordArray(responseText(resp))
	if err != nil {
		if resp.StopReason == "max_tokens" {
			return nil, eris.Wrap(err, "anthropic: suggestion cut off at the token limit")
		}
		return nil, err
	}

	fresh := dedupAgainst(candidates, req.Keywords)
	if len(fresh) > count {
		fresh = fresh[:count]
	}

	resp.Usage.LogCost(model, "suggest")
	return &SuggestResult{Keywords: fresh, Model: model, Usage: resp.Usage}, nil
}

func buildSuggestPrompt(topic, keywords []string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose up to %d new search keywords or short phrases for finding relevant documents in a large government disclosure corpus.\n", count)
	if len(topic) > 0 {
		b.WriteString("\nInvestigation topic:\n")
		for _, p := range topic {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(keywords) > 0 {
		b.WriteString("\nKeywords already in use (do not repeat these):\n")
		for _, k := range keywords {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}
	b.WriteString("\nReturn only a JSON array of strings.")
	return b.String()
}

// responseText concatenates the text blocks of a response.
func responseText(resp *MessageResponse) string {
	parts := make([]string, 0, len(resp.Content))
	for _, b := range resp.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseKeywordArray extracts the first JSON string array from the model
// output. Models occasionally wrap the array in prose or a code fence;
// slicing from the first '[' to the last ']' handles both.
func parseKeywordArray(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.New("anthropic: no JSON array in suggestion response")
	}
	var words []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &words); err != nil {
		return nil, eris.Wrap(err, "anthropic: decode suggestion array")
	}
	return words, nil
}

// dedupAgainst drops blank candidates and any that already appear in the
// existing list, comparing trimmed and lowercased.
func dedupAgainst(candidates, existing []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		seen[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}

	var fresh []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh
}
