package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration is usable for the given run mode.
// It collects every problem it finds so the operator can fix them in one pass.
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required")
		}
		if c.Crawl.Workers < 1 || c.Crawl.Workers > 64 {
			problems = append(problems, "crawl.workers must be between 1 and 64")
		}
	}

	switch mode {
	case "crawl":
		common()
		if len(c.Crawl.Seeds) == 0 {
			problems = append(problems, "crawl.seeds is required")
		}
		for _, s := range c.Crawl.Seeds {
			if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
				problems = append(problems, "crawl.seeds entries must be absolute http(s) URLs: "+s)
			}
		}
		if c.Crawl.RatePerHost <= 0 {
			problems = append(problems, "crawl.rate_per_host must be > 0")
		}
		if c.Crawl.RetryAttempts < 1 {
			problems = append(problems, "crawl.retry_attempts must be >= 1")
		}
		if c.Storage.Layout != "flat" && c.Storage.Layout != "hashed" {
			problems = append(problems, "storage.layout must be \"flat\" or \"hashed\"")
		}
		if c.Match.FuzzyThreshold < 0 || c.Match.FuzzyThreshold > 1 {
			problems = append(problems, "match.fuzzy_threshold must be in [0,1]")
		}
	case "reprocess":
		// Offline pass, no seeds or rate limits needed.
		common()
		if c.Storage.Layout != "flat" && c.Storage.Layout != "hashed" {
			problems = append(problems, "storage.layout must be \"flat\" or \"hashed\"")
		}
		if c.Match.FuzzyThreshold < 0 || c.Match.FuzzyThreshold > 1 {
			problems = append(problems, "match.fuzzy_threshold must be in [0,1]")
		}
	case "search", "review", "status", "export":
		common()
	case "serve":
		common()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "suggest":
		common()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "mirror":
		common()
		if c.Mirror.Host == "" {
			problems = append(problems, "mirror.host is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Embed.Enabled {
		if c.Embed.BaseURL == "" {
			problems = append(problems, "embed.base_url is required when embed.enabled")
		}
		if c.Embed.ChunkOverlap >= c.Embed.ChunkChars {
			problems = append(problems, "embed.chunk_overlap must be < embed.chunk_chars")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
