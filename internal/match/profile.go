package match

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Profile is the on-disk keyword list written by SaveProfile. Topic phrases
// and stopwords are optional extras some packs carry; the keyword editor
// only ever writes seed_keywords.
type Profile struct {
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Keywords     []string `yaml:"seed_keywords"`
	TopicPhrases []string `yaml:"topic_phrases,omitempty"`
	Stopwords    []string `yaml:"stopwords,omitempty"`
}

// DefaultKeywords is the seed keyword set used when no profile file exists.
func DefaultKeywords() []string {
	return []string{
		"flight log",
		"passenger manifest",
		"contact book",
		"deposition transcript",
		"travel itinerary",
		"non-prosecution agreement",
		"grand jury",
		"witness statement",
	}
}

// LoadProfile reads a keyword profile from path. Beyond the shape SaveProfile
// writes, it accepts the common keyword-pack layouts: a bare list, the
// keywords/terms keys, categories and regex_patterns maps (regex entries gain
// the re: prefix), wildcards_and_globs.examples, semantic_hint_tokens and
// euphemism expansion rules. Entries are deduplicated case-insensitively,
// first spelling wins. A missing file yields DefaultKeywords. JSON profiles
// parse too since the decoder accepts JSON documents.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		zap.L().Info("keyword profile not found, using defaults", zap.String("path", path))
		return &Profile{Keywords: DefaultKeywords()}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "match: read profile %s", path)
	}

	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, eris.Wrapf(err, "match: parse profile %s", path)
	}

	p := &Profile{}
	c := &profileCollector{seen: make(map[string]struct{})}
	switch v := root.(type) {
	case []any:
		c.addList(v, false)
	case map[string]any:
		c.addList(v["seed_keywords"], false)
		c.addList(v["keywords"], false)
		c.addList(v["terms"], false)
		c.addGrouped(v["categories"], false)
		c.addGrouped(v["regex_patterns"], true)
		if wag, ok := v["wildcards_and_globs"].(map[string]any); ok {
			c.addList(wag["examples"], false)
		}
		c.addList(v["semantic_hint_tokens"], false)
		if exp, ok := v["euphemism_and_codeword_expansion_rules"].(map[string]any); ok {
			c.addGrouped(exp["example_expansions"], false)
		}
		p.TopicPhrases = stringList(v["topic_phrases"])
		p.Stopwords = stringList(v["stopwords"])
	}
	p.Keywords = c.out
	return p, nil
}

// stringList flattens an untyped YAML list into trimmed non-empty strings.
func stringList(values any) []string {
	list, ok := values.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range list {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprintf("%v", v)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SaveProfile writes keywords to path in the canonical profile shape,
// creating parent directories as needed.
func SaveProfile(path string, keywords []string) error {
	p := Profile{
		Version:     "1.0",
		Description: "User-managed keyword list for automated triage.",
		Keywords:    keywords,
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "match: encode profile")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "match: create profile dir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "match: write profile %s", path)
	}
	return nil
}

type profileCollector struct {
	seen map[string]struct{}
	out  []string
}

func (c *profileCollector) add(v any, asRegex bool) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return
	}
	if asRegex && !strings.HasPrefix(s, "re:") {
		s = "re:" + s
	}
	key := strings.ToLower(s)
	if _, dup := c.seen[key]; dup {
		return
	}
	c.seen[key] = struct{}{}
	c.out = append(c.out, s)
}

func (c *profileCollector) addList(values any, asRegex bool) {
	list, ok := values.([]any)
	if !ok {
		return
	}
	for _, v := range list {
		c.add(v, asRegex)
	}
}

// addGrouped walks a {group: [terms]} map in sorted group order so that the
// result is deterministic.
func (c *profileCollector) addGrouped(values any, asRegex bool) {
	groups, ok := values.(map[string]any)
	if !ok {
		return
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.addList(groups[name], asRegex)
	}
}
