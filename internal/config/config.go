package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Match     MatchConfig     `yaml:"match" mapstructure:"match"`
	Entity    EntityConfig    `yaml:"entity" mapstructure:"entity"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Embed     EmbedConfig     `yaml:"embed" mapstructure:"embed"`
	Triage    TriageConfig    `yaml:"triage" mapstructure:"triage"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Feedback  FeedbackConfig  `yaml:"feedback" mapstructure:"feedback"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Mirror    MirrorConfig    `yaml:"mirror" mapstructure:"mirror"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the SQLite state database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CrawlConfig configures the crawl and download phase.
type CrawlConfig struct {
	Seeds                 []string `yaml:"seeds" mapstructure:"seeds"`
	MaxPages              int      `yaml:"max_pages" mapstructure:"max_pages"`
	Workers               int      `yaml:"workers" mapstructure:"workers"`
	PageTimeoutSecs       int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	DownloadTimeoutSecs   int      `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	UserAgent             string   `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost           float64  `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	RetryAttempts         int      `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BackoffBaseSecs       float64  `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	RespectRobots         bool     `yaml:"respect_robots" mapstructure:"respect_robots"`
	AllowOffsite          bool     `yaml:"allow_offsite" mapstructure:"allow_offsite"`
	FollowDiscoveredPages bool     `yaml:"follow_discovered_pages" mapstructure:"follow_discovered_pages"`
	AgeGateConsent        bool     `yaml:"age_gate_consent" mapstructure:"age_gate_consent"`
	BrowserFallback       bool     `yaml:"browser_fallback" mapstructure:"browser_fallback"`
	ReprocessNotModified  bool     `yaml:"reprocess_not_modified" mapstructure:"reprocess_not_modified"`
}

// MatchConfig configures the keyword matching engine. Query is an optional
// boolean/proximity expression evaluated alongside the keyword rules.
type MatchConfig struct {
	ProfilePath       string   `yaml:"profile_path" mapstructure:"profile_path"`
	Query             string   `yaml:"query" mapstructure:"query"`
	Stopwords         []string `yaml:"stopwords" mapstructure:"stopwords"`
	FuzzyThreshold    float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	FuzzyMinLength    int      `yaml:"fuzzy_min_length" mapstructure:"fuzzy_min_length"`
	FuzzyMaxSentences int      `yaml:"fuzzy_max_sentences" mapstructure:"fuzzy_max_sentences"`
	MaxHitsPerDoc     int      `yaml:"max_hits_per_doc" mapstructure:"max_hits_per_doc"`
	SnippetRadius     int      `yaml:"snippet_radius" mapstructure:"snippet_radius"`
	SemanticThreshold float64  `yaml:"semantic_threshold" mapstructure:"semantic_threshold"`
}

// EntityConfig configures named-entity extraction. Only the regex engine
// ships; unknown engines fall back to it with a warning.
type EntityConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Engine  string `yaml:"engine" mapstructure:"engine"`
}

// StorageConfig configures where downloaded documents land on disk.
type StorageConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	Layout    string `yaml:"layout" mapstructure:"layout"` // "flat" or "hashed"
}

// EmbedConfig configures the embedding provider.
type EmbedConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	ChunkChars   int    `yaml:"chunk_chars" mapstructure:"chunk_chars"`
	ChunkOverlap int    `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	MaxTextChars int    `yaml:"max_text_chars" mapstructure:"max_text_chars"`
}

// TriageConfig configures ingest-time relevance scoring.
type TriageConfig struct {
	TopicPhrases []string `yaml:"topic_phrases" mapstructure:"topic_phrases"`
	TopicWeight  float64  `yaml:"topic_weight" mapstructure:"topic_weight"`
	FeedbackTerm float64  `yaml:"feedback_term" mapstructure:"feedback_term"`
	NoEntityDamp float64  `yaml:"no_entity_damp" mapstructure:"no_entity_damp"`
}

// SearchConfig configures interactive hybrid search scoring.
type SearchConfig struct {
	CandidateLimit   int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	ResultLimit      int     `yaml:"result_limit" mapstructure:"result_limit"`
	KeywordWeight    float64 `yaml:"keyword_weight" mapstructure:"keyword_weight"`
	SemanticWeight   float64 `yaml:"semantic_weight" mapstructure:"semantic_weight"`
	FeedbackWeight   float64 `yaml:"feedback_weight" mapstructure:"feedback_weight"`
	PriorWeight      float64 `yaml:"prior_weight" mapstructure:"prior_weight"`
	URLPenaltyWeight float64 `yaml:"url_penalty_weight" mapstructure:"url_penalty_weight"`
}

// FeedbackConfig configures how reviews adjust future ranking.
type FeedbackConfig struct {
	IrrelevantHostStep float64 `yaml:"irrelevant_host_step" mapstructure:"irrelevant_host_step"`
	HighValueHostStep  float64 `yaml:"high_value_host_step" mapstructure:"high_value_host_step"`
	HostPenaltyCap     float64 `yaml:"host_penalty_cap" mapstructure:"host_penalty_cap"`
	BlacklistCap       int     `yaml:"blacklist_cap" mapstructure:"blacklist_cap"`
}

// OCRConfig configures external text-extraction fallbacks. Engine selects
// the provider: "tesseract" (rasterize + OCR), "local" (pdftotext only) or
// "none".
type OCRConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Engine        string `yaml:"engine" mapstructure:"engine"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	PdftoppmPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	Languages     string `yaml:"languages" mapstructure:"languages"`
	DPI           int    `yaml:"dpi" mapstructure:"dpi"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for keyword suggestion.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds Notion API credentials for review-queue export.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	ReviewDB  string  `yaml:"review_db" mapstructure:"review_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MirrorConfig configures FTP dataset mirroring.
type MirrorConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	RootDir  string `yaml:"root_dir" mapstructure:"root_dir"`
}

// ExportConfig configures triage index exports.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the status/search HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitorConfig configures the periodic health checker run by the server.
// A zero threshold disables the corresponding alert.
type MonitorConfig struct {
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	QueueBacklog       int     `yaml:"queue_backlog" mapstructure:"queue_backlog"`
	UnreviewedBacklog  int     `yaml:"unreviewed_backlog" mapstructure:"unreviewed_backlog"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCLOSURES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.path", "output/disclosures.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("crawl.seeds", []string{"https://www.justice.gov/epstein"})
	v.SetDefault("crawl.max_pages", 500)
	v.SetDefault("crawl.workers", 4)
	v.SetDefault("crawl.page_timeout_secs", 40)
	v.SetDefault("crawl.download_timeout_secs", 300)
	v.SetDefault("crawl.user_agent", "disclosures-crawler/1.0 (+https://github.com/YourHumdrumChap/Epstein-File-Downloader)")
	v.SetDefault("crawl.rate_per_host", 1.0)
	v.SetDefault("crawl.retry_attempts", 3)
	v.SetDefault("crawl.backoff_base_secs", 1.5)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.allow_offsite", false)
	v.SetDefault("crawl.follow_discovered_pages", false)
	v.SetDefault("crawl.age_gate_consent", false)
	v.SetDefault("crawl.browser_fallback", false)
	v.SetDefault("crawl.reprocess_not_modified", false)
	v.SetDefault("match.profile_path", "keywords.yaml")
	v.SetDefault("match.query", "")
	v.SetDefault("match.stopwords", []string{})
	v.SetDefault("match.fuzzy_threshold", 0.92)
	v.SetDefault("match.fuzzy_min_length", 8)
	v.SetDefault("match.fuzzy_max_sentences", 1500)
	v.SetDefault("match.max_hits_per_doc", 200)
	v.SetDefault("match.snippet_radius", 90)
	v.SetDefault("match.semantic_threshold", 0.62)
	v.SetDefault("entity.enabled", true)
	v.SetDefault("entity.engine", "regex")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.layout", "flat")
	v.SetDefault("embed.enabled", false)
	v.SetDefault("embed.base_url", "http://localhost:8081")
	v.SetDefault("embed.model", "all-MiniLM-L6-v2")
	v.SetDefault("embed.batch_size", 32)
	v.SetDefault("embed.chunk_chars", 2500)
	v.SetDefault("embed.chunk_overlap", 250)
	v.SetDefault("embed.max_text_chars", 12000)
	v.SetDefault("triage.topic_phrases", []string{
		"flight log", "passenger manifest", "contact book",
		"deposition transcript", "travel itinerary",
	})
	v.SetDefault("triage.topic_weight", 0.75)
	v.SetDefault("triage.feedback_term", 0.25)
	v.SetDefault("triage.no_entity_damp", 0.75)
	v.SetDefault("search.candidate_limit", 250)
	v.SetDefault("search.result_limit", 50)
	v.SetDefault("search.keyword_weight", 0.30)
	v.SetDefault("search.semantic_weight", 0.40)
	v.SetDefault("search.feedback_weight", 0.15)
	v.SetDefault("search.prior_weight", 0.10)
	v.SetDefault("search.url_penalty_weight", 0.05)
	v.SetDefault("feedback.irrelevant_host_step", 0.05)
	v.SetDefault("feedback.high_value_host_step", 0.03)
	v.SetDefault("feedback.host_penalty_cap", 0.60)
	v.SetDefault("feedback.blacklist_cap", 500)
	v.SetDefault("ocr.enabled", false)
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.languages", "eng")
	v.SetDefault("ocr.dpi", 200)
	v.SetDefault("ocr.timeout_secs", 120)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("mirror.root_dir", "/")
	v.SetDefault("export.dir", "output/exports")
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.error_rate_threshold", 0.2)
	v.SetDefault("monitor.queue_backlog", 0)
	v.SetDefault("monitor.unreviewed_backlog", 0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
