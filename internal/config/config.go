// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backend names.
const (
	StorageBackendS3     = "s3"
	StorageBackendGCS    = "gcs"
	StorageBackendLocal  = "local"
	StorageBackendMemory = "memory"
)

// Render modes.
const (
	RenderModeBrowser = "browser"
	RenderModeHTTP    = "http"
	RenderModeAuto    = "auto"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Frontier   FrontierConfig   `mapstructure:"frontier"`
	Render     RenderConfig     `mapstructure:"render"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Index      IndexConfig      `mapstructure:"index"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlConfig bounds the traversal and paces the worker loop.
type CrawlConfig struct {
	SeedURL             string        `mapstructure:"seed_url"`
	AllowedDomains      []string      `mapstructure:"allowed_domains"`
	ExcludedExtensions  []string      `mapstructure:"excluded_extensions"`
	BlacklistPatterns   []string      `mapstructure:"blacklist_patterns"`
	PoliteDelay         time.Duration `mapstructure:"polite_delay"`
	FetchRetryBackoff   time.Duration `mapstructure:"fetch_retry_backoff"`
	SessionResetDelay   time.Duration `mapstructure:"session_reset_delay"`
	CheckpointEvery     int           `mapstructure:"checkpoint_every"`
	OutputDir           string        `mapstructure:"output_dir"`
	ArtifactPrefix      string        `mapstructure:"artifact_prefix"`
	ReconcileProcessing string        `mapstructure:"reconcile_processing"`
}

// FrontierConfig locates the SQLite frontier locally and remotely.
type FrontierConfig struct {
	Path      string `mapstructure:"path"`
	RemoteKey string `mapstructure:"remote_key"`
}

// ResolvedRemoteKey returns the checkpoint object key, defaulting to the
// database file name.
func (f FrontierConfig) ResolvedRemoteKey() string {
	if f.RemoteKey != "" {
		return f.RemoteKey
	}
	return filepath.Base(f.Path)
}

// RenderConfig controls the page renderer.
type RenderConfig struct {
	Mode          string        `mapstructure:"mode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MinWordCount  int           `mapstructure:"min_word_count"`
	UserAgent     string        `mapstructure:"user_agent"`
	Headless      bool          `mapstructure:"headless"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// ExtractionConfig points at the OpenAI-compatible extraction endpoint.
type ExtractionConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxHTMLChars      int           `mapstructure:"max_html_chars"`
	PruneHTML         bool          `mapstructure:"prune_html"`
	MarkdownFallback  bool          `mapstructure:"markdown_fallback"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	S3      S3Config    `mapstructure:"s3"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	Local   LocalConfig `mapstructure:"local"`
}

// S3Config holds S3-compatible connection settings.
type S3Config struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Region       string        `mapstructure:"region"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	Bucket       string        `mapstructure:"bucket"`
	UsePathStyle bool          `mapstructure:"use_path_style"`
	PresignTTL   time.Duration `mapstructure:"presign_ttl"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// LocalConfig holds filesystem store settings.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// IndexConfig configures the optional Postgres artifact index.
type IndexConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig configures optional completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// ServerConfig controls the read-only status server; port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles logging behavior.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments used.
var legacyEnv = map[string]string{
	"storage.s3.endpoint":   "S3_ENDPOINT",
	"storage.s3.access_key": "S3_ACCESS_KEY",
	"storage.s3.secret_key": "S3_SECRET_KEY",
	"storage.s3.bucket":     "S3_BUCKET",
	"extraction.api_key":    "NVIDIA_API_KEY",
}

// Load reads configuration from defaults, an optional file, and CRAWLER_*
// environment variables, then validates it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "CRAWLER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.seed_url", "https://rclone.org/")
	v.SetDefault("crawl.allowed_domains", []string{"rclone.org", "forum.rclone.org"})
	v.SetDefault("crawl.excluded_extensions", []string{
		".txt", ".bin", ".exe", ".zip", ".tar.gz", ".rpm", ".deb", ".iso", ".img",
		".dmg", ".pkg", ".msi", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	})
	v.SetDefault("crawl.blacklist_patterns", []string{
		"/fix-", "/integration-tests/", "/v1.", "/v1_",
		"beta.rclone.org", "pub.rclone.org", "downloads.rclone.org",
	})
	v.SetDefault("crawl.polite_delay", time.Second)
	v.SetDefault("crawl.fetch_retry_backoff", 2*time.Second)
	v.SetDefault("crawl.session_reset_delay", 5*time.Second)
	v.SetDefault("crawl.checkpoint_every", 5)
	v.SetDefault("crawl.output_dir", "extracted_data")
	v.SetDefault("crawl.artifact_prefix", "extracted_data")
	v.SetDefault("crawl.reconcile_processing", "requeue")
	v.SetDefault("frontier.path", "crawl_state.db")
	v.SetDefault("frontier.remote_key", "")
	v.SetDefault("render.mode", RenderModeBrowser)
	v.SetDefault("render.timeout", 35*time.Second)
	v.SetDefault("render.min_word_count", 5)
	v.SetDefault("render.user_agent", "llm-docs-crawler/0.1")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.respect_robots", false)
	v.SetDefault("extraction.base_url", "https://integrate.api.nvidia.com/v1")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.model", "stepfun-ai/step-3.5-flash")
	v.SetDefault("extraction.temperature", 0.1)
	v.SetDefault("extraction.requests_per_minute", 39)
	v.SetDefault("extraction.max_html_chars", 12000)
	v.SetDefault("extraction.prune_html", true)
	v.SetDefault("extraction.markdown_fallback", false)
	v.SetDefault("extraction.timeout", 120*time.Second)
	v.SetDefault("storage.backend", StorageBackendS3)
	v.SetDefault("storage.s3.endpoint", "https://s3.us-west-1.wasabisys.com")
	v.SetDefault("storage.s3.region", "us-west-1")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "crawlai")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("storage.s3.presign_ttl", time.Hour)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.local.base_dir", "remote")
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.table", "crawl_artifacts")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required fields and sane ranges. Every error here is an
// unrecoverable start-up condition.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.SeedURL) == "" {
		return errors.New("crawl.seed_url is required")
	}
	if len(c.Crawl.AllowedDomains) == 0 {
		return errors.New("crawl.allowed_domains must not be empty")
	}
	if c.Crawl.CheckpointEvery <= 0 {
		return errors.New("crawl.checkpoint_every must be > 0")
	}
	if c.Crawl.PoliteDelay < 0 || c.Crawl.FetchRetryBackoff < 0 || c.Crawl.SessionResetDelay < 0 {
		return errors.New("crawl delays must be >= 0")
	}
	switch c.Crawl.ReconcileProcessing {
	case "requeue", "fail", "keep":
	default:
		return fmt.Errorf("crawl.reconcile_processing must be requeue, fail or keep, got %q", c.Crawl.ReconcileProcessing)
	}
	if strings.TrimSpace(c.Frontier.Path) == "" {
		return errors.New("frontier.path is required")
	}
	switch c.Render.Mode {
	case RenderModeBrowser, RenderModeHTTP, RenderModeAuto:
	default:
		return fmt.Errorf("render.mode must be %q, %q or %q, got %q", RenderModeBrowser, RenderModeHTTP, RenderModeAuto, c.Render.Mode)
	}
	if c.Render.Timeout <= 0 {
		return errors.New("render.timeout must be > 0")
	}
	if c.Extraction.RequestsPerMinute <= 0 {
		return errors.New("extraction.requests_per_minute must be > 0")
	}
	if c.Extraction.MaxHTMLChars <= 0 {
		return errors.New("extraction.max_html_chars must be > 0")
	}
	if c.Server.Port < 0 {
		return errors.New("server.port must be >= 0")
	}
	return nil
}

// ValidateCrawl adds the checks only the crawl command needs: a long-running
// crawl must be able to reach the extraction service.
func (c Config) ValidateCrawl() error {
	if strings.TrimSpace(c.Extraction.APIKey) == "" {
		return errors.New("extraction.api_key is required (set CRAWLER_EXTRACTION_API_KEY or NVIDIA_API_KEY)")
	}
	if strings.TrimSpace(c.Extraction.BaseURL) == "" || strings.TrimSpace(c.Extraction.Model) == "" {
		return errors.New("extraction.base_url and extraction.model are required")
	}
	return nil
}

// ValidateStorage checks the object store settings. Only commands that talk
// to the object store call it, so local inspection works without credentials.
func (c Config) ValidateStorage() error {
	return c.Storage.validate()
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case StorageBackendS3:
		if s.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required")
		}
		if s.S3.AccessKey == "" || s.S3.SecretKey == "" {
			return errors.New("storage.s3.access_key and storage.s3.secret_key are required (or S3_ACCESS_KEY/S3_SECRET_KEY)")
		}
	case StorageBackendGCS:
		if s.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket is required")
		}
	case StorageBackendLocal:
		if s.Local.BaseDir == "" {
			return errors.New("storage.local.base_dir is required")
		}
	case StorageBackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", s.Backend)
	}
	return nil
}
