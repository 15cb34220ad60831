package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the portfolio database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the key-value store backing run state, start
// locks and cross-process events. An empty URL selects in-process memory.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// RunConfig configures run retention and start-lock timing.
type RunConfig struct {
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`
	LockTTLSecs    int `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
	LockWaitMillis int `yaml:"lock_wait_ms" mapstructure:"lock_wait_ms"`
}

// Retention returns the run retention window.
func (r RunConfig) Retention() time.Duration {
	return time.Duration(r.RetentionHours) * time.Hour
}

// LockTTL returns the start-lock TTL.
func (r RunConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSecs) * time.Second
}

// LockWait returns how long a start request waits for a held lock.
func (r RunConfig) LockWait() time.Duration {
	return time.Duration(r.LockWaitMillis) * time.Millisecond
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (scrape fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings used by the enricher.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings used by the extractor.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CrawlConfig configures the finder and crawler stages.
type CrawlConfig struct {
	MaxURLs      int      `yaml:"max_urls" mapstructure:"max_urls"`
	Concurrency  int      `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// ExtractConfig configures the extractor stage.
type ExtractConfig struct {
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars"`
}

// EnrichConfig configures the enricher stage.
type EnrichConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// WebhookConfig holds signing keys for the queued execution endpoint.
type WebhookConfig struct {
	CurrentSigningKey string `yaml:"current_signing_key" mapstructure:"current_signing_key"`
	NextSigningKey    string `yaml:"next_signing_key" mapstructure:"next_signing_key"`
	Issuer            string `yaml:"issuer" mapstructure:"issuer"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.namespace", "discovery")
	v.SetDefault("run.retention_hours", 24)
	v.SetDefault("run.lock_ttl_secs", 10)
	v.SetDefault("run.lock_wait_ms", 1500)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("crawl.max_urls", 8)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.rate_per_sec", 2.0)
	v.SetDefault("crawl.exclude_paths", []string{"/careers/*", "/privacy*", "/terms*"})
	v.SetDefault("extract.max_chars", 120000)
	v.SetDefault("enrich.concurrency", 3)
	v.SetDefault("webhook.issuer", "Upstash")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the keys a command needs are present.
func (c *Config) Validate(mode string) error {
	var missing []string
	switch mode {
	case "pipeline":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "store":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		return eris.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys for %s: %s", mode, strings.Join(missing, ", "))
	}
	return nil
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
