package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Site specs live in a
// separate sites.yaml (see internal/sitespec); this covers everything else.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Embedder EmbedderConfig `yaml:"embedder" mapstructure:"embedder"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Sites    SitesConfig    `yaml:"sites" mapstructure:"sites"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog store backend.
type StoreConfig struct {
	// Driver selects the backend: "rest" (PostgREST-style API) or "postgres".
	Driver string `yaml:"driver" mapstructure:"driver"`

	// REST backend.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`

	// Postgres backend.
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	Table           string `yaml:"table" mapstructure:"table"`
	ChunkSize       int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	DeleteChunkSize int    `yaml:"delete_chunk_size" mapstructure:"delete_chunk_size"`
}

// EmbedderConfig configures the image-embedding service client.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`

	// ImageWidth substitutes {width} placeholders in CDN URL templates;
	// RetryWidth is tried once when the first fetch fails.
	ImageWidth int `yaml:"image_width" mapstructure:"image_width"`
	RetryWidth int `yaml:"retry_width" mapstructure:"retry_width"`

	// CachePath enables the SQLite embedding cache when non-empty.
	CachePath string `yaml:"cache_path" mapstructure:"cache_path"`
}

// HTTPConfig configures the polite HTTP client.
type HTTPConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	HostRPS     float64 `yaml:"host_rps" mapstructure:"host_rps"`

	// Headers are sent on every request; per-site headers override them.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// BrowserConfig configures the headless renderer.
type BrowserConfig struct {
	Bin         string `yaml:"bin" mapstructure:"bin"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ScrollSteps int    `yaml:"scroll_steps" mapstructure:"scroll_steps"`
}

// SitesConfig locates the site spec file.
type SitesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and CATALOG_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "rest")
	v.SetDefault("store.table", "products")
	v.SetDefault("store.chunk_size", 100)
	v.SetDefault("store.delete_chunk_size", 300)
	v.SetDefault("embedder.timeout_secs", 30)
	v.SetDefault("embedder.image_width", 800)
	v.SetDefault("embedder.retry_width", 1200)
	v.SetDefault("http.user_agent", "FindsBot/1.0 (+contact@finds.example)")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.host_rps", 0.5)
	v.SetDefault("browser.timeout_secs", 60)
	v.SetDefault("browser.scroll_steps", 6)
	v.SetDefault("sites.path", "sites.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// ValidateStore checks that the selected store driver is usable. Dry runs
// skip this.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case "rest":
		if c.Store.BaseURL == "" || c.Store.Key == "" {
			return eris.New("config: store.base_url and store.key required for rest driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url required for postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
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
