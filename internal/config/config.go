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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PerplexityConfig holds Perplexity API settings for the research stage.
type PerplexityConfig struct {
	Key     string  `yaml:"key" mapstructure:"key"`
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	Model   string  `yaml:"model" mapstructure:"model"`
	MaxRPS  float64 `yaml:"max_rps" mapstructure:"max_rps"`
}

// AnthropicConfig holds Anthropic API settings for the synthesis stage and
// the auxiliary seed calls.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	SynthesisModel string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	AssistModel    string `yaml:"assist_model" mapstructure:"assist_model"`
}

// PipelineConfig configures per-stage behavior.
type PipelineConfig struct {
	ResearchTimeoutSecs  int `yaml:"research_timeout_secs" mapstructure:"research_timeout_secs"`
	SynthesisTimeoutSecs int `yaml:"synthesis_timeout_secs" mapstructure:"synthesis_timeout_secs"`
	MaxImageBytes        int `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
}

// QuotaConfig configures the local daily quota gate. The gate is advisory
// and client-side only; there is no server-side enforcement.
type QuotaConfig struct {
	DailyLimit int  `yaml:"daily_limit" mapstructure:"daily_limit"`
	Unlimited  bool `yaml:"unlimited" mapstructure:"unlimited"`
}

// PricingConfig holds per-provider pricing rates for cost attribution.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`

	// AdminSecret, when set and matched by the X-Tradescope-Admin header,
	// grants quota-gate bypass for that request.
	AdminSecret string `yaml:"admin_secret" mapstructure:"admin_secret"`
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
	v.SetEnvPrefix("TRADESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tradescope.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.max_rps", 2)
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.assist_model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.research_timeout_secs", 60)
	v.SetDefault("pipeline.synthesis_timeout_secs", 90)
	v.SetDefault("pipeline.max_image_bytes", 10*1024*1024)
	v.SetDefault("quota.daily_limit", 3)
	v.SetDefault("quota.unlimited", false)
	v.SetDefault("pricing.perplexity.per_query", 0.005)

	// Secrets default empty so AutomaticEnv can bind them during Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("server.admin_secret", "")

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

// Validate checks that the credentials required for a full pipeline run are
// present. Grounded mode additionally needs a Perplexity key.
func (c *Config) Validate(grounded bool) error {
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (TRADESCOPE_ANTHROPIC_KEY)")
	}
	if grounded && c.Perplexity.Key == "" {
		return eris.New("config: perplexity.key is required for grounded mode (TRADESCOPE_PERPLEXITY_KEY)")
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
