package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nulzo/onellm-router/pkg/api"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" validate:"required,numeric"`
	Env  string `mapstructure:"env" validate:"oneof=development test production"`
	// APIKey is the shared secret clients present as a bearer token.
	APIKey string `mapstructure:"api_key" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type CacheConfig struct {
	Driver string       `mapstructure:"driver"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `mapstructure:"openai"`
	Azure  ProviderConfig `mapstructure:"azure"`
	Claude ProviderConfig `mapstructure:"claude"`
	PaLM   ProviderConfig `mapstructure:"palm"`
}

// ProviderConfig is the per-upstream configuration. Deployment-based
// providers authenticate per resource and leave APIKey empty.
type ProviderConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	APIKey     string        `mapstructure:"api_key" validate:"required_without=Resources"`
	BaseURL    string        `mapstructure:"base_url"`
	Version    string        `mapstructure:"version"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FrameDelay time.Duration `mapstructure:"frame_delay"`

	// Raw deployment mapping strings, see ParseDeployments.
	Deployments string `mapstructure:"deployments"`
	APIKeys     string `mapstructure:"api_keys"`

	Resources []Deployment `mapstructure:"-"`
}

// All returns the provider configs keyed by the adapter kind they configure.
func (p ProvidersConfig) All() map[api.ProviderKind]ProviderConfig {
	return map[api.ProviderKind]ProviderConfig{
		api.ProviderOpenAI: p.OpenAI,
		api.ProviderAzure:  p.Azure,
		api.ProviderClaude: p.Claude,
		api.ProviderPaLM:   p.PaLM,
	}
}

// legacyEnv maps config keys to the flat environment variables older deployments use.
var legacyEnv = map[string]string{
	"server.api_key":              "ONELLM_API_KEY",
	"providers.openai.api_key":    "OPENAI_API_KEY",
	"providers.openai.base_url":   "OPENAI_API_BASE",
	"providers.azure.version":     "AZURE_OPENAI_API_VERSION",
	"providers.azure.deployments": "AZURE_OPENAI_DEPLOYMENTS",
	"providers.azure.api_keys":    "AZURE_OPENAI_API_KEYS",
	"providers.azure.base_url":    "AZURE_OPENAI_API_BASE",
	"providers.claude.api_key":    "ANTHROPIC_API_KEY",
	"providers.claude.version":    "ANTHROPIC_VERSION",
	"providers.palm.api_key":      "PALM_API_KEY",
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Server.APIKey = resolveEnv(v, cfg.Server.APIKey)
	for _, p := range []*ProviderConfig{&cfg.Providers.OpenAI, &cfg.Providers.Azure, &cfg.Providers.Claude, &cfg.Providers.PaLM} {
		p.APIKey = resolveEnv(v, p.APIKey)
		p.APIKeys = resolveEnv(v, p.APIKeys)
	}

	resources, err := ParseDeployments(cfg.Providers.Azure.Deployments, cfg.Providers.Azure.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("invalid azure deployments: %w", err)
	}
	cfg.Providers.Azure.Resources = resources

	if err := validator.New().Struct(&cfg.Server); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if err := validator.New().Struct(&cfg.Log); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}
	if err := validator.New().Struct(&cfg.RateLimit); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if err := validateCache(cfg.Cache); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.api_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "onellm-router")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.sqlite.path", "onellm.db")

	v.SetDefault("providers.openai.enabled", true)
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.timeout", 60*time.Second)

	v.SetDefault("providers.azure.enabled", true)
	v.SetDefault("providers.azure.version", "2023-06-01-preview")
	v.SetDefault("providers.azure.base_url", "")
	v.SetDefault("providers.azure.deployments", "")
	v.SetDefault("providers.azure.api_keys", "")
	v.SetDefault("providers.azure.timeout", 60*time.Second)
	v.SetDefault("providers.azure.frame_delay", 10*time.Millisecond)

	v.SetDefault("providers.claude.enabled", true)
	v.SetDefault("providers.claude.api_key", "")
	v.SetDefault("providers.claude.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("providers.claude.version", "2023-06-01")
	v.SetDefault("providers.claude.timeout", 120*time.Second)

	v.SetDefault("providers.palm.enabled", true)
	v.SetDefault("providers.palm.api_key", "")
	v.SetDefault("providers.palm.base_url", "https://generativelanguage.googleapis.com/v1beta2")
	v.SetDefault("providers.palm.timeout", 60*time.Second)
}

// resolveEnv expands the "ENV:NAME" indirection used for secrets.
func resolveEnv(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	envVar := strings.TrimPrefix(value, "ENV:")
	// Check process environment first (explicit override)
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}

func validateCache(c CacheConfig) error {
	if err := validator.New().Var(c.Driver, "oneof=memory redis sqlite"); err != nil {
		return fmt.Errorf("invalid cache driver %q", c.Driver)
	}
	switch c.Driver {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis driver")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("cache.sqlite.path is required for the sqlite driver")
		}
	}
	return nil
}
