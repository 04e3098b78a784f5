package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Upstream provider identifiers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port             string `env:"PORT" envDefault:"3000"`
	Env              string `env:"ENV" envDefault:"development"`
	StaticDir        string `env:"STATIC_DIR" envDefault:"./frontend"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Upstream
	Provider      string   `env:"UPSTREAM_PROVIDER" envDefault:"gemini"`
	GoogleAPIKeys []string `env:"GOOGLE_API_KEY" envSeparator:","`
	GeminiModel   string   `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	OpenAIAPIKeys []string `env:"OPENAI_API_KEY" envSeparator:","`
	OpenAIBaseURL string   `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel   string   `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`

	// Generation
	Temperature     float32       `env:"TEMPERATURE" envDefault:"0.7"`
	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS" envDefault:"500"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	// Retry and credential health
	MaxRetries       int           `env:"MAX_RETRIES" envDefault:"2"`
	RetryDelay       time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	PacingDelay      time.Duration `env:"PACING_DELAY" envDefault:"1s"`
	ShortCooldown    time.Duration `env:"SHORT_COOLDOWN" envDefault:"120s"`
	LongCooldown     time.Duration `env:"LONG_COOLDOWN" envDefault:"24h"`
	KeyRotationDelay time.Duration `env:"KEY_ROTATION_DELAY" envDefault:"1500ms"`

	// Rate Limiting
	RateLimitBackend     string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitMaxRequests int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"15"`
	MinRequestInterval   time.Duration `env:"MIN_REQUEST_INTERVAL" envDefault:"3s"`
	GlobalCooldown       time.Duration `env:"GLOBAL_COOLDOWN" envDefault:"20s"`

	// Storage
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Caching
	CacheEnabled bool          `env:"CACHE_ENABLED" envDefault:"false"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	// Personas
	PersonasFile string `env:"PERSONAS_FILE"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.GoogleAPIKeys = splitKeys(cfg.GoogleAPIKeys)
	cfg.OpenAIAPIKeys = splitKeys(cfg.OpenAIAPIKeys)
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and sane limits
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown UPSTREAM_PROVIDER %q (expected %q or %q)", c.Provider, ProviderGemini, ProviderOpenAI)
	}

	if len(c.APIKeys()) == 0 {
		if c.Provider == ProviderOpenAI {
			return fmt.Errorf("OPENAI_API_KEY is required (comma-separated for multiple keys)")
		}
		return fmt.Errorf("GOOGLE_API_KEY is required (comma-separated for multiple keys)")
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}

	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	if c.CacheEnabled && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when CACHE_ENABLED=true")
	}

	return nil
}

// APIKeys returns the credentials for the selected upstream provider
func (c *Config) APIKeys() []string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKeys
	}
	return c.GoogleAPIKeys
}

// RequestTimeout bounds one generation request across every attempt, its
// pacing delay and the largest possible backoff
func (c *Config) RequestTimeout() time.Duration {
	n := c.MaxRetries + 1
	perAttempt := c.UpstreamTimeout + c.PacingDelay
	backoff := c.RetryDelay * time.Duration(n*(n+1)/2)
	return time.Duration(n)*perAttempt + backoff + 5*time.Second
}

// IsDevelopment reports whether raw error details may be exposed to clients
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

func splitKeys(raw []string) []string {
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
