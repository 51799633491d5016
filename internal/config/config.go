package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/hscode-copilot/internal/caller"
	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/engine"
	"github.com/Veraticus/hscode-copilot/internal/llm"
	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/search"
)

// EnvPrefix prefixes environment overrides, e.g. HSCODE_SERVER_ADDR.
const EnvPrefix = "HSCODE"

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Verification caller kinds.
const (
	CallerHTTP     = "http"
	CallerScripted = "scripted"
)

// Query derivation modes.
const (
	QueryModeLLM   = "llm"
	QueryModeLocal = "local"
)

// Config is the typed application configuration.
type Config struct {
	Logging        LoggingConfig
	Server         ServerConfig
	Database       DatabaseConfig
	Session        SessionConfig
	Redis          RedisConfig
	Search         SearchConfig
	LLM            llm.Config
	Classification ClassificationConfig
	Thresholds     model.Thresholds
	Verification   VerificationConfig
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string
}

// SessionConfig selects where classification sessions live.
type SessionConfig struct {
	Store           string
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
}

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SearchConfig configures the candidate source.
type SearchConfig struct {
	URL        string
	TopK       int
	Threshold  float64
	Timeout    time.Duration
	CacheTTL   time.Duration
	MaxRetries int
}

// ClassificationConfig tunes the question loop.
type ClassificationConfig struct {
	QueryMode            string
	MaxIterations        int
	SingleCandidateScore float64
	StableRounds         int
	StableTopN           int
	Alternatives         int
	StrictChoices        bool
	AutoFinalize         bool
}

// VerificationConfig selects and tunes the verification agent.
type VerificationConfig struct {
	Caller       string
	URL          string
	Jurisdiction string
	// Outcome is what the scripted caller reports when its conversation ends.
	Outcome      string
	PollInterval time.Duration
	LineInterval time.Duration
	MaxPolls     int
}

// SetDefaults registers every key with its default so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.path", "$HOME/.local/share/hscode/hscode.db")

	v.SetDefault("session.store", StoreMemory)
	v.SetDefault("session.idle_timeout", 2*time.Hour)
	v.SetDefault("session.cleanup_interval", 10*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("search.url", "http://localhost:8000")
	v.SetDefault("search.top_k", 20)
	v.SetDefault("search.threshold", 0.6)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("search.cache_ttl", 10*time.Minute)
	v.SetDefault("search.max_retries", 3)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 600)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.timeout", 60*time.Second)

	policy := engine.DefaultConvergencePolicy()
	v.SetDefault("classification.query_mode", QueryModeLLM)
	v.SetDefault("classification.max_iterations", policy.MaxIterations)
	v.SetDefault("classification.single_candidate_score", policy.SingleCandidateScore)
	v.SetDefault("classification.stable_rounds", policy.StableRounds)
	v.SetDefault("classification.stable_top_n", policy.StableTopN)
	v.SetDefault("classification.alternatives", 3)
	v.SetDefault("classification.strict_choices", false)
	v.SetDefault("classification.auto_finalize", false)

	thresholds := model.DefaultThresholds()
	v.SetDefault("thresholds.classified", thresholds.Classified)
	v.SetDefault("thresholds.verification", thresholds.Verification)

	v.SetDefault("verification.caller", CallerScripted)
	v.SetDefault("verification.url", "")
	v.SetDefault("verification.jurisdiction", "DE")
	v.SetDefault("verification.outcome", string(model.OutcomeConfirmed))
	v.SetDefault("verification.poll_interval", 2*time.Second)
	v.SetDefault("verification.line_interval", 3*time.Second)
	v.SetDefault("verification.max_polls", 300)
}

// Load reads the configuration from v, applying defaults and validating the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: v.GetString("server.allowed_origins"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Session: SessionConfig{
			Store:           strings.ToLower(v.GetString("session.store")),
			IdleTimeout:     v.GetDuration("session.idle_timeout"),
			CleanupInterval: v.GetDuration("session.cleanup_interval"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Search: SearchConfig{
			URL:        v.GetString("search.url"),
			TopK:       v.GetInt("search.top_k"),
			Threshold:  v.GetFloat64("search.threshold"),
			Timeout:    v.GetDuration("search.timeout"),
			CacheTTL:   v.GetDuration("search.cache_ttl"),
			MaxRetries: v.GetInt("search.max_retries"),
		},
		LLM: llm.Config{
			Provider:    v.GetString("llm.provider"),
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			RateLimit:   v.GetInt("llm.rate_limit"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			Timeout:     v.GetDuration("llm.timeout"),
		},
		Classification: ClassificationConfig{
			QueryMode:            strings.ToLower(v.GetString("classification.query_mode")),
			MaxIterations:        v.GetInt("classification.max_iterations"),
			SingleCandidateScore: v.GetFloat64("classification.single_candidate_score"),
			StableRounds:         v.GetInt("classification.stable_rounds"),
			StableTopN:           v.GetInt("classification.stable_top_n"),
			Alternatives:         v.GetInt("classification.alternatives"),
			StrictChoices:        v.GetBool("classification.strict_choices"),
			AutoFinalize:         v.GetBool("classification.auto_finalize"),
		},
		Thresholds: model.Thresholds{
			Classified:   v.GetInt("thresholds.classified"),
			Verification: v.GetInt("thresholds.verification"),
		},
		Verification: VerificationConfig{
			Caller:       strings.ToLower(v.GetString("verification.caller")),
			URL:          v.GetString("verification.url"),
			Jurisdiction: v.GetString("verification.jurisdiction"),
			Outcome:      strings.ToLower(v.GetString("verification.outcome")),
			PollInterval: v.GetDuration("verification.poll_interval"),
			LineInterval: v.GetDuration("verification.line_interval"),
			MaxPolls:     v.GetInt("verification.max_polls"),
		},
	}

	// The conventional OpenAI variable works without the HSCODE prefix.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and numeric ranges.
func (c *Config) Validate() error {
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		return invalid("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, "console", "json") {
		return invalid("logging.format %q must be console or json", c.Logging.Format)
	}
	if !oneOf(c.Session.Store, StoreMemory, StoreSQLite, StoreRedis) {
		return invalid("session.store %q must be memory, sqlite or redis", c.Session.Store)
	}
	if !oneOf(c.Classification.QueryMode, QueryModeLLM, QueryModeLocal) {
		return invalid("classification.query_mode %q must be llm or local", c.Classification.QueryMode)
	}
	if !oneOf(c.Verification.Caller, CallerHTTP, CallerScripted) {
		return invalid("verification.caller %q must be http or scripted", c.Verification.Caller)
	}
	if outcome := model.VerificationOutcome(c.Verification.Outcome); outcome == model.OutcomeNone || !outcome.IsValid() {
		return invalid("verification.outcome %q must be confirmed, rejected or inconclusive", c.Verification.Outcome)
	}
	if c.Search.TopK <= 0 {
		return invalid("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return invalid("search.threshold must be between 0 and 1, got %.2f", c.Search.Threshold)
	}
	if c.Classification.MaxIterations <= 0 {
		return invalid("classification.max_iterations must be positive, got %d", c.Classification.MaxIterations)
	}
	if c.Verification.MaxPolls < 0 {
		return invalid("verification.max_polls must not be negative, got %d", c.Verification.MaxPolls)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return nil
}

// Engine returns the classification engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		TopK:          c.Search.TopK,
		Threshold:     c.Search.Threshold,
		Alternatives:  c.Classification.Alternatives,
		StrictChoices: c.Classification.StrictChoices,
		AutoFinalize:  c.Classification.AutoFinalize,
		Thresholds:    c.Thresholds,
		Convergence: engine.ConvergencePolicy{
			MaxIterations:        c.Classification.MaxIterations,
			SingleCandidateScore: c.Classification.SingleCandidateScore,
			StableRounds:         c.Classification.StableRounds,
			StableTopN:           c.Classification.StableTopN,
		},
	}
}

// SearchClient returns the HTTP candidate source configuration.
func (c *Config) SearchClient() search.Config {
	return search.Config{
		BaseURL:    c.Search.URL,
		Timeout:    c.Search.Timeout,
		MaxRetries: c.Search.MaxRetries,
	}
}

// HTTPCaller returns the HTTP verification agent configuration.
func (c *Config) HTTPCaller() caller.HTTPConfig {
	return caller.HTTPConfig{
		BaseURL:      c.Verification.URL,
		Jurisdiction: c.Verification.Jurisdiction,
	}
}

// ScriptedCaller returns the simulated verification agent configuration.
func (c *Config) ScriptedCaller() caller.ScriptedConfig {
	cfg := caller.DefaultScriptedConfig()
	cfg.Jurisdiction = c.Verification.Jurisdiction
	cfg.Outcome = model.VerificationOutcome(c.Verification.Outcome)
	if c.Verification.LineInterval > 0 {
		cfg.LineInterval = c.Verification.LineInterval
	}
	return cfg
}

func oneOf(value string, allowed ...string) bool {
	return slices.Contains(allowed, value)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
