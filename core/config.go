package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration tree. Defaults come from
// DefaultConfig, then an optional YAML file, then environment variables,
// in that order of precedence (env wins).
type Config struct {
	Name string     `yaml:"name"`
	Port int        `yaml:"port"`
	HTTP HTTPConfig `yaml:"http"`

	Model     ModelConfig     `yaml:"model"`
	Agents    AgentsConfig    `yaml:"agents"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Research  ResearchConfig  `yaml:"research"`
	Tokens    TokenConfig     `yaml:"tokens"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Redis     RedisConfig     `yaml:"redis"`
}

// HTTPConfig defines inbound server timeouts.
type HTTPConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig points at the chat-completions provider.
// Endpoint and Deployment follow the Azure OpenAI convention; a plain
// OpenAI-compatible server works with Deployment left empty.
type ModelConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`

	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AgentsConfig lists the specialist base URLs probed at discovery time.
type AgentsConfig struct {
	BaseURLs         []string      `yaml:"base_urls"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	StreamTimeout    time.Duration `yaml:"stream_timeout"`
}

// RateLimitConfig bounds outbound model/tool traffic process-wide.
type RateLimitConfig struct {
	MaxConcurrent      int           `yaml:"max_concurrent"`
	RequestsPerMinute  int           `yaml:"requests_per_minute"`
	TokensPerMinute    int           `yaml:"tokens_per_minute"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
}

// RetryConfig defines exponential backoff behavior.
// Formula: delay = min(InitialBackoff * (Multiplier ^ attempt), MaxBackoff).
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// BreakerConfig defines the three-state circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	PerAgent         bool          `yaml:"per_agent"`
}

// ResearchConfig bounds the iterative research loop.
type ResearchConfig struct {
	MaxRounds     int `yaml:"max_rounds"`
	MaxIterations int `yaml:"max_iterations"` // group conversation safety cap
}

// TokenConfig bounds per-call token budgets.
type TokenConfig struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
	PerAgentCeiling  int `yaml:"per_agent_ceiling"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// RedisConfig enables the Redis session store when URL is non-empty.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "agentmesh",
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			APIVersion:  "2024-06-01",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     30 * time.Second,
		},
		Agents: AgentsConfig{
			DiscoveryTimeout: 15 * time.Second,
			CallTimeout:      30 * time.Second,
			StreamTimeout:    60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrent:      5,
			RequestsPerMinute:  60,
			TokensPerMinute:    90000,
			MinRequestInterval: 100 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			RecoveryTimeout:  30 * time.Second,
			PerAgent:         true,
		},
		Research: ResearchConfig{
			MaxRounds:     12,
			MaxIterations: 10,
		},
		Tokens: TokenConfig{
			MaxContextTokens: 16000,
			PerAgentCeiling:  4000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentmesh",
		},
		Redis: RedisConfig{
			SessionTTL: 24 * time.Hour,
		},
	}
}

// LoadFromFile merges a YAML configuration file into c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overrides configuration from environment variables.
func (c *Config) LoadFromEnv() {
	setString(&c.Model.Endpoint, "MODEL_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
	setString(&c.Model.APIKey, "MODEL_API_KEY", "AZURE_OPENAI_API_KEY")
	setString(&c.Model.Deployment, "MODEL_DEPLOYMENT", "AZURE_OPENAI_DEPLOYMENT")
	setString(&c.Model.APIVersion, "MODEL_API_VERSION")

	if v := os.Getenv("AGENT_BASE_URLS"); v != "" {
		c.Agents.BaseURLs = splitAndTrim(v)
	}

	setInt(&c.RateLimit.MaxConcurrent, "MAX_CONCURRENT_REQUESTS")
	setInt(&c.RateLimit.RequestsPerMinute, "REQUESTS_PER_MINUTE")
	setInt(&c.RateLimit.TokensPerMinute, "TOKENS_PER_MINUTE")

	setInt(&c.Retry.MaxRetries, "MAX_RETRIES")
	setSeconds(&c.Retry.InitialBackoff, "INITIAL_BACKOFF_SECONDS")
	setSeconds(&c.Retry.MaxBackoff, "MAX_BACKOFF_SECONDS")

	setInt(&c.Breaker.FailureThreshold, "CIRCUIT_BREAKER_FAILURE_THRESHOLD")
	setInt(&c.Breaker.SuccessThreshold, "CIRCUIT_BREAKER_SUCCESS_THRESHOLD")
	setSeconds(&c.Breaker.RecoveryTimeout, "CIRCUIT_BREAKER_RECOVERY_TIMEOUT")
	setBool(&c.Breaker.PerAgent, "CIRCUIT_BREAKER_PER_AGENT")

	setInt(&c.Research.MaxRounds, "MAX_RESEARCH_ROUNDS")
	setInt(&c.Tokens.MaxContextTokens, "MAX_CONTEXT_TOKENS")
	setInt(&c.Tokens.PerAgentCeiling, "PER_AGENT_TOKEN_CEILING")

	setInt(&c.Port, "PORT")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setBool(&c.Telemetry.Enabled, "TELEMETRY_ENABLED")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Redis.URL, "REDIS_URL")
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	if c.RateLimit.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent must be at least 1", ErrInvalidConfiguration)
	}
	if c.RateLimit.RequestsPerMinute < 1 || c.RateLimit.TokensPerMinute < 1 {
		return fmt.Errorf("%w: rate limit windows must be positive", ErrInvalidConfiguration)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative", ErrInvalidConfiguration)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("%w: retry multiplier must be >= 1, got %f", ErrInvalidConfiguration, c.Retry.Multiplier)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be at least 1", ErrInvalidConfiguration)
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("%w: success_threshold must be at least 1", ErrInvalidConfiguration)
	}
	if c.Research.MaxRounds < 1 {
		return fmt.Errorf("%w: max_rounds must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

func setString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setSeconds(dst *time.Duration, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
