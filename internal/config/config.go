package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Generator GeneratorConfig `json:"generator"`
	Database  DatabaseConfig  `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// EngineConfig holds every tunable of the memory and orchestration core.
type EngineConfig struct {
	TokenLimit        int              `json:"token_limit"`
	MaxFacts          int              `json:"max_facts"`
	MaxFactsInContext int              `json:"max_facts_in_context"`
	MaxIndexMatches   int              `json:"max_index_matches"`
	MaxBlocks         int              `json:"max_blocks"`
	PoolSize          int              `json:"pool_size"`
	QueryTimeout      Duration         `json:"query_timeout"`
	SubQueryTimeout   Duration         `json:"sub_query_timeout"`
	Retry             RetryConfig      `json:"retry"`
	Breaker           BreakerConfig    `json:"breaker"`
	Classifier        ClassifierConfig `json:"classifier"`
}

type RetryConfig struct {
	MaxRetries int      `json:"max_retries"`
	BaseDelay  Duration `json:"base_delay"`
	MaxDelay   Duration `json:"max_delay"`
}

type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"`
	Cooldown         Duration `json:"cooldown"`
}

// ClassifierConfig exposes the complexity cut points. The scoring weights
// live with the classifier; only the thresholds proved worth tuning.
type ClassifierConfig struct {
	ComplexThreshold  float64 `json:"complex_threshold"`
	ModerateThreshold float64 `json:"moderate_threshold"`
}

type GeneratorConfig struct {
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Model    string   `json:"model"`
	Timeout  Duration `json:"timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// Duration wraps time.Duration with JSON string parsing ("30s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parse duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or nanosecond count: %s", data)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a runnable configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Engine: EngineConfig{
			TokenLimit:        40000,
			MaxFacts:          100,
			MaxFactsInContext: 5,
			MaxIndexMatches:   3,
			MaxBlocks:         20,
			PoolSize:          5,
			QueryTimeout:      Duration(60 * time.Second),
			SubQueryTimeout:   Duration(20 * time.Second),
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  Duration(time.Second),
				MaxDelay:   Duration(60 * time.Second),
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         Duration(60 * time.Second),
			},
			Classifier: ClassifierConfig{
				ComplexThreshold:  4,
				ModerateThreshold: 2,
			},
		},
		Generator: GeneratorConfig{
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  Duration(120 * time.Second),
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references. Missing fields keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.TokenLimit <= 0 {
		return fmt.Errorf("engine.token_limit must be positive, got %d", c.Engine.TokenLimit)
	}
	if c.Engine.MaxFacts <= 0 {
		return fmt.Errorf("engine.max_facts must be positive, got %d", c.Engine.MaxFacts)
	}
	if c.Engine.PoolSize <= 0 {
		return fmt.Errorf("engine.pool_size must be positive, got %d", c.Engine.PoolSize)
	}
	if c.Engine.Classifier.ModerateThreshold > c.Engine.Classifier.ComplexThreshold {
		return fmt.Errorf("classifier moderate threshold %v exceeds complex threshold %v",
			c.Engine.Classifier.ModerateThreshold, c.Engine.Classifier.ComplexThreshold)
	}
	return nil
}
