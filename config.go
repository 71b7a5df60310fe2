package gengateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Limits    Limits           `yaml:"limits"`
	Providers []ProviderConfig `yaml:"providers"`
	Routes    []RouteConfig    `yaml:"routes"`
	Cache     CacheConfig      `yaml:"cache"`
	Server    ServerConfig     `yaml:"server"`
}

// Limits tunes the protection layers. Zero values take defaults.
type Limits struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	MinInterval      time.Duration `yaml:"min_interval"` // negative disables spacing
	MaxFailures      int           `yaml:"max_failures"`
	FailureTimeout   time.Duration `yaml:"failure_timeout"`
	QuotaCooldown    time.Duration `yaml:"quota_cooldown"`
	FailureKeyLength int           `yaml:"failure_key_length"`
	MinResponseChars int           `yaml:"min_response_chars"`
	Temperatures     []float64     `yaml:"temperatures"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
}

// ProviderConfig holds credentials for a provider adapter, matched by name.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Auth    Auth   `yaml:"auth"`
}

// RouteConfig binds a content kind to a provider and an ordered model list.
type RouteConfig struct {
	Kind         ContentKind `yaml:"kind"`
	Provider     string      `yaml:"provider"`
	Models       []string    `yaml:"models"`
	PromptSuffix string      `yaml:"prompt_suffix"`
	MaxTokens    int         `yaml:"max_tokens"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory, sqlite, redis, postgres, none
	Path      string        `yaml:"path"`
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultTemperatures are tried in order for each model.
var DefaultTemperatures = []float64{0.7, 0.5}

const (
	defaultFailureKeyLength = 50
	defaultMinResponseChars = 50
	defaultAttemptTimeout   = 60 * time.Second
)

// WithDefaults returns l with zero values replaced by defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = defaultMaxConcurrent
	}
	if l.MinInterval == 0 {
		l.MinInterval = defaultMinInterval
	}
	if l.MaxFailures <= 0 {
		l.MaxFailures = defaultMaxFailures
	}
	if l.FailureTimeout <= 0 {
		l.FailureTimeout = defaultFailureTimeout
	}
	if l.QuotaCooldown <= 0 {
		l.QuotaCooldown = defaultQuotaCooldown
	}
	if l.FailureKeyLength <= 0 {
		l.FailureKeyLength = defaultFailureKeyLength
	}
	if l.MinResponseChars <= 0 {
		l.MinResponseChars = defaultMinResponseChars
	}
	if len(l.Temperatures) == 0 {
		l.Temperatures = DefaultTemperatures
	}
	if l.AttemptTimeout <= 0 {
		l.AttemptTimeout = defaultAttemptTimeout
	}
	return l
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gengateway: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, expanding ${VAR} references.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("gengateway: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("gengateway: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("gengateway: config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true
	}

	kinds := make(map[ContentKind]bool, len(c.Routes))
	for i, r := range c.Routes {
		if !r.Kind.Valid() {
			return fmt.Errorf("gengateway: config: routes[%d]: invalid kind %q", i, r.Kind)
		}
		if kinds[r.Kind] {
			return fmt.Errorf("gengateway: config: duplicate route for kind %s", r.Kind)
		}
		kinds[r.Kind] = true
		if r.Provider == "" {
			return fmt.Errorf("gengateway: config: routes[%d] (%s): provider is required", i, r.Kind)
		}
		if !names[r.Provider] {
			return fmt.Errorf("gengateway: config: routes[%d] (%s): unknown provider %q", i, r.Kind, r.Provider)
		}
		if len(r.Models) == 0 {
			return fmt.Errorf("gengateway: config: routes[%d] (%s): at least one model is required", i, r.Kind)
		}
	}

	for i, t := range c.Limits.Temperatures {
		if t < 0 || t > 2 {
			return fmt.Errorf("gengateway: config: limits.temperatures[%d]: %v out of range [0,2]", i, t)
		}
	}

	switch c.Cache.Backend {
	case "", "none", "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("gengateway: config: cache: path is required for sqlite")
		}
	case "redis", "postgres":
		if c.Cache.URL == "" {
			return fmt.Errorf("gengateway: config: cache: url is required for %s", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("gengateway: config: cache: unknown backend %q", c.Cache.Backend)
	}

	return nil
}

// Provider returns the provider config with the given name.
func (c Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
