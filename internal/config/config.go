package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix       = "PEERCHAT_"
	DefaultFileName = "peerchat.toml"

	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the layered peerchat configuration.
type Config struct {
	Dir      string        `koanf:"dir"`
	LogLevel string        `koanf:"log_level"`
	Account  string        `koanf:"account"`
	Network  NetworkConfig `koanf:"network"`
	Names    NamesConfig   `koanf:"names"`
	Session  SessionConfig `koanf:"session"`
}

type NetworkConfig struct {
	Backend      string        `koanf:"backend"`
	RedisURL     string        `koanf:"redis_url"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

type NamesConfig struct {
	URL           string        `koanf:"url"`
	Suffixes      []string      `koanf:"suffixes"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Timeout       time.Duration `koanf:"timeout"`
	Listen        string        `koanf:"listen"`
}

type SessionConfig struct {
	ResolveTimeout time.Duration `koanf:"resolve_timeout"`
	ReachTimeout   time.Duration `koanf:"reach_timeout"`
	CreateTimeout  time.Duration `koanf:"create_timeout"`
}

type LoadOptions struct {
	// Path is an explicit TOML file; it must exist when set.
	Path string
	// Dir is searched for DefaultFileName and .env when Path is empty.
	Dir string
	// Overrides is applied last, keyed by dotted path (for command-line flags).
	Overrides map[string]any
}

func defaults(dir string) map[string]any {
	return map[string]any{
		"dir":                     dir,
		"log_level":               "info",
		"network.backend":         BackendFile,
		"network.poll_interval":   "500ms",
		"names.suffixes":          []string{".eth"},
		"names.rate_per_second":   5.0,
		"names.burst":             5,
		"names.timeout":           "5s",
		"names.listen":            "127.0.0.1:8787",
		"session.resolve_timeout": "10s",
		"session.reach_timeout":   "10s",
		"session.create_timeout":  "30s",
	}
}

// Load layers defaults, the TOML file, a .env file, PEERCHAT_* environment
// variables and Overrides, later layers winning. In environment names "__"
// separates sections: PEERCHAT_NETWORK__REDIS_URL sets network.redis_url.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(opts.Dir), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := strings.TrimSpace(opts.Path)
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if dir := strings.TrimSpace(opts.Dir); dir != "" {
		candidate := filepath.Join(dir, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", candidate, err)
			}
		}
	}

	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		envFile := filepath.Join(dir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) normalize() {
	c.Dir = strings.TrimSpace(c.Dir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Account = strings.TrimSpace(c.Account)
	c.Network.Backend = strings.ToLower(strings.TrimSpace(c.Network.Backend))
	c.Network.RedisURL = strings.TrimSpace(c.Network.RedisURL)
	c.Names.URL = strings.TrimSpace(c.Names.URL)
	suffixes := make([]string, 0, len(c.Names.Suffixes))
	for _, s := range c.Names.Suffixes {
		if s = strings.TrimSpace(s); s != "" {
			suffixes = append(suffixes, s)
		}
	}
	c.Names.Suffixes = suffixes
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Network.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Network.RedisURL == "" {
			errs = append(errs, fmt.Errorf("network.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown network.backend %q (want file or redis)", c.Network.Backend))
	}
	if c.Network.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("network.poll_interval must be positive"))
	}
	if c.Names.RatePerSecond <= 0 || c.Names.Burst <= 0 {
		errs = append(errs, fmt.Errorf("names.rate_per_second and names.burst must be positive"))
	}
	return errors.Join(errs...)
}
