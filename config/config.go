// Package config centralises runtime configuration for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credentials captures the API credential triple used for signed requests.
type Credentials struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

// Endpoints configures the venue transport URLs.
type Endpoints struct {
	RESTHost string `yaml:"rest_host"`
	WSHost   string `yaml:"ws_host"`
}

// Trading configures account-level placement knobs.
type Trading struct {
	Leverage int      `yaml:"leverage"`
	Margin   bool     `yaml:"margin"`
	Segments []string `yaml:"segments"`
}

// Runtime configures pacing and worker sizing.
type Runtime struct {
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	QueryInterval time.Duration `yaml:"query_interval"`
	Workers       int           `yaml:"workers"`
	QueueDepth    int           `yaml:"queue_depth"`
}

// Settings is the full configuration tree.
type Settings struct {
	Credentials Credentials `yaml:"credentials"`
	Endpoints   Endpoints   `yaml:"endpoints"`
	Trading     Trading     `yaml:"trading"`
	Runtime     Runtime     `yaml:"runtime"`
	LogLevel    string      `yaml:"log_level"`
}

// Default returns the production defaults; credentials are always supplied
// by file or environment.
func Default() Settings {
	return Settings{
		Endpoints: Endpoints{
			RESTHost: "https://www.okex.com",
			WSHost:   "wss://real.okex.com:10442/ws/v3",
		},
		Trading: Trading{
			Leverage: 10,
			Segments: []string{"futures", "swap", "spot"},
		},
		Runtime: Runtime{
			HTTPTimeout:   10 * time.Second,
			QueryInterval: 6 * time.Second,
			Workers:       8,
			QueueDepth:    256,
		},
		LogLevel: "info",
	}
}

// LoadFile merges a YAML file over the defaults. A missing path returns the
// defaults untouched.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies OKEXGW_* environment overrides on top of the settings.
func FromEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("OKEXGW_API_KEY")); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_API_SECRET")); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_PASSPHRASE")); v != "" {
		cfg.Credentials.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_REST_HOST")); v != "" {
		cfg.Endpoints.RESTHost = v
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_WS_HOST")); v != "" {
		cfg.Endpoints.WSHost = v
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_SEGMENTS")); v != "" {
		segments := strings.Split(v, ",")
		for i := range segments {
			segments[i] = strings.TrimSpace(segments[i])
		}
		cfg.Trading.Segments = segments
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_LEVERAGE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.Leverage = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_QUERY_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Runtime.QueryInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("OKEXGW_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return cfg
}

// Validate checks the settings needed before connecting.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Credentials.APIKey) == "" {
		return fmt.Errorf("api key required")
	}
	if strings.TrimSpace(s.Credentials.APISecret) == "" {
		return fmt.Errorf("api secret required")
	}
	if strings.TrimSpace(s.Credentials.Passphrase) == "" {
		return fmt.Errorf("passphrase required")
	}
	if len(s.Trading.Segments) == 0 {
		return fmt.Errorf("at least one segment required")
	}
	for _, segment := range s.Trading.Segments {
		switch segment {
		case "futures", "swap", "spot":
		default:
			return fmt.Errorf("unknown segment %q", segment)
		}
	}
	return nil
}
