// Package config loads the gateway's immutable runtime configuration.
// Precedence: coded defaults, then the optional YAML file, then environment
// variables. The resulting Config is passed into the dispatcher at
// construction — request handling never reads ambient state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/modelmux/modelmux/pkg/protocol"
)

// Config holds every tunable of the gateway process.
type Config struct {
	Host   string `env:"MODELMUX_HOST" yaml:"host"`
	Port   int    `env:"MODELMUX_PORT" yaml:"port"`
	APIKey string `env:"MODELMUX_API_KEY" yaml:"api_key"`

	DefaultProvider string  `env:"DEFAULT_PROVIDER" yaml:"default_provider"`
	TimeoutSeconds  float64 `env:"GATEWAY_TIMEOUT_SECONDS" yaml:"timeout_seconds"`

	OpenAIKey  string `env:"OPENAI_KEY" yaml:"openai_key"`
	OpenAIBase string `env:"OPENAI_BASE_URL" yaml:"openai_base_url"`
	GeminiKey  string `env:"GEMINI_KEY" yaml:"gemini_key"`
	GeminiBase string `env:"GEMINI_BASE_URL" yaml:"gemini_base_url"`
	ClaudeKey  string `env:"CLAUDE_KEY" yaml:"claude_key"`
	ClaudeBase string `env:"CLAUDE_BASE_URL" yaml:"claude_base_url"`
}

// Defaults returns the baseline configuration. Vision calls can legitimately
// run long, hence the forgiving upstream timeout.
func Defaults() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		DefaultProvider: string(protocol.ProviderEcho),
		TimeoutSeconds:  120,
	}
}

// Load builds the Config. path may be empty (no file overlay).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the dispatcher cannot serve.
func (c *Config) Validate() error {
	if _, ok := protocol.ParseProvider(c.DefaultProvider); !ok {
		return fmt.Errorf("unknown default provider %q", c.DefaultProvider)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %v", c.TimeoutSeconds)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// Timeout returns the shared upstream call timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Addr returns the host:port the API server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
