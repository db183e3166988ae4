package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending pool daemon.
type Config struct {
	ListenAddress  string     `yaml:"listen"`
	MetricsAddress string     `yaml:"metrics_listen"`
	DataDir        string     `yaml:"data_dir"`
	ParamsPath     string     `yaml:"params"`
	Auth           AuthConfig `yaml:"auth"`
}

// AuthConfig lists the authenticators accepted by the daemon. Mutating
// endpoints require a bearer token unless anonymous access is allowed
// explicitly.
type AuthConfig struct {
	APITokens      []string `yaml:"api_tokens"`
	AllowAnonymous bool     `yaml:"allow_anonymous"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8640",
		ParamsPath:    "lendpool.toml",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8640"
	}
	cfg.MetricsAddress = strings.TrimSpace(cfg.MetricsAddress)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = "lendpool.toml"
	}
	cfg.Auth.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.APITokens = tokens
}

func (cfg AuthConfig) validate() error {
	if len(cfg.APITokens) == 0 && !cfg.AllowAnonymous {
		return fmt.Errorf("at least one api token must be configured unless allow_anonymous=true")
	}
	return nil
}
