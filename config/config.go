package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the protocol parameter file for the lending pool. Reserves and
// collections listed here are registered at startup if absent from state.
type Config struct {
	Pool        Pool         `toml:"pool"`
	RateModel   RateModel    `toml:"ratemodel"`
	Reserves    []Reserve    `toml:"reserves"`
	Collections []Collection `toml:"collections"`
	Prices      []Price      `toml:"prices"`
}

// Load reads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pool.MaxReserves == 0 {
		c.Pool.MaxReserves = 32
	}
	if c.Pool.MaxCollections == 0 {
		c.Pool.MaxCollections = 255
	}
	if c.Pool.MinBidDeltaBPS == 0 {
		c.Pool.MinBidDeltaBPS = 100
	}
	if c.RateModel.OptimalBPS == 0 {
		c.RateModel = RateModel{BaseBPS: 100, Slope1BPS: 800, Slope2BPS: 10_000, OptimalBPS: 6_500}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config file: %w", err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return cfg, nil
}
