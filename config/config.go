package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from TOML. Durations are seconds.
type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	ExplorerDSN           string `toml:"ExplorerDSN"`
	StableToken           string `toml:"StableToken"`
	SecurityBps           uint64 `toml:"SecurityBps"`
	SweepAfterSeconds     uint64 `toml:"SweepAfterSeconds"`
	SequencerGraceSeconds uint64 `toml:"SequencerGraceSeconds"`
	PriceStalenessSeconds uint64 `toml:"PriceStalenessSeconds"`
	LogLevel              string `toml:"LogLevel"`

	Pauses Pauses `toml:"pauses"`
}

// Pauses holds the per-module emergency switches.
type Pauses struct {
	Collateral bool `toml:"Collateral"`
	Fund       bool `toml:"Fund"`
	Yield      bool `toml:"Yield"`
}

const (
	defaultListenAddress = ":8645"
	defaultExplorerDSN   = "tandachain.db"
	defaultStableToken   = "USDC"
	defaultSecurityBps   = 11_000
	defaultSweepAfter    = 180 * 24 * 60 * 60
	defaultGrace         = 60 * 60
	defaultStaleness     = 24 * 60 * 60
	defaultLogLevel      = "info"
)

// Load loads the configuration from the given path, writing a default file
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.ExplorerDSN) == "" {
		c.ExplorerDSN = defaultExplorerDSN
	}
	if strings.TrimSpace(c.StableToken) == "" {
		c.StableToken = defaultStableToken
	}
	if c.SecurityBps == 0 {
		c.SecurityBps = defaultSecurityBps
	}
	if c.SweepAfterSeconds == 0 {
		c.SweepAfterSeconds = defaultSweepAfter
	}
	if c.SequencerGraceSeconds == 0 {
		c.SequencerGraceSeconds = defaultGrace
	}
	if c.PriceStalenessSeconds == 0 {
		c.PriceStalenessSeconds = defaultStaleness
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate rejects configurations that would weaken the collateral model.
func (c *Config) Validate() error {
	if c.SecurityBps < 10_000 {
		return fmt.Errorf("config: SecurityBps %d below 10000 would under-collateralize terms", c.SecurityBps)
	}
	if c.SequencerGraceSeconds == 0 {
		return fmt.Errorf("config: SequencerGraceSeconds must be positive")
	}
	if c.PriceStalenessSeconds == 0 {
		return fmt.Errorf("config: PriceStalenessSeconds must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
