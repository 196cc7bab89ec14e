package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"ctfadapter/native/market"
)

// Config is the daemon configuration, decoded from TOML.
type Config struct {
	ListenAddress       string   `toml:"ListenAddress"`
	DataDir             string   `toml:"DataDir"`
	AdapterAddress      string   `toml:"AdapterAddress"`
	OracleAddress       string   `toml:"OracleAddress"`
	SafetyPeriodSeconds int64    `toml:"SafetyPeriodSeconds"`
	OracleLiveness      int64    `toml:"OracleLiveness"`
	MaxAncillaryBytes   int      `toml:"MaxAncillaryBytes"`
	AdminAddresses      []string `toml:"AdminAddresses"`
	TokenWhitelist      []string `toml:"TokenWhitelist"`
	AuthSecret          string   `toml:"AuthSecret"`
	AuthSecretEnv       string   `toml:"AuthSecretEnv"`
	RateLimitPerSecond  float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst      int      `toml:"RateLimitBurst"`
	Env                 string   `toml:"Env"`
	OTLPEndpoint        string   `toml:"OTLPEndpoint"`
	History             History  `toml:"history"`
}

// History configures the relational store behind the resolution read model.
type History struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Load loads the configuration from the given path. A missing file yields the
// defaults so a bare daemon still boots against in-memory backends.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{
		ListenAddress:       ":8645",
		DataDir:             "./ctfadapter-data",
		AdapterAddress:      "0x00000000000000000000000000000000000000CA",
		OracleAddress:       "0x000000000000000000000000000000000000000F",
		SafetyPeriodSeconds: market.DefaultSafetyPeriod,
		AuthSecretEnv:       "CTFADAPTER_AUTH_SECRET",
		RateLimitPerSecond:  20,
		RateLimitBurst:      40,
		Env:                 "dev",
		History:             History{Driver: "sqlite"},
	}
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ctfadapter-data"
	}
	if cfg.SafetyPeriodSeconds <= 0 {
		cfg.SafetyPeriodSeconds = market.DefaultSafetyPeriod
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	if strings.TrimSpace(cfg.AuthSecretEnv) == "" {
		cfg.AuthSecretEnv = "CTFADAPTER_AUTH_SECRET"
	}
	if strings.TrimSpace(cfg.History.Driver) == "" {
		cfg.History.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
}

// Validate checks address fields and cross-field constraints.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.AdapterAddress) {
		return fmt.Errorf("config: AdapterAddress %q is not a hex address", c.AdapterAddress)
	}
	if !common.IsHexAddress(c.OracleAddress) {
		return fmt.Errorf("config: OracleAddress %q is not a hex address", c.OracleAddress)
	}
	if c.AdapterAddress == c.OracleAddress {
		return fmt.Errorf("config: AdapterAddress and OracleAddress must differ")
	}
	for _, addr := range c.AdminAddresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: AdminAddresses entry %q is not a hex address", addr)
		}
	}
	for _, token := range c.TokenWhitelist {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("config: TokenWhitelist entry %q is not a hex address", token)
		}
	}
	if c.MaxAncillaryBytes < 0 || c.MaxAncillaryBytes > market.MaxAncillaryLen {
		return fmt.Errorf("config: MaxAncillaryBytes must be 0 (use the engine default) or between 1 and %d", market.MaxAncillaryLen)
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported history driver %q", c.History.Driver)
	}
	if c.History.Driver == "postgres" && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("config: postgres history requires a DSN")
	}
	return nil
}

// ResolveAuthSecret returns the JWT signing secret, preferring the
// environment variable over the inline value so secrets stay out of config
// files in real deployments. Empty means authenticated routes are disabled.
func (c *Config) ResolveAuthSecret() string {
	if c.AuthSecretEnv != "" {
		if v := os.Getenv(c.AuthSecretEnv); v != "" {
			return v
		}
	}
	return c.AuthSecret
}

// Address parses a validated hex address field into its byte form.
func Address(hexAddr string) [20]byte {
	var out [20]byte
	copy(out[:], common.HexToAddress(hexAddr).Bytes())
	return out
}

// AdapterAddr returns the adapter identity as bytes.
func (c *Config) AdapterAddr() [20]byte { return Address(c.AdapterAddress) }

// OracleAddr returns the oracle identity as bytes.
func (c *Config) OracleAddr() [20]byte { return Address(c.OracleAddress) }

// WhitelistAddrs returns the parsed reward-token whitelist.
func (c *Config) WhitelistAddrs() [][20]byte {
	out := make([][20]byte, 0, len(c.TokenWhitelist))
	for _, token := range c.TokenWhitelist {
		out = append(out, Address(token))
	}
	return out
}

// AdminAddrs returns the parsed admin address list.
func (c *Config) AdminAddrs() [][20]byte {
	out := make([][20]byte, 0, len(c.AdminAddresses))
	for _, addr := range c.AdminAddresses {
		out = append(out, Address(addr))
	}
	return out
}
