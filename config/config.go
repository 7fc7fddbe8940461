package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendledger/crypto"
	"lendledger/native/lending"
)

// DefaultTokenName seeds the token asset written into generated config files.
const DefaultTokenName = "ltoken"

// Config is the ledger node file.
type Config struct {
	NetworkName string         `toml:"NetworkName"`
	DataDir     string         `toml:"DataDir"`
	Lending     lending.Config `toml:"lending"`
	Oracle      OracleConfig   `toml:"oracle"`
	Journal     JournalConfig  `toml:"journal"`
	Chain       ChainConfig    `toml:"chain"`
	Pauses      Pauses         `toml:"pauses"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	cfg.ensureDefaults()
	if err := ValidateConfig(*cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLending loads path and returns only the lending section.
func LoadLending(path string) (*lending.Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &cfg.Lending, nil
}

func (c *Config) ensureDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "lendledger-local"
	}
	if strings.TrimSpace(c.Journal.Driver) == "" {
		c.Journal.Driver = "sqlite"
	}
	c.Lending.EnsureDefaults()
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	token := crypto.ModuleAddress(DefaultTokenName)
	cfg := &Config{
		NetworkName: "lendledger-local",
		DataDir:     "./lendledger-data",
		Lending: lending.Config{
			Token: token.Encode(crypto.AssetPrefix),
			Prices: []lending.PriceConfig{
				{Asset: "native", Price: lending.Scale().Dec()},
				{Asset: token.Encode(crypto.AssetPrefix), Price: lending.Scale().Dec()},
			},
		},
		Oracle:  OracleConfig{MaxAgeBlocks: 0},
		Journal: JournalConfig{Enabled: true, Driver: "sqlite"},
		Chain:   ChainConfig{StartHeight: 1, ManualClock: true},
	}
	cfg.Lending.EnsureDefaults()
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// JournalDSN resolves the journal connection string. A sqlite journal
// without an explicit DSN lives in the data directory.
func (c Config) JournalDSN() string {
	if dsn := strings.TrimSpace(c.Journal.DSN); dsn != "" {
		return dsn
	}
	if strings.EqualFold(c.Journal.Driver, "sqlite") && c.DataDir != "" {
		return filepath.Join(c.DataDir, "operations.db")
	}
	return ""
}
