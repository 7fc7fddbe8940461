package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations the node cannot start with.
func ValidateConfig(c Config) error {
	if _, err := c.Lending.Params(); err != nil {
		return err
	}
	if _, err := c.Lending.SeedPrices(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Journal.Driver)) {
	case "", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("journal: unsupported driver %q", c.Journal.Driver)
	}
	if c.Journal.Enabled && strings.HasPrefix(strings.ToLower(c.Journal.Driver), "postgres") && strings.TrimSpace(c.Journal.DSN) == "" {
		return fmt.Errorf("journal: postgres requires a DSN")
	}
	return nil
}
