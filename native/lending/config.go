package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendledger/crypto"
)

// Config captures the file representation of the lending parameters. Amount
// fields are decimal strings so configuration files can express 256-bit
// values.
type Config struct {
	Token                string        `toml:"Token"`
	MaxLTVBps            uint64        `toml:"MaxLTVBps"`
	CloseFactorBps       uint64        `toml:"CloseFactorBps"`
	InterestRatePerBlock string        `toml:"InterestRatePerBlock"`
	ReserveFactorBps     uint64        `toml:"ReserveFactorBps"`
	AccrualMode          AccrualMode   `toml:"AccrualMode"`
	Pauses               ActionPauses  `toml:"pauses"`
	Prices               []PriceConfig `toml:"prices"`
}

// PriceConfig seeds a static oracle price for an asset.
type PriceConfig struct {
	Asset string `toml:"Asset"`
	Price string `toml:"Price"`
}

// EnsureDefaults fills zero fields with the standard parameter values.
func (c *Config) EnsureDefaults() {
	if c.MaxLTVBps == 0 {
		c.MaxLTVBps = DefaultMaxLTVBps
	}
	if c.CloseFactorBps == 0 {
		c.CloseFactorBps = DefaultCloseFactorBps
	}
	if strings.TrimSpace(c.InterestRatePerBlock) == "" {
		c.InterestRatePerBlock = DefaultInterestRatePerBlock.Dec()
	}
	if c.ReserveFactorBps == 0 {
		c.ReserveFactorBps = DefaultReserveFactorBps
	}
}

// Params converts the configuration into validated engine parameters.
func (c Config) Params() (Params, error) {
	token, err := crypto.ParseAddress(c.Token)
	if err != nil {
		return Params{}, fmt.Errorf("lending config: token: %w", err)
	}
	rate, err := uint256.FromDecimal(strings.TrimSpace(c.InterestRatePerBlock))
	if err != nil {
		return Params{}, fmt.Errorf("lending config: InterestRatePerBlock: %w", err)
	}
	params := Params{
		Token:                token,
		MaxLTVBps:            c.MaxLTVBps,
		CloseFactorBps:       c.CloseFactorBps,
		InterestRatePerBlock: rate,
		ReserveFactorBps:     c.ReserveFactorBps,
		AccrualMode:          c.AccrualMode,
		Pauses:               c.Pauses,
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}

// SeedPrices parses the configured static prices keyed by asset.
func (c Config) SeedPrices() (map[crypto.Address]*uint256.Int, error) {
	out := make(map[crypto.Address]*uint256.Int, len(c.Prices))
	for _, entry := range c.Prices {
		asset, err := crypto.ParseAddress(entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("lending config: price asset %q: %w", entry.Asset, err)
		}
		price, err := uint256.FromDecimal(strings.TrimSpace(entry.Price))
		if err != nil {
			return nil, fmt.Errorf("lending config: price for %q: %w", entry.Asset, err)
		}
		out[asset] = price
	}
	return out, nil
}
