package lending

import (
	"testing"

	"github.com/BurntSushi/toml"

	"lendledger/crypto"
)

func TestConfigParamsDefaults(t *testing.T) {
	cfg := Config{Token: tokenAddr.Encode(crypto.AssetPrefix)}
	cfg.EnsureDefaults()
	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.Token != tokenAddr {
		t.Fatalf("unexpected token %s", params.Token.Hex())
	}
	if params.MaxLTVBps != DefaultMaxLTVBps || params.CloseFactorBps != DefaultCloseFactorBps {
		t.Fatalf("unexpected risk parameters %+v", params)
	}
	if !params.InterestRatePerBlock.Eq(DefaultInterestRatePerBlock) {
		t.Fatalf("unexpected rate %s", params.InterestRatePerBlock)
	}
	if params.AccrualMode != AccrualGlobal {
		t.Fatalf("unexpected accrual mode %s", params.AccrualMode)
	}
}

func TestConfigDecodeTOML(t *testing.T) {
	doc := `
Token = "` + tokenAddr.Hex() + `"
MaxLTVBps = 6000
InterestRatePerBlock = "2000000000000000"
AccrualMode = "per-account"

[pauses]
Borrow = true

[[prices]]
Asset = "native"
Price = "1000000000000000000"

[[prices]]
Asset = "` + tokenAddr.Encode(crypto.AssetPrefix) + `"
Price = "2500000000000000000"
`
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg.EnsureDefaults()
	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.MaxLTVBps != 6000 || params.AccrualMode != AccrualPerAccount || !params.Pauses.Borrow {
		t.Fatalf("unexpected params %+v", params)
	}
	if params.InterestRatePerBlock.Uint64() != 2_000_000_000_000_000 {
		t.Fatalf("unexpected rate %s", params.InterestRatePerBlock)
	}
	prices, err := cfg.SeedPrices()
	if err != nil {
		t.Fatalf("seed prices: %v", err)
	}
	if len(prices) != 2 || !prices[NativeAsset].Eq(Scale()) {
		t.Fatalf("unexpected prices %v", prices)
	}
	if prices[tokenAddr].Dec() != "2500000000000000000" {
		t.Fatalf("unexpected token price %s", prices[tokenAddr].Dec())
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	cases := map[string]Config{
		"native token": {Token: "native", InterestRatePerBlock: "1"},
		"bad rate":     {Token: tokenAddr.Hex(), InterestRatePerBlock: "-1"},
		"ltv above 1":  {Token: tokenAddr.Hex(), InterestRatePerBlock: "1", MaxLTVBps: 10_001},
		"bad token":    {Token: "nope", InterestRatePerBlock: "1"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.EnsureDefaults()
			if _, err := cfg.Params(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseAccrualMode(t *testing.T) {
	for _, input := range []string{"", "global", "GLOBAL"} {
		if mode, err := ParseAccrualMode(input); err != nil || mode != AccrualGlobal {
			t.Fatalf("parse %q: mode=%s err=%v", input, mode, err)
		}
	}
	if mode, err := ParseAccrualMode("per_account"); err != nil || mode != AccrualPerAccount {
		t.Fatalf("parse per_account: mode=%s err=%v", mode, err)
	}
	if _, err := ParseAccrualMode("weekly"); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}
