package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.NodeConfig != "lendledger.toml" || cfg.ReadTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Logging.Level != "info" || cfg.Telemetry.SampleRatio != 1 || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFull(t *testing.T) {
	t.Setenv("LENDINGD_TEST_SECRET", " from-env ")
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
node_config: "/etc/lendledger/node.toml"
read_timeout: 3s
auth:
  enabled: true
  hmac_secret_env: LENDINGD_TEST_SECRET
  issuer: ledger
rate_limits:
  - id: lending
    rate_per_second: 5
    burst: 10
    tokens:
      "POST /v1/lending/borrow": 4
logging:
  level: DEBUG
  file: /var/log/lendingd.log
dev:
  faucet: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.HMACSecret != "from-env" || cfg.Auth.Issuer != "ledger" {
		t.Fatalf("unexpected auth %+v", cfg.Auth)
	}
	if cfg.ReadTimeout != 3*time.Second || cfg.NodeConfig != "/etc/lendledger/node.toml" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].Tokens["POST /v1/lending/borrow"] != 4 {
		t.Fatalf("unexpected rate limits %+v", cfg.RateLimits)
	}
	if cfg.Logging.Level != "debug" || !cfg.Dev.Faucet {
		t.Fatalf("unexpected logging/dev %+v %+v", cfg.Logging, cfg.Dev)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"auth without secret": "auth:\n  enabled: true\n",
		"unknown field":       "listen: \":1\"\nbogus: 1\n",
		"rate without id":     "rate_limits:\n  - rate_per_second: 1\n    burst: 1\n",
		"duplicate rate id":   "rate_limits:\n  - {id: a, rate_per_second: 1, burst: 1}\n  - {id: a, rate_per_second: 1, burst: 1}\n",
		"zero burst":          "rate_limits:\n  - {id: a, rate_per_second: 1, burst: 0}\n",
		"token above burst":   "rate_limits:\n  - id: a\n    rate_per_second: 1\n    burst: 2\n    tokens:\n      \"GET /\": 3\n",
		"bad level":           "logging:\n  level: loud\n",
		"telemetry endpoint":  "telemetry:\n  traces: true\n",
		"sample ratio":        "telemetry:\n  sample_ratio: 2\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if cfg.ListenAddress != ":8085" || cfg.NodeConfig != "lendledger.toml" {
		t.Fatalf("unexpected sample config %+v", cfg)
	}
	if len(cfg.RateLimits) != 2 || cfg.RateLimits[0].Tokens["POST /v1/lending/liquidate"] != 4 {
		t.Fatalf("unexpected rate limits %+v", cfg.RateLimits)
	}
	if !cfg.Dev.Faucet {
		t.Fatalf("expected faucet enabled in sample config")
	}
}
