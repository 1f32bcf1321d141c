package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadParsesDaemonSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
NetworkName = "testnet"

[Vault]
Assets = ["WETH", "WBTC", "WSOL"]
Feeds = ["eth-usd", "btc-usd", "sol-usd"]

[RPC]
AuthToken = "topsecret"
RateLimitPerSecond = 2.5
RateLimitBurst = 5

[Oracle]
StalenessTimeoutSecs = 900

[Telemetry]
OTLPEndpoint = "localhost:4318"
OTLPInsecure = true
ServiceName = "dusd-test"

[Pauses]
Vault = true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.NetworkName != "testnet" {
		t.Fatalf("unexpected core settings: %+v", cfg)
	}
	if len(cfg.Vault.Assets) != 3 || cfg.Vault.Feeds[2] != "sol-usd" {
		t.Fatalf("unexpected vault settings: %+v", cfg.Vault)
	}
	if cfg.RPC.AuthToken != "topsecret" || cfg.RPC.RateLimitPerSecond != 2.5 {
		t.Fatalf("unexpected rpc settings: %+v", cfg.RPC)
	}
	if cfg.Oracle.Timeout() != 15*time.Minute {
		t.Fatalf("unexpected staleness timeout: %s", cfg.Oracle.Timeout())
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4318" || !cfg.Telemetry.OTLPInsecure {
		t.Fatalf("unexpected telemetry settings: %+v", cfg.Telemetry)
	}
	modules := cfg.Pauses.Modules()
	if len(modules) != 1 || modules[0] != "vault" {
		t.Fatalf("unexpected paused modules: %v", modules)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.DataDir != "./dusd-data" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.Vault.Assets) != len(cfg.Vault.Feeds) || len(cfg.Vault.Assets) == 0 {
		t.Fatalf("default registry malformed: %+v", cfg.Vault)
	}
	if cfg.Oracle.Timeout() != 3*time.Hour {
		t.Fatalf("unexpected default staleness: %s", cfg.Oracle.Timeout())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default persisted: %v", err)
	}

	// The persisted default must round-trip.
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress || len(reloaded.Vault.Assets) != len(cfg.Vault.Assets) {
		t.Fatalf("default did not round-trip: %+v", reloaded)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Vault: Vault{Assets: []string{"WETH"}, Feeds: []string{"eth-usd"}},
		}
	}

	if err := ValidateConfig(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	mismatch := base()
	mismatch.Vault.Feeds = nil
	if err := ValidateConfig(mismatch); err == nil {
		t.Fatalf("expected length mismatch rejection")
	}

	emptyFeed := base()
	emptyFeed.Vault.Feeds = []string{"  "}
	if err := ValidateConfig(emptyFeed); err == nil {
		t.Fatalf("expected empty feed rejection")
	}

	bothAuth := base()
	bothAuth.RPC.AuthToken = "a"
	bothAuth.RPC.JWTSecret = "b"
	if err := ValidateConfig(bothAuth); err == nil {
		t.Fatalf("expected mutually exclusive auth rejection")
	}

	negativeRate := base()
	negativeRate.RPC.RateLimitPerSecond = -1
	if err := ValidateConfig(negativeRate); err == nil {
		t.Fatalf("expected negative rate rejection")
	}
}
