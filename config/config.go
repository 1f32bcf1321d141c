package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the dusdd daemon configuration.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	NetworkName string `toml:"NetworkName"`

	Vault     Vault
	RPC       RPC
	Oracle    Oracle
	Telemetry Telemetry
	Pauses    Pauses
}

// Vault configures the collateral registry used when the daemon bootstraps a
// fresh database without a genesis file. Assets and Feeds are parallel.
type Vault struct {
	Assets []string
	Feeds  []string
}

// RPC configures the JSON-RPC server: at most one auth mode (static bearer
// token or JWT HS256 secret), plus per-client rate limiting for mutating
// methods.
type RPC struct {
	AuthToken          string
	JWTSecret          string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Oracle bounds the age of price quotes used for valuation.
type Oracle struct {
	StalenessTimeoutSecs uint64
}

// Timeout converts the configured staleness bound; zero means the engine
// default.
func (o Oracle) Timeout() time.Duration {
	return time.Duration(o.StalenessTimeoutSecs) * time.Second
}

// Telemetry configures the OTLP trace/metric exporters. An empty endpoint
// disables export.
type Telemetry struct {
	OTLPEndpoint string
	OTLPInsecure bool
	ServiceName  string
}

// Pauses halts modules at boot.
type Pauses struct {
	Vault  bool
	Oracle bool
}

// Modules lists the paused module names.
func (p Pauses) Modules() []string {
	var out []string
	if p.Vault {
		out = append(out, "vault")
	}
	if p.Oracle {
		out = append(out, "oracle")
	}
	return out
}

// Load reads the configuration at path, creating and persisting a default
// one when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "dusd-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dusd-data"
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./dusd-data",
		GenesisFile: "",
		NetworkName: "dusd-local",
		Vault: Vault{
			Assets: []string{"WETH", "WBTC"},
			Feeds:  []string{"eth-usd", "btc-usd"},
		},
		RPC: RPC{
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
		Oracle: Oracle{
			StalenessTimeoutSecs: 3 * 60 * 60,
		},
	}
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
