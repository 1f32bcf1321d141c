package pricefeedd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dusd/native/oracle"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the price feeder daemon.
type Config struct {
	Node         NodeConfig `yaml:"node"`
	DatabasePath string     `yaml:"database_path"`
	PollInterval Duration   `yaml:"poll_interval"`
	// MaxQuoteAge discards upstream quotes older than this before they
	// ever reach the node.
	MaxQuoteAge Duration `yaml:"max_quote_age"`
	// ResubmitAfter forces a refresh of an unchanged price so the node's
	// staleness guard never trips on a quiet market. It must stay below
	// the node's staleness timeout.
	ResubmitAfter Duration       `yaml:"resubmit_after"`
	Feeds         []string       `yaml:"feeds"`
	Sources       []SourceConfig `yaml:"sources"`
}

// NodeConfig locates the node RPC endpoint and its credentials.
type NodeConfig struct {
	Endpoint string `yaml:"endpoint"`
	// AuthTokenEnv names the environment variable holding the bearer
	// token; the token itself never lives in the config file.
	AuthTokenEnv string `yaml:"auth_token_env"`
}

// SourceConfig describes one upstream price API. Sources are tried in the
// order they appear; the first fresh quote wins.
type SourceConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	// Assets maps feed identifiers to the upstream asset identifiers the
	// endpoint understands (e.g. eth-usd -> ethereum).
	Assets map[string]string `yaml:"assets"`
}

// LoadConfig reads the YAML configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Node.Endpoint = strings.TrimSpace(cfg.Node.Endpoint)
	cfg.Node.AuthTokenEnv = strings.TrimSpace(cfg.Node.AuthTokenEnv)
	if cfg.Node.AuthTokenEnv == "" {
		cfg.Node.AuthTokenEnv = "DUSD_RPC_TOKEN"
	}
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "pricefeedd.db"
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval.Duration = 30 * time.Second
	}
	if cfg.MaxQuoteAge.Duration <= 0 {
		cfg.MaxQuoteAge.Duration = 10 * time.Minute
	}
	if cfg.ResubmitAfter.Duration <= 0 {
		cfg.ResubmitAfter.Duration = time.Hour
	}
	feeds := make([]string, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		if normalized := oracle.NormalizeFeedID(feed); normalized != "" {
			feeds = append(feeds, normalized)
		}
	}
	cfg.Feeds = feeds
	for i := range cfg.Sources {
		cfg.Sources[i].Name = strings.ToLower(strings.TrimSpace(cfg.Sources[i].Name))
		cfg.Sources[i].Endpoint = strings.TrimSpace(cfg.Sources[i].Endpoint)
	}
}

func validateConfig(cfg Config) error {
	if cfg.Node.Endpoint == "" {
		return fmt.Errorf("node: endpoint required")
	}
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("at least one feed required")
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source required")
	}
	seen := make(map[string]struct{}, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Name == "" {
			return fmt.Errorf("source name required")
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// AuthToken resolves the RPC bearer token from the configured environment
// variable. An empty token is allowed; the node will reject mutations.
func (cfg Config) AuthToken() string {
	return strings.TrimSpace(os.Getenv(cfg.Node.AuthTokenEnv))
}
