package config

import (
	"fmt"
	"strings"
)

// ValidateConfig checks the knobs that cannot be defaulted sensibly.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config must not be nil")
	}
	if len(cfg.Vault.Assets) != len(cfg.Vault.Feeds) {
		return fmt.Errorf("vault: Assets and Feeds must have equal length")
	}
	for i, asset := range cfg.Vault.Assets {
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("vault: asset %d is empty", i)
		}
		if strings.TrimSpace(cfg.Vault.Feeds[i]) == "" {
			return fmt.Errorf("vault: feed for %s is empty", asset)
		}
	}
	if strings.TrimSpace(cfg.RPC.AuthToken) != "" && strings.TrimSpace(cfg.RPC.JWTSecret) != "" {
		return fmt.Errorf("rpc: AuthToken and JWTSecret are mutually exclusive")
	}
	if cfg.RPC.RateLimitPerSecond < 0 {
		return fmt.Errorf("rpc: RateLimitPerSecond must not be negative")
	}
	if cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: RateLimitBurst must not be negative")
	}
	return nil
}
