package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	b := c.Banknode
	if b.MinConfirmations < 1 {
		return fmt.Errorf("banknode: MinConfirmations must be >= 1")
	}
	if b.TickIntervalSeconds <= 0 {
		return fmt.Errorf("banknode: TickIntervalSeconds must be > 0")
	}
	if b.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("banknode: ProbeTimeoutSeconds must be > 0")
	}
	if len(b.Collateral) == 0 {
		return fmt.Errorf("banknode: at least one collateral era required")
	}
	if b.Collateral[0].Height != 0 {
		return fmt.Errorf("banknode: first collateral era must start at height 0")
	}
	for i, era := range b.Collateral {
		if era.AmountBCR <= 0 {
			return fmt.Errorf("banknode: collateral era %d amount must be > 0", i)
		}
		if i > 0 && era.Height <= b.Collateral[i-1].Height {
			return fmt.Errorf("banknode: collateral era heights must strictly increase (%d after %d)", era.Height, b.Collateral[i-1].Height)
		}
	}
	if _, err := c.CollateralPolicy(); err != nil {
		return fmt.Errorf("banknode: %w", err)
	}
	if _, err := c.ServiceAddress(); err != nil {
		return fmt.Errorf("banknode: %w", err)
	}
	if b.Enabled && strings.TrimSpace(c.Wallet.RPCURL) == "" {
		return fmt.Errorf("wallet: RPCURL required when banknode is enabled")
	}
	if c.Directory.RateLimit < 0 || c.Directory.RateBurst < 0 {
		return fmt.Errorf("directory: rate limits must not be negative")
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return level, nil
}
