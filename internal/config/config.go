// Package config loads node settings from UPACCOUNT_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/nmxmxh/upaccount/internal/account"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap/zapcore"
)

// Config holds node settings.
type Config struct {
	ListenAddrs      []string `env:"UPACCOUNT_LISTEN_ADDRS"      envSeparator:"," envDefault:"/ip4/0.0.0.0/tcp/4001"`
	StatePath        string   `env:"UPACCOUNT_STATE_PATH"        envDefault:"data/state.sqlite"`
	NodeKeyPath      string   `env:"UPACCOUNT_NODE_KEY"          envDefault:"data/node.key"`
	OwnerKeyPath     string   `env:"UPACCOUNT_OWNER_KEY"         envDefault:"data/owner.key"`
	LogLevel         string   `env:"UPACCOUNT_LOG_LEVEL"         envDefault:"info"`
	Development      bool     `env:"UPACCOUNT_DEVELOPMENT"`
	MaxCallDepth     int      `env:"UPACCOUNT_MAX_CALL_DEPTH"    envDefault:"1024"`
	MaxValueSize     int      `env:"UPACCOUNT_MAX_VALUE_SIZE"    envDefault:"65536"`
	EnableController bool     `env:"UPACCOUNT_ENABLE_CONTROLLER" envDefault:"true"`
	// InitialCredits funds a freshly bootstrapped identity.
	InitialCredits uint64 `env:"UPACCOUNT_INITIAL_CREDITS"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if _, err := c.Multiaddrs(); err != nil {
		return err
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return fmt.Errorf("UPACCOUNT_STATE_PATH is required")
	}
	if strings.TrimSpace(c.NodeKeyPath) == "" || strings.TrimSpace(c.OwnerKeyPath) == "" {
		return fmt.Errorf("node and owner key paths are required")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("UPACCOUNT_LOG_LEVEL: %w", err)
	}
	if c.MaxCallDepth <= 0 || c.MaxCallDepth > vm.DefaultMaxDepth {
		return fmt.Errorf("UPACCOUNT_MAX_CALL_DEPTH must be in 1..%d, got %d", vm.DefaultMaxDepth, c.MaxCallDepth)
	}
	if c.MaxValueSize <= 0 {
		return fmt.Errorf("UPACCOUNT_MAX_VALUE_SIZE must be positive, got %d", c.MaxValueSize)
	}
	return nil
}

// Multiaddrs parses the listen addresses.
func (c Config) Multiaddrs() ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(c.ListenAddrs))
	for _, raw := range c.ListenAddrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			return nil, fmt.Errorf("UPACCOUNT_LISTEN_ADDRS %q: %w", raw, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// Identity returns the identity contract configured with the value size limit.
func (c Config) Identity() *account.Identity {
	id := account.New()
	id.MaxValueSize = c.MaxValueSize
	return id
}
