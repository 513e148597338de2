// Package config loads the market simulation configuration from YAML.
// A loaded Config is treated as immutable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/engine"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/market"
	"github.com/talgya/starmarket/internal/pricing"
	"github.com/talgya/starmarket/internal/profile"
)

// Config is the full startup configuration.
type Config struct {
	// Seed, when non-zero, overrides the simulation and market seeds.
	Seed int64 `yaml:"seed"`

	Commodities     []commodity.Commodity       `yaml:"commodities"`
	EconProfiles    []profile.EconomicProfile   `yaml:"econ_profiles"`
	FactionProfiles []profile.FactionProfile    `yaml:"faction_profiles"`
	Events          []events.Definition         `yaml:"events"`
	Stations        []economy.StationDescriptor `yaml:"stations"`

	Simulation engine.Config  `yaml:"simulation"`
	Market     market.Config  `yaml:"market"`
	Limits     economy.Limits `yaml:"limits"`
	Pricing    pricing.Config `yaml:"pricing"`
}

// Default returns a config with every numeric constant set and no content.
func Default() *Config {
	return &Config{
		Simulation: engine.DefaultConfig(),
		Market:     market.DefaultConfig(),
		Limits:     economy.DefaultLimits(),
		Pricing:    pricing.DefaultConfig(),
	}
}

// Load reads path, overlays it on the defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Seed != 0 {
		cfg.Simulation.Seed = cfg.Seed
		cfg.Market.Seed = cfg.Seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. Content sections are validated by building them.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if err := c.Pricing.Validate(); err != nil {
		return err
	}
	if err := validateLimits(c.Limits); err != nil {
		return err
	}
	if c.Market.TradeSupplyImpact < 0 || c.Market.TradeDemandImpact < 0 {
		return fmt.Errorf("market: trade impacts must be >= 0")
	}

	seen := make(map[string]bool, len(c.Stations))
	for i, st := range c.Stations {
		if st.StationID == "" {
			return fmt.Errorf("station #%d: empty station_id", i)
		}
		if seen[st.StationID] {
			return fmt.Errorf("station %q: duplicate id", st.StationID)
		}
		seen[st.StationID] = true
	}

	_, err := c.Build()
	return err
}

func validateLimits(l economy.Limits) error {
	switch {
	case !(l.MaxLevel > 0):
		return fmt.Errorf("limits: max_level must be > 0")
	case l.HistoryCapacity < 1:
		return fmt.Errorf("limits: history_capacity must be >= 1")
	case l.Equilibrium < 0 || l.Equilibrium > l.MaxLevel:
		return fmt.Errorf("limits: equilibrium must be in [0, max_level]")
	case l.SeedJitter < 0 || l.SeedJitter >= 1:
		return fmt.Errorf("limits: seed_jitter must be in [0, 1)")
	case !(l.MinPrice > 0):
		return fmt.Errorf("limits: min_price must be > 0")
	}
	for cat, v := range l.CategoryEquilibrium {
		if v < 0 || v > l.MaxLevel {
			return fmt.Errorf("limits: equilibrium for %q must be in [0, max_level]", cat)
		}
	}
	return nil
}

// Components are the immutable lookups built from a Config.
type Components struct {
	Catalog  *commodity.Catalog
	Profiles *profile.Registry
	Pricer   *pricing.Engine
	Events   *events.Engine
}

// Build constructs the catalog, profile registry, price engine and event engine.
func (c *Config) Build() (*Components, error) {
	catalog, err := commodity.NewCatalog(c.Commodities)
	if err != nil {
		return nil, fmt.Errorf("commodities: %w", err)
	}
	profiles, err := profile.NewRegistry(c.EconProfiles, c.FactionProfiles)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	ev, err := events.NewEngine(c.Events, catalog)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return &Components{
		Catalog:  catalog,
		Profiles: profiles,
		Pricer:   pricing.NewEngine(catalog, c.Pricing),
		Events:   ev,
	}, nil
}
