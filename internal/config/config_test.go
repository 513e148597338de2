package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "marketsim.yaml"))
	require.NoError(t, err)

	assert.Len(t, cfg.Stations, 3)
	assert.Equal(t, int64(20260415), cfg.Simulation.Seed)
	assert.Equal(t, int64(20260415), cfg.Market.Seed)

	// Overridden values.
	assert.Equal(t, 0.005, cfg.Simulation.EventChancePerTick)
	assert.Equal(t, 48, cfg.Limits.HistoryCapacity)
	assert.Equal(t, 40.0, cfg.Limits.EquilibriumFor("luxuries"))

	// Defaults survive the overlay.
	assert.Equal(t, 0.05, cfg.Simulation.DecayRate)
	assert.Equal(t, 1000.0, cfg.Limits.MaxLevel)
	assert.Equal(t, 2.2, cfg.Pricing.RarityMultipliers["exotic"])
	assert.Equal(t, 0.5, cfg.Market.TradeDemandImpact)

	comp, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, 10, comp.Catalog.Len())
	assert.True(t, comp.Profiles.HasEconProfile("mining"))
	_, ok := comp.Events.Definition("ore_strike")
	assert.True(t, ok)
}

func TestLoadFromTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	src := `
commodities:
  - {id: grain, category: food, base_price: 4}
pricing:
  variance_min: 1
  variance_max: 1
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Pricing.VarianceMin)
	assert.Equal(t, 0.5, cfg.Pricing.MinRatio)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad yaml", "commodities: [\n"},
		{"zero base price", "commodities: [{id: a, category: food, base_price: 0}]"},
		{"duplicate commodity", "commodities: [{id: a, category: food, base_price: 1}, {id: a, category: food, base_price: 2}]"},
		{"ratio band inverted", "pricing: {min_ratio: 2, max_ratio: 1}"},
		{"variance band inverted", "pricing: {variance_min: 1.1, variance_max: 0.9}"},
		{"negative event weight", "events: [{id: e, weight: -1}]"},
		{"tolerance out of range", "faction_profiles: [{faction_id: f, buy_price_factor: 1, sell_price_factor: 1, illegal_tolerance: 1.5}]"},
		{"history capacity", "limits: {history_capacity: 0}"},
		{"duplicate station", "stations: [{station_id: s}, {station_id: s}]"},
		{"bad rarity", "commodities: [{id: a, category: food, base_price: 1, rarity: mythic}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
