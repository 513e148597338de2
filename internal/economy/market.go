// Package economy provides per-station market state: supply, demand, quoted
// price and price history for every stocked commodity.
package economy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/entropy"
	"github.com/talgya/starmarket/internal/profile"
)

var (
	// ErrInvalidCommodity marks a stocked commodity id missing from the catalog.
	ErrInvalidCommodity = errors.New("invalid commodity")

	// ErrUnknownCommodity marks a commodity id this market does not stock.
	ErrUnknownCommodity = errors.New("commodity not stocked")
)

// Limits bounds market state. Loaded once from configuration.
type Limits struct {
	MaxLevel            float64            `yaml:"max_level"`            // Upper clamp for supply and demand
	HistoryCapacity     int                `yaml:"history_capacity"`     // Prices kept per entry
	Equilibrium         float64            `yaml:"equilibrium"`          // Default resting level for supply and demand
	CategoryEquilibrium map[string]float64 `yaml:"category_equilibrium"` // Per-category override of Equilibrium
	SeedJitter          float64            `yaml:"seed_jitter"`          // ± fraction applied to seeded baselines
	MinPrice            float64            `yaml:"min_price"`            // Strictly positive price floor
}

// DefaultLimits returns the limits used when configuration leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		MaxLevel:        1000,
		HistoryCapacity: 32,
		Equilibrium:     100,
		SeedJitter:      0.15,
		MinPrice:        0.01,
	}
}

// EquilibriumFor returns the resting level for a category.
func (l Limits) EquilibriumFor(category string) float64 {
	if v, ok := l.CategoryEquilibrium[category]; ok {
		return v
	}
	return l.Equilibrium
}

func (l Limits) clampLevel(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > l.MaxLevel {
		return l.MaxLevel
	}
	return v
}

func (l Limits) floorPrice(p float64) float64 {
	min := l.MinPrice
	if !(min > 0) {
		min = 0.01
	}
	if math.IsNaN(p) || p < min {
		return min
	}
	return p
}

// MarketEntry is the supply/demand state for one commodity at one station.
// Fields are only changed through MarketLocation so the clamps always hold.
type MarketEntry struct {
	commodityID string
	category    string
	supply      float64
	demand      float64
	price       float64
	history     *PriceHistory
}

// CommodityID returns the catalog id of the traded commodity.
func (e *MarketEntry) CommodityID() string { return e.commodityID }

// Category returns the commodity's category, copied from the catalog.
func (e *MarketEntry) Category() string { return e.category }

// Supply returns the current supply level. Updates clamp it to [0, Limits.MaxLevel].
func (e *MarketEntry) Supply() float64 { return e.supply }

// Demand returns the current demand level, clamped like Supply.
func (e *MarketEntry) Demand() float64 { return e.demand }

// CurrentPrice returns the last recorded price.
func (e *MarketEntry) CurrentPrice() float64 { return e.price }

// History returns recorded prices, oldest first.
func (e *MarketEntry) History() []float64 { return e.history.Values() }

// AveragePrice returns the mean of recorded prices.
func (e *MarketEntry) AveragePrice() float64 { return e.history.Average() }

// StationDescriptor is what station generation hands over for a new market.
type StationDescriptor struct {
	StationID     string   `yaml:"station_id" json:"station_id"`
	FactionID     string   `yaml:"faction_id" json:"faction_id"`
	EconProfileID string   `yaml:"econ_profile_id" json:"econ_profile_id"`
	Seed          int64    `yaml:"seed" json:"seed"`
	Stock         []string `yaml:"stock" json:"stock"` // Commodity ids stocked here
}

// MarketLocation holds the market state of one station.
//
// Methods do not lock. Callers that may race (trades against ticks) must hold
// Lock for the whole read-modify-write.
type MarketLocation struct {
	mu sync.Mutex

	StationID     string
	FactionID     string
	EconProfileID string

	entries map[string]*MarketEntry
	order   []string // stock order, stable across save/load
	limits  Limits
}

// noiseCoord places a commodity on the noise field by its id, so its baseline
// does not move when the stock list is reordered.
func noiseCoord(id string) float64 {
	return float64(uint64(entropy.SeedFromString(id))%4096)*0.73 + 0.5
}

// NewMarketLocation builds a market from a station descriptor. Baseline supply
// and demand come from the category equilibrium shifted by the faction's
// biases, then jittered by noise seeded from the station seed.
//
// Stocked ids missing from the catalog are skipped; the returned location is
// still usable and the error wraps ErrInvalidCommodity naming every skipped id.
func NewMarketLocation(desc StationDescriptor, catalog *commodity.Catalog, profiles *profile.Registry, limits Limits) (*MarketLocation, error) {
	loc := &MarketLocation{
		StationID:     desc.StationID,
		FactionID:     desc.FactionID,
		EconProfileID: desc.EconProfileID,
		entries:       make(map[string]*MarketEntry, len(desc.Stock)),
		limits:        limits,
	}

	faction := profiles.FactionProfile(desc.FactionID)
	noise := opensimplex.NewNormalized(desc.Seed)

	var skipped []error
	for _, id := range desc.Stock {
		if _, dup := loc.entries[id]; dup {
			continue
		}
		c, err := catalog.Get(id)
		if err != nil {
			slog.Warn("stocked commodity not in catalog, skipping", "station", desc.StationID, "commodity", id)
			skipped = append(skipped, fmt.Errorf("%w: %w", ErrInvalidCommodity, err))
			continue
		}

		eq := limits.EquilibriumFor(c.Category)
		x := noiseCoord(id)
		supply := eq * (1 + faction.SupplyBias) * jitter(noise.Eval2(x, 0), limits.SeedJitter)
		demand := eq * (1 + faction.DemandBias) * jitter(noise.Eval2(x, 31.7), limits.SeedJitter)

		loc.entries[id] = &MarketEntry{
			commodityID: id,
			category:    c.Category,
			supply:      limits.clampLevel(supply),
			demand:      limits.clampLevel(demand),
			price:       limits.floorPrice(c.BasePrice),
			history:     NewPriceHistory(limits.HistoryCapacity),
		}
		loc.order = append(loc.order, id)
	}

	if len(skipped) > 0 {
		return loc, errors.Join(skipped...)
	}
	return loc, nil
}

// jitter maps normalized noise in [0,1] onto a factor in [1-amp, 1+amp].
func jitter(n, amp float64) float64 {
	return 1 + (n*2-1)*amp
}

// Lock acquires exclusive access to the market.
func (m *MarketLocation) Lock() { m.mu.Lock() }

// Unlock releases the market.
func (m *MarketLocation) Unlock() { m.mu.Unlock() }

// Limits returns the bounds this market was built with.
func (m *MarketLocation) Limits() Limits { return m.limits }

// Entry returns the entry for a commodity.
func (m *MarketLocation) Entry(commodityID string) (*MarketEntry, bool) {
	e, ok := m.entries[commodityID]
	return e, ok
}

// Entries returns all entries in stock order.
func (m *MarketLocation) Entries() []*MarketEntry {
	out := make([]*MarketEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

// Commodities returns the stocked commodity ids in stock order.
func (m *MarketLocation) Commodities() []string {
	return append([]string(nil), m.order...)
}

// ApplySupplyEvent adds delta to supply, clamped to [0, MaxLevel].
// Unknown commodities are a logged no-op; the return reports whether it applied.
func (m *MarketLocation) ApplySupplyEvent(commodityID string, delta float64) bool {
	e, ok := m.entries[commodityID]
	if !ok {
		slog.Warn("supply event for unstocked commodity ignored", "station", m.StationID, "commodity", commodityID)
		return false
	}
	e.supply = m.limits.clampLevel(e.supply + delta)
	return true
}

// ApplyDemandEvent adds delta to demand, clamped to [0, MaxLevel].
func (m *MarketLocation) ApplyDemandEvent(commodityID string, delta float64) bool {
	e, ok := m.entries[commodityID]
	if !ok {
		slog.Warn("demand event for unstocked commodity ignored", "station", m.StationID, "commodity", commodityID)
		return false
	}
	e.demand = m.limits.clampLevel(e.demand + delta)
	return true
}

// RecordPrice sets the quoted price and appends it to the history.
func (m *MarketLocation) RecordPrice(commodityID string, price float64) bool {
	e, ok := m.entries[commodityID]
	if !ok {
		slog.Warn("price for unstocked commodity ignored", "station", m.StationID, "commodity", commodityID)
		return false
	}
	e.price = m.limits.floorPrice(price)
	e.history.Push(e.price)
	return true
}

// Decay moves every entry's supply and demand a fraction rate of the way
// toward its category equilibrium.
func (m *MarketLocation) Decay(rate float64) {
	for _, id := range m.order {
		e := m.entries[id]
		eq := m.limits.EquilibriumFor(e.category)
		e.supply = m.limits.clampLevel(e.supply + (eq-e.supply)*rate)
		e.demand = m.limits.clampLevel(e.demand + (eq-e.demand)*rate)
	}
}
