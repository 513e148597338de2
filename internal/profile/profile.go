// Package profile holds station economic profiles and faction market profiles.
// Lookups never fail: a missing id degrades to the neutral profile.
package profile

import (
	"fmt"
	"log/slog"
)

// EconomicProfile describes how a station type prices and produces each category.
type EconomicProfile struct {
	ID string `yaml:"id" json:"id"`

	// CategoryModifiers scales the base price per category (absent = 1.0).
	CategoryModifiers map[string]float64 `yaml:"category_modifiers" json:"category_modifiers"`

	// Production and Consumption are per-tick supply and demand gains per category.
	Production  map[string]float64 `yaml:"production" json:"production"`
	Consumption map[string]float64 `yaml:"consumption" json:"consumption"`
}

// Modifier returns the price multiplier for a category.
func (p EconomicProfile) Modifier(category string) float64 {
	if m, ok := p.CategoryModifiers[category]; ok {
		return m
	}
	return 1.0
}

// ProductionRate returns the per-tick supply gain for a category.
func (p EconomicProfile) ProductionRate(category string) float64 {
	return p.Production[category]
}

// ConsumptionRate returns the per-tick demand gain for a category.
func (p EconomicProfile) ConsumptionRate(category string) float64 {
	return p.Consumption[category]
}

// FactionProfile is the pricing bias a controlling faction imposes on its markets.
type FactionProfile struct {
	FactionID        string   `yaml:"faction_id" json:"faction_id"`
	BuyPriceFactor   float64  `yaml:"buy_price_factor" json:"buy_price_factor"`
	SellPriceFactor  float64  `yaml:"sell_price_factor" json:"sell_price_factor"`
	TaxRate          float64  `yaml:"tax_rate" json:"tax_rate"`                   // Fraction, applied to purchases only
	IllegalTolerance float64  `yaml:"illegal_tolerance" json:"illegal_tolerance"` // 0 strict … 1 lawless
	SupplyBias       float64  `yaml:"supply_bias" json:"supply_bias"`             // Fractional shift of baseline supply
	DemandBias       float64  `yaml:"demand_bias" json:"demand_bias"`             // Fractional shift of baseline demand
	Services         []string `yaml:"services" json:"services"`
}

// Offers reports whether the faction provides a named service.
func (f FactionProfile) Offers(service string) bool {
	for _, s := range f.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Neutral defaults returned for unknown ids.
//
//	category modifier   1.0 (every category)
//	production rate     0
//	consumption rate    0
//	buy/sell factor     1.0
//	tax rate            0
//	illegal tolerance   0
//	supply/demand bias  0
var (
	NeutralEconProfile = EconomicProfile{ID: "neutral"}

	NeutralFactionProfile = FactionProfile{
		FactionID:       "neutral",
		BuyPriceFactor:  1.0,
		SellPriceFactor: 1.0,
	}
)

// Registry is an immutable lookup of economic and faction profiles.
type Registry struct {
	econ     map[string]EconomicProfile
	factions map[string]FactionProfile
}

// NewRegistry validates and indexes the profiles.
func NewRegistry(econ []EconomicProfile, factions []FactionProfile) (*Registry, error) {
	r := &Registry{
		econ:     make(map[string]EconomicProfile, len(econ)),
		factions: make(map[string]FactionProfile, len(factions)),
	}
	for _, p := range econ {
		if p.ID == "" {
			return nil, fmt.Errorf("economic profile: empty id")
		}
		if _, dup := r.econ[p.ID]; dup {
			return nil, fmt.Errorf("economic profile %q: duplicate id", p.ID)
		}
		for cat, m := range p.CategoryModifiers {
			if !(m > 0) {
				return nil, fmt.Errorf("economic profile %q: modifier for %q must be > 0", p.ID, cat)
			}
		}
		r.econ[p.ID] = p
	}
	for _, f := range factions {
		if f.FactionID == "" {
			return nil, fmt.Errorf("faction profile: empty faction_id")
		}
		if _, dup := r.factions[f.FactionID]; dup {
			return nil, fmt.Errorf("faction profile %q: duplicate id", f.FactionID)
		}
		if !(f.BuyPriceFactor > 0) || !(f.SellPriceFactor > 0) {
			return nil, fmt.Errorf("faction profile %q: price factors must be > 0", f.FactionID)
		}
		if f.TaxRate < 0 {
			return nil, fmt.Errorf("faction profile %q: negative tax_rate", f.FactionID)
		}
		if f.IllegalTolerance < 0 || f.IllegalTolerance > 1 {
			return nil, fmt.Errorf("faction profile %q: illegal_tolerance outside [0,1]", f.FactionID)
		}
		r.factions[f.FactionID] = f
	}
	return r, nil
}

// EconProfile returns the economic profile for id, or the neutral profile.
func (r *Registry) EconProfile(id string) EconomicProfile {
	if r != nil {
		if p, ok := r.econ[id]; ok {
			return p
		}
	}
	slog.Warn("economic profile not found, using neutral default", "profile", id)
	return NeutralEconProfile
}

// FactionProfile returns the market profile for a faction, or the neutral profile.
func (r *Registry) FactionProfile(factionID string) FactionProfile {
	if r != nil {
		if f, ok := r.factions[factionID]; ok {
			return f
		}
	}
	slog.Warn("faction profile not found, using neutral default", "faction", factionID)
	return NeutralFactionProfile
}

// HasEconProfile reports whether id is configured.
func (r *Registry) HasEconProfile(id string) bool {
	_, ok := r.econ[id]
	return ok
}
