// Package events selects and applies random economic events to markets.
package events

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/entropy"
)

// ErrEventNotFound is returned when forcing an event id that is not defined.
var ErrEventNotFound = errors.New("event not found")

// Effect shifts supply and demand for one commodity or a whole category.
// Exactly one of Commodity or Category is set.
type Effect struct {
	Commodity   string  `yaml:"commodity" json:"commodity,omitempty"`
	Category    string  `yaml:"category" json:"category,omitempty"`
	SupplyDelta float64 `yaml:"supply_delta" json:"supply_delta"`
	DemandDelta float64 `yaml:"demand_delta" json:"demand_delta"`
}

// Definition is one configured random event.
type Definition struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Weight   float64  `yaml:"weight" json:"weight"`
	Profiles []string `yaml:"profiles" json:"profiles,omitempty"` // Applicable econ profiles; empty = all
	Effects  []Effect `yaml:"effects" json:"effects"`
}

// AppliesTo reports whether the event may fire at a station with this profile.
func (d Definition) AppliesTo(econProfileID string) bool {
	if len(d.Profiles) == 0 {
		return true
	}
	for _, p := range d.Profiles {
		if p == econProfileID {
			return true
		}
	}
	return false
}

// Result records what an applied event changed.
type Result struct {
	EventID   string   `json:"event_id"`
	StationID string   `json:"station_id"`
	Touched   []string `json:"touched"` // Commodity ids whose levels changed
	Skipped   int      `json:"skipped"` // Effects with no matching commodity in the market
}

// Engine holds the event definitions in configuration order.
type Engine struct {
	defs    []Definition
	byID    map[string]int
	catalog *commodity.Catalog
}

// NewEngine validates definitions against the catalog. An effect naming an
// unknown commodity is kept and skipped at apply time with a warning.
func NewEngine(defs []Definition, catalog *commodity.Catalog) (*Engine, error) {
	e := &Engine{byID: make(map[string]int, len(defs)), catalog: catalog}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("event: empty id")
		}
		if _, dup := e.byID[d.ID]; dup {
			return nil, fmt.Errorf("event %q: duplicate id", d.ID)
		}
		if d.Weight < 0 {
			return nil, fmt.Errorf("event %q: negative weight", d.ID)
		}
		for i, eff := range d.Effects {
			if (eff.Commodity == "") == (eff.Category == "") {
				return nil, fmt.Errorf("event %q effect #%d: set exactly one of commodity or category", d.ID, i)
			}
			if eff.Commodity != "" && !catalog.Has(eff.Commodity) {
				slog.Warn("event effect references unknown commodity", "event", d.ID, "commodity", eff.Commodity)
			}
		}
		e.byID[d.ID] = len(e.defs)
		e.defs = append(e.defs, d)
	}
	return e, nil
}

// Definition returns an event definition by id.
func (e *Engine) Definition(id string) (Definition, bool) {
	i, ok := e.byID[id]
	if !ok {
		return Definition{}, false
	}
	return e.defs[i], true
}

// Candidates returns the events applicable to a profile, in configuration order.
func (e *Engine) Candidates(econProfileID string) []Definition {
	var out []Definition
	for _, d := range e.defs {
		if d.Weight > 0 && d.AppliesTo(econProfileID) {
			out = append(out, d)
		}
	}
	return out
}

// Select picks one applicable event by weight. Ties in cumulative weight go
// to the earlier definition.
func (e *Engine) Select(econProfileID string, rng entropy.Rand) (Definition, bool) {
	cands := e.Candidates(econProfileID)
	total := 0.0
	for _, d := range cands {
		total += d.Weight
	}
	if total <= 0 {
		return Definition{}, false
	}
	target := rng.Float64() * total
	acc := 0.0
	for _, d := range cands {
		acc += d.Weight
		if target < acc {
			return d, true
		}
	}
	return cands[len(cands)-1], true
}

// RollAndApply selects an event for the market's profile and applies it.
// The caller holds the market lock and has already won the per-tick chance roll.
func (e *Engine) RollAndApply(loc *economy.MarketLocation, econProfileID string, rng entropy.Rand) (Result, bool) {
	d, ok := e.Select(econProfileID, rng)
	if !ok {
		return Result{}, false
	}
	return e.Apply(loc, d), true
}

// Force applies a named event regardless of profile filter or weight.
func (e *Engine) Force(loc *economy.MarketLocation, eventID string) (Result, error) {
	d, ok := e.Definition(eventID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrEventNotFound, eventID)
	}
	return e.Apply(loc, d), nil
}

// Apply applies every effect of d to loc. Effects whose target is absent from
// the market are skipped with a warning; the rest still apply.
func (e *Engine) Apply(loc *economy.MarketLocation, d Definition) Result {
	res := Result{EventID: d.ID, StationID: loc.StationID}
	seen := make(map[string]bool)

	for _, eff := range d.Effects {
		targets := e.targets(loc, eff)
		if len(targets) == 0 {
			slog.Warn("event effect has no target in market, skipping",
				"event", d.ID, "station", loc.StationID,
				"commodity", eff.Commodity, "category", eff.Category)
			res.Skipped++
			continue
		}
		for _, id := range targets {
			if eff.SupplyDelta != 0 {
				loc.ApplySupplyEvent(id, eff.SupplyDelta)
			}
			if eff.DemandDelta != 0 {
				loc.ApplyDemandEvent(id, eff.DemandDelta)
			}
			if !seen[id] {
				seen[id] = true
				res.Touched = append(res.Touched, id)
			}
		}
	}

	slog.Debug("economic event applied", "event", d.ID, "station", loc.StationID,
		"touched", len(res.Touched), "skipped", res.Skipped)
	return res
}

func (e *Engine) targets(loc *economy.MarketLocation, eff Effect) []string {
	if eff.Commodity != "" {
		if _, ok := loc.Entry(eff.Commodity); ok {
			return []string{eff.Commodity}
		}
		return nil
	}
	var out []string
	for _, entry := range loc.Entries() {
		if entry.Category() == eff.Category {
			out = append(out, entry.CommodityID())
		}
	}
	return out
}
