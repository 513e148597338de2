package economy

import (
	"fmt"

	"github.com/talgya/starmarket/internal/commodity"
)

// EntryState is the serializable shape of one MarketEntry.
type EntryState struct {
	CommodityID  string    `json:"commodity_id"`
	SupplyLevel  float64   `json:"supply_level"`
	DemandLevel  float64   `json:"demand_level"`
	CurrentPrice float64   `json:"current_price"`
	PriceHistory []float64 `json:"price_history"`
}

// LocationState is the serializable shape of a MarketLocation. It is also the
// read-only snapshot handed to UI callers.
type LocationState struct {
	StationID     string       `json:"station_id"`
	FactionID     string       `json:"faction_id"`
	EconProfileID string       `json:"econ_profile_id"`
	Entries       []EntryState `json:"entries"`
}

// Entry finds the state of one commodity.
func (s LocationState) Entry(commodityID string) (EntryState, bool) {
	for _, e := range s.Entries {
		if e.CommodityID == commodityID {
			return e, true
		}
	}
	return EntryState{}, false
}

// State copies the market into its serializable shape.
func (m *MarketLocation) State() LocationState {
	st := LocationState{
		StationID:     m.StationID,
		FactionID:     m.FactionID,
		EconProfileID: m.EconProfileID,
		Entries:       make([]EntryState, 0, len(m.order)),
	}
	for _, id := range m.order {
		e := m.entries[id]
		st.Entries = append(st.Entries, EntryState{
			CommodityID:  e.commodityID,
			SupplyLevel:  e.supply,
			DemandLevel:  e.demand,
			CurrentPrice: e.price,
			PriceHistory: e.history.Values(),
		})
	}
	return st
}

// Restore rebuilds a MarketLocation from saved state. Values are taken as
// saved, except that a history longer than the configured capacity keeps only
// its newest prices. An entry naming a commodity missing from the catalog
// fails the whole restore.
func Restore(st LocationState, catalog *commodity.Catalog, limits Limits) (*MarketLocation, error) {
	loc := &MarketLocation{
		StationID:     st.StationID,
		FactionID:     st.FactionID,
		EconProfileID: st.EconProfileID,
		entries:       make(map[string]*MarketEntry, len(st.Entries)),
		limits:        limits,
	}
	for _, es := range st.Entries {
		c, err := catalog.Get(es.CommodityID)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w: %w", st.StationID, ErrInvalidCommodity, err)
		}
		if _, dup := loc.entries[es.CommodityID]; dup {
			return nil, fmt.Errorf("restore %s: duplicate entry %q", st.StationID, es.CommodityID)
		}
		h := NewPriceHistory(limits.HistoryCapacity)
		for _, p := range es.PriceHistory {
			h.Push(p)
		}
		loc.entries[es.CommodityID] = &MarketEntry{
			commodityID: es.CommodityID,
			category:    c.Category,
			supply:      es.SupplyLevel,
			demand:      es.DemandLevel,
			price:       es.CurrentPrice,
			history:     h,
		}
		loc.order = append(loc.order, es.CommodityID)
	}
	return loc, nil
}
