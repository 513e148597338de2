// Package market owns every station market and is the only entry point for
// outside callers: price quotes, trades, debug events and snapshots.
package market

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/entropy"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/ledger"
	"github.com/talgya/starmarket/internal/pricing"
	"github.com/talgya/starmarket/internal/profile"
)

var (
	ErrDuplicateStation    = errors.New("station already has a market")
	ErrMarketNotFound      = errors.New("market not found")
	ErrCommodityNotStocked = errors.New("commodity not stocked")

	// Re-exported so callers only need this package.
	ErrInsufficientResources = ledger.ErrInsufficientResources
	ErrInvalidQuantity       = pricing.ErrInvalidQuantity
)

// Config holds registry tuning.
type Config struct {
	Seed              int64   `yaml:"seed"`                // Root seed for quote variance
	TradeSupplyImpact float64 `yaml:"trade_supply_impact"` // Supply moved per traded unit
	TradeDemandImpact float64 `yaml:"trade_demand_impact"` // Demand moved per traded unit
}

// DefaultConfig returns the standard trade impacts.
func DefaultConfig() Config {
	return Config{Seed: 1, TradeSupplyImpact: 1.0, TradeDemandImpact: 0.5}
}

// Registry owns all MarketLocations, keyed by station id.
type Registry struct {
	catalog  *commodity.Catalog
	profiles *profile.Registry
	pricer   *pricing.Engine
	events   *events.Engine
	ledger   ledger.Ledger
	limits   economy.Limits
	cfg      Config

	mu      sync.RWMutex
	markets map[string]*economy.MarketLocation
	order   []string // registration order

	tick atomic.Uint64
}

// NewRegistry wires a registry from immutable configuration objects.
func NewRegistry(catalog *commodity.Catalog, profiles *profile.Registry, pricer *pricing.Engine,
	ev *events.Engine, l ledger.Ledger, limits economy.Limits, cfg Config) *Registry {
	return &Registry{
		catalog:  catalog,
		profiles: profiles,
		pricer:   pricer,
		events:   ev,
		ledger:   l,
		limits:   limits,
		cfg:      cfg,
		markets:  make(map[string]*economy.MarketLocation),
	}
}

// Tick returns the simulation tick the registry prices against.
func (r *Registry) Tick() uint64 { return r.tick.Load() }

// SetTick is called by the scheduler as ticks are processed.
func (r *Registry) SetTick(t uint64) { r.tick.Store(t) }

// Len returns the number of markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CreateMarketLocation builds and registers a market for a new station, then
// records an opening reference price for every entry. If some stocked ids
// were unknown the market is still registered and the returned error wraps
// economy.ErrInvalidCommodity.
func (r *Registry) CreateMarketLocation(desc economy.StationDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.markets[desc.StationID]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateStation, desc.StationID)
	}

	loc, createErr := economy.NewMarketLocation(desc, r.catalog, r.profiles, r.limits)

	econ := r.profiles.EconProfile(loc.EconProfileID)
	faction := r.profiles.FactionProfile(loc.FactionID)
	for _, e := range loc.Entries() {
		req := pricing.RequestFor(e, econ, faction, true, 1)
		req.OmitTax = true
		q, err := r.pricer.Price(req, r.varianceSource(loc.StationID, e.CommodityID()))
		if err != nil {
			return fmt.Errorf("opening price %s/%s: %w", loc.StationID, e.CommodityID(), err)
		}
		loc.RecordPrice(e.CommodityID(), q.UnitPrice)
	}

	r.markets[desc.StationID] = loc
	r.order = append(r.order, desc.StationID)
	slog.Debug("market created", "station", desc.StationID, "entries", len(loc.Commodities()))
	return createErr
}

// Restore registers markets from saved state, replacing nothing: a station
// already present fails with ErrDuplicateStation.
func (r *Registry) Restore(states []economy.LocationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := make([]*economy.MarketLocation, 0, len(states))
	for _, st := range states {
		if _, dup := r.markets[st.StationID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateStation, st.StationID)
		}
		loc, err := economy.Restore(st, r.catalog, r.limits)
		if err != nil {
			return err
		}
		restored = append(restored, loc)
	}
	for _, loc := range restored {
		r.markets[loc.StationID] = loc
		r.order = append(r.order, loc.StationID)
	}
	return nil
}

func (r *Registry) market(stationID string) (*economy.MarketLocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.markets[stationID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMarketNotFound, stationID)
	}
	return loc, nil
}

// Locations returns every market in registration order. Callers must lock a
// location before touching it.
func (r *Registry) Locations() []*economy.MarketLocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*economy.MarketLocation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// varianceSource keys the variance draw by station, commodity and tick, so a
// quote and the trade that follows it in the same tick price identically.
func (r *Registry) varianceSource(stationID, commodityID string) entropy.Rand {
	return entropy.Keyed(r.cfg.Seed, stationID, commodityID, strconv.FormatUint(r.Tick(), 10))
}

// quote prices against a locked location.
func (r *Registry) quote(loc *economy.MarketLocation, commodityID string, isBuy bool, quantity int) (pricing.Quote, error) {
	if quantity < 1 {
		return pricing.Quote{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	e, ok := loc.Entry(commodityID)
	if !ok {
		if !r.catalog.Has(commodityID) {
			return pricing.Quote{}, fmt.Errorf("%w: %w: %q", ErrCommodityNotStocked, commodity.ErrNotFound, commodityID)
		}
		return pricing.Quote{}, fmt.Errorf("%w: %q at %q", ErrCommodityNotStocked, commodityID, loc.StationID)
	}
	req := pricing.RequestFor(e,
		r.profiles.EconProfile(loc.EconProfileID),
		r.profiles.FactionProfile(loc.FactionID),
		isBuy, quantity)
	return r.pricer.Price(req, r.varianceSource(loc.StationID, commodityID))
}

// CalculatePrice quotes a trade without executing it.
func (r *Registry) CalculatePrice(commodityID, stationID string, isBuy bool, quantity int) (pricing.Quote, error) {
	loc, err := r.market(stationID)
	if err != nil {
		return pricing.Quote{}, err
	}
	loc.Lock()
	defer loc.Unlock()
	return r.quote(loc, commodityID, isBuy, quantity)
}

// ExplainPrice returns the per-stage multipliers behind CalculatePrice.
func (r *Registry) ExplainPrice(commodityID, stationID string, isBuy bool, quantity int) (pricing.Breakdown, error) {
	loc, err := r.market(stationID)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	loc.Lock()
	defer loc.Unlock()
	if _, err := r.quote(loc, commodityID, isBuy, quantity); err != nil {
		return pricing.Breakdown{}, err
	}
	e, _ := loc.Entry(commodityID)
	req := pricing.RequestFor(e,
		r.profiles.EconProfile(loc.EconProfileID),
		r.profiles.FactionProfile(loc.FactionID),
		isBuy, quantity)
	return r.pricer.Breakdown(req, r.varianceSource(loc.StationID, commodityID))
}

// ApplySupplyEvent shifts supply at one market (debug/testing hook).
func (r *Registry) ApplySupplyEvent(stationID, commodityID string, delta float64) error {
	loc, err := r.market(stationID)
	if err != nil {
		return err
	}
	loc.Lock()
	defer loc.Unlock()
	loc.ApplySupplyEvent(commodityID, delta)
	return nil
}

// ApplyDemandEvent shifts demand at one market (debug/testing hook).
func (r *Registry) ApplyDemandEvent(stationID, commodityID string, delta float64) error {
	loc, err := r.market(stationID)
	if err != nil {
		return err
	}
	loc.Lock()
	defer loc.Unlock()
	loc.ApplyDemandEvent(commodityID, delta)
	return nil
}

// ForceEvent applies a named random event to one market immediately.
func (r *Registry) ForceEvent(eventID, stationID string) (events.Result, error) {
	loc, err := r.market(stationID)
	if err != nil {
		return events.Result{}, err
	}
	loc.Lock()
	defer loc.Unlock()
	return r.events.Force(loc, eventID)
}

// Snapshot returns a read-only copy of one market.
func (r *Registry) Snapshot(stationID string) (economy.LocationState, error) {
	loc, err := r.market(stationID)
	if err != nil {
		return economy.LocationState{}, err
	}
	loc.Lock()
	defer loc.Unlock()
	return loc.State(), nil
}

// States returns copies of every market in registration order. This is the
// shape handed to the save/load provider.
func (r *Registry) States() []economy.LocationState {
	locs := r.Locations()
	out := make([]economy.LocationState, 0, len(locs))
	for _, loc := range locs {
		loc.Lock()
		out = append(out, loc.State())
		loc.Unlock()
	}
	return out
}
