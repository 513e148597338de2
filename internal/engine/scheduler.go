// Package engine advances every market once per simulation tick: production
// and consumption, decay toward equilibrium, periodic price recompute and
// random economic events.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/entropy"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/market"
	"github.com/talgya/starmarket/internal/pricing"
	"github.com/talgya/starmarket/internal/profile"
)

// Config holds the simulation cadence constants.
type Config struct {
	Seed                int64   `yaml:"seed"`                  // Scheduler RNG seed
	TicksPerHour        int     `yaml:"ticks_per_hour"`        // Converts big-jump hours into ticks
	DecayRate           float64 `yaml:"decay_rate"`            // Fraction of the gap to equilibrium closed per tick
	EventChancePerTick  float64 `yaml:"event_chance_per_tick"` // Per market
	PriceRecomputeEvery int     `yaml:"price_recompute_every"` // Ticks between reference price updates
	MaxJumpTicks        int     `yaml:"max_jump_ticks"`        // Cap on ticks replayed for one jump
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		Seed:                1,
		TicksPerHour:        60,
		DecayRate:           0.05,
		EventChancePerTick:  0.01,
		PriceRecomputeEvery: 4,
		MaxJumpTicks:        100_000,
	}
}

// Validate checks the cadence constants.
func (c Config) Validate() error {
	switch {
	case c.TicksPerHour < 1:
		return fmt.Errorf("simulation: ticks_per_hour must be >= 1")
	case c.DecayRate < 0 || c.DecayRate > 1:
		return fmt.Errorf("simulation: decay_rate must be in [0, 1]")
	case c.EventChancePerTick < 0 || c.EventChancePerTick > 1:
		return fmt.Errorf("simulation: event_chance_per_tick must be in [0, 1]")
	case c.PriceRecomputeEvery < 1:
		return fmt.Errorf("simulation: price_recompute_every must be >= 1")
	case c.MaxJumpTicks < 1:
		return fmt.Errorf("simulation: max_jump_ticks must be >= 1")
	}
	return nil
}

// Stats are cumulative counters since the scheduler was created.
type Stats struct {
	Ticks           uint64 `json:"ticks"`
	PriceRecomputes uint64 `json:"price_recomputes"`
	EventsFired     uint64 `json:"events_fired"`
	MarketsSkipped  uint64 `json:"markets_skipped"`
}

// Scheduler consumes clock pushes and advances all markets.
// It is driven from a single goroutine; trades may run concurrently and are
// serialized against it by each market's lock.
type Scheduler struct {
	registry *market.Registry
	profiles *profile.Registry
	pricer   *pricing.Engine
	events   *events.Engine
	cfg      Config

	rng *rand.Rand

	mu    sync.Mutex // guards tick and stats for concurrent readers
	tick  uint64
	stats Stats

	// OnEvent, if set, is called for every fired random event.
	OnEvent func(tick uint64, res events.Result)
}

// NewScheduler creates a scheduler starting after tick start. Its random
// stream is keyed by seed and start, so a resumed run does not replay the
// draws of the first session.
func NewScheduler(reg *market.Registry, profiles *profile.Registry, pricer *pricing.Engine, ev *events.Engine, cfg Config, start uint64) *Scheduler {
	reg.SetTick(start)
	return &Scheduler{
		registry: reg,
		profiles: profiles,
		pricer:   pricer,
		events:   ev,
		cfg:      cfg,
		rng:      entropy.NewSource(entropy.Mix(cfg.Seed, strconv.FormatUint(start, 10))),
		tick:     start,
	}
}

// CurrentTick returns the most recently processed tick.
func (s *Scheduler) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// OnSimTick advances the simulation by ticksElapsed ticks, one at a time.
func (s *Scheduler) OnSimTick(ticksElapsed int) {
	for i := 0; i < ticksElapsed; i++ {
		s.OnTick(s.CurrentTick() + 1)
	}
}

// OnBigJump replays a skipped span of hours tick by tick, so event rolls and
// decay curvature match continuous play.
func (s *Scheduler) OnBigJump(hours float64) {
	if !(hours > 0) {
		return
	}
	ticks := math.Floor(hours * float64(s.cfg.TicksPerHour))
	if ticks > float64(s.cfg.MaxJumpTicks) {
		slog.Warn("time jump truncated", "hours", hours, "ticks", humanize.Commaf(ticks), "max", s.cfg.MaxJumpTicks)
		ticks = float64(s.cfg.MaxJumpTicks)
	}
	n := int(ticks)
	slog.Info("replaying time jump", "hours", hours, "ticks", humanize.Comma(int64(n)), "from_tick", s.CurrentTick())
	s.OnSimTick(n)
}

// OnTick processes one tick for every market in registration order.
func (s *Scheduler) OnTick(tick uint64) {
	s.mu.Lock()
	s.tick = tick
	s.mu.Unlock()
	s.registry.SetTick(tick)
	recompute := tick%uint64(s.cfg.PriceRecomputeEvery) == 0

	var delta Stats
	for _, loc := range s.registry.Locations() {
		res, fired, err := s.processMarket(loc, recompute)
		if err != nil {
			delta.MarketsSkipped++
			slog.Warn("market tick skipped", "station", loc.StationID, "tick", tick, "error", err)
			continue
		}
		if fired {
			delta.EventsFired++
			slog.Info("economic event", "event", res.EventID, "station", res.StationID, "tick", tick, "touched", res.Touched)
			if s.OnEvent != nil {
				s.OnEvent(tick, res)
			}
		}
	}
	if recompute {
		delta.PriceRecomputes++
	}
	delta.Ticks++

	s.mu.Lock()
	s.stats.Ticks += delta.Ticks
	s.stats.PriceRecomputes += delta.PriceRecomputes
	s.stats.EventsFired += delta.EventsFired
	s.stats.MarketsSkipped += delta.MarketsSkipped
	stats := s.stats
	s.mu.Unlock()

	if day := uint64(s.cfg.TicksPerHour) * 24; tick%day == 0 {
		slog.Info("daily market report",
			"tick", humanize.Comma(int64(tick)),
			"markets", s.registry.Len(),
			"events_fired", humanize.Comma(int64(stats.EventsFired)),
			"skipped", stats.MarketsSkipped,
		)
	}
}

// processMarket runs the four tick steps on one market under its lock. A
// failure in one market is returned, never propagated to the others.
func (s *Scheduler) processMarket(loc *economy.MarketLocation, recompute bool) (res events.Result, fired bool, err error) {
	loc.Lock()
	defer loc.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	econ := s.profiles.EconProfile(loc.EconProfileID)
	entries := loc.Entries()

	// Validate before mutating so a bad profile never half-applies.
	for _, e := range entries {
		p, c := econ.ProductionRate(e.Category()), econ.ConsumptionRate(e.Category())
		if !finite(p) || !finite(c) {
			return res, false, fmt.Errorf("profile %q: non-finite rate for category %q", econ.ID, e.Category())
		}
		if !s.pricer.Knows(e.CommodityID()) {
			return res, false, fmt.Errorf("entry %q not in catalog", e.CommodityID())
		}
	}

	// 1. Production and consumption.
	for _, e := range entries {
		if p := econ.ProductionRate(e.Category()); p != 0 {
			loc.ApplySupplyEvent(e.CommodityID(), p)
		}
		if c := econ.ConsumptionRate(e.Category()); c != 0 {
			loc.ApplyDemandEvent(e.CommodityID(), c)
		}
	}

	// 2. Decay toward equilibrium.
	loc.Decay(s.cfg.DecayRate)

	// 3. Reference price recompute.
	if recompute {
		faction := s.profiles.FactionProfile(loc.FactionID)
		prices := make([]float64, len(entries))
		for i, e := range entries {
			req := pricing.RequestFor(e, econ, faction, true, 1)
			req.OmitTax = true
			q, perr := s.pricer.Price(req, s.rng)
			if perr != nil {
				return res, false, fmt.Errorf("price %s: %w", e.CommodityID(), perr)
			}
			prices[i] = q.UnitPrice
		}
		for i, e := range entries {
			loc.RecordPrice(e.CommodityID(), prices[i])
		}
	}

	// 4. Event roll.
	if s.rng.Float64() < s.cfg.EventChancePerTick {
		res, fired = s.events.RollAndApply(loc, loc.EconProfileID, s.rng)
	}
	return res, fired, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
