package engine

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/ledger"
	"github.com/talgya/starmarket/internal/market"
	"github.com/talgya/starmarket/internal/pricing"
	"github.com/talgya/starmarket/internal/profile"
)

type world struct {
	sched  *Scheduler
	reg    *market.Registry
	ledger *ledger.Memory
}

func newWorld(t *testing.T, cfg Config, econ []profile.EconomicProfile) world {
	t.Helper()
	return newWorldAt(t, cfg, econ, 0)
}

func newWorldAt(t *testing.T, cfg Config, econ []profile.EconomicProfile, start uint64) world {
	t.Helper()
	cat, err := commodity.NewCatalog([]commodity.Commodity{
		{ID: "ore_iron", Category: "minerals", BasePrice: 10},
		{ID: "grain", Category: "food", BasePrice: 4},
		{ID: "medicine", Category: "medical", BasePrice: 40, Rarity: commodity.RarityRare},
	})
	require.NoError(t, err)
	if econ == nil {
		econ = []profile.EconomicProfile{
			{ID: "mining", Production: map[string]float64{"minerals": 5}, Consumption: map[string]float64{"food": 3}},
			{ID: "agri", Production: map[string]float64{"food": 4}, Consumption: map[string]float64{"medical": 1}},
		}
	}
	profiles, err := profile.NewRegistry(econ, []profile.FactionProfile{
		{FactionID: "union", BuyPriceFactor: 1.1, SellPriceFactor: 0.9, TaxRate: 0.05},
	})
	require.NoError(t, err)
	ev, err := events.NewEngine([]events.Definition{
		{ID: "ore_strike", Weight: 2, Profiles: []string{"mining"}, Effects: []events.Effect{{Commodity: "ore_iron", SupplyDelta: 80}}},
		{ID: "blight", Weight: 1, Effects: []events.Effect{{Category: "food", SupplyDelta: -50, DemandDelta: 20}}},
	}, cat)
	require.NoError(t, err)

	pricer := pricing.NewEngine(cat, pricing.DefaultConfig())
	l := ledger.NewMemory()
	reg := market.NewRegistry(cat, profiles, pricer, ev, l, economy.DefaultLimits(), market.DefaultConfig())
	for _, d := range []economy.StationDescriptor{
		{StationID: "station:alpha", FactionID: "union", EconProfileID: "mining", Seed: 11, Stock: []string{"ore_iron", "grain", "medicine"}},
		{StationID: "station:beta", FactionID: "union", EconProfileID: "agri", Seed: 12, Stock: []string{"grain", "medicine"}},
	} {
		require.NoError(t, reg.CreateMarketLocation(d))
	}
	require.NoError(t, cfg.Validate())
	return world{sched: NewScheduler(reg, profiles, pricer, ev, cfg, start), reg: reg, ledger: l}
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.EventChancePerTick = 0
	return cfg
}

func TestTickAppliesProductionThenDecay(t *testing.T) {
	w := newWorld(t, quietConfig(), nil)
	before, err := w.reg.Snapshot("station:alpha")
	require.NoError(t, err)

	w.sched.OnTick(1)

	after, err := w.reg.Snapshot("station:alpha")
	require.NoError(t, err)

	b, _ := before.Entry("ore_iron")
	a, _ := after.Entry("ore_iron")
	produced := b.SupplyLevel + 5
	assert.InDelta(t, produced+(100-produced)*0.05, a.SupplyLevel, 1e-9)
	assert.InDelta(t, b.DemandLevel+(100-b.DemandLevel)*0.05, a.DemandLevel, 1e-9)

	bg, _ := before.Entry("grain")
	ag, _ := after.Entry("grain")
	consumed := bg.DemandLevel + 3
	assert.InDelta(t, consumed+(100-consumed)*0.05, ag.DemandLevel, 1e-9)
	assert.Equal(t, uint64(1), w.reg.Tick())
}

func TestPriceRecomputeCadence(t *testing.T) {
	w := newWorld(t, quietConfig(), nil)

	w.sched.OnSimTick(3)
	snap, _ := w.reg.Snapshot("station:alpha")
	e, _ := snap.Entry("ore_iron")
	assert.Len(t, e.PriceHistory, 1, "only the opening price before tick 4")

	w.sched.OnSimTick(1)
	snap, _ = w.reg.Snapshot("station:alpha")
	e, _ = snap.Entry("ore_iron")
	assert.Len(t, e.PriceHistory, 2)
	assert.Equal(t, e.PriceHistory[1], e.CurrentPrice)
	assert.Equal(t, uint64(1), w.sched.Stats().PriceRecomputes)

	w.sched.OnSimTick(400)
	snap, _ = w.reg.Snapshot("station:alpha")
	e, _ = snap.Entry("ore_iron")
	assert.Len(t, e.PriceHistory, economy.DefaultLimits().HistoryCapacity)
}

func TestSupplyConvergesUnderProduction(t *testing.T) {
	w := newWorld(t, quietConfig(), nil)
	w.sched.OnSimTick(2000)

	snap, _ := w.reg.Snapshot("station:alpha")
	e, _ := snap.Entry("ore_iron")
	// Fixed point of s' = (s+p) + (eq-(s+p))·r is s = eq + p(1-r)/r.
	want := 100 + 5*(1-0.05)/0.05
	assert.InDelta(t, want, e.SupplyLevel, 1e-6)
}

func TestSameSeedSameHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventChancePerTick = 0.2
	a := newWorld(t, cfg, nil)
	b := newWorld(t, cfg, nil)

	a.sched.OnSimTick(500)
	b.sched.OnSimTick(500)

	assert.Equal(t, a.reg.States(), b.reg.States())
	assert.Equal(t, a.sched.Stats(), b.sched.Stats())
	assert.Positive(t, a.sched.Stats().EventsFired)
}

func TestResumedRunDrawsFreshStream(t *testing.T) {
	cfg := DefaultConfig()
	fresh := newWorldAt(t, cfg, nil, 0)
	again := newWorldAt(t, cfg, nil, 0)
	resumed := newWorldAt(t, cfg, nil, 500)

	a, b, c := fresh.sched.rng.Int63(), again.sched.rng.Int63(), resumed.sched.rng.Int63()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBigJumpReplaysEveryTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventChancePerTick = 0.1
	jumped := newWorld(t, cfg, nil)
	stepped := newWorld(t, cfg, nil)

	jumped.sched.OnBigJump(2.5)
	stepped.sched.OnSimTick(150)

	assert.Equal(t, uint64(150), jumped.sched.CurrentTick())
	assert.Equal(t, stepped.reg.States(), jumped.reg.States())
	assert.Equal(t, stepped.sched.Stats(), jumped.sched.Stats())
}

func TestBigJumpTruncatesAndIgnoresNonPositive(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxJumpTicks = 10
	w := newWorld(t, cfg, nil)

	w.sched.OnBigJump(-3)
	w.sched.OnBigJump(math.NaN())
	assert.Zero(t, w.sched.CurrentTick())

	w.sched.OnBigJump(100)
	assert.Equal(t, uint64(10), w.sched.CurrentTick())

	w.sched.OnBigJump(0.01) // 0.6 ticks floors to none
	assert.Equal(t, uint64(10), w.sched.CurrentTick())
}

func TestMalformedMarketIsSkippedOthersContinue(t *testing.T) {
	econ := []profile.EconomicProfile{
		{ID: "mining", Production: map[string]float64{"minerals": math.NaN()}},
		{ID: "agri", Production: map[string]float64{"food": 4}},
	}
	w := newWorld(t, quietConfig(), econ)
	alphaBefore, _ := w.reg.Snapshot("station:alpha")
	betaBefore, _ := w.reg.Snapshot("station:beta")

	w.sched.OnSimTick(4)

	alphaAfter, _ := w.reg.Snapshot("station:alpha")
	betaAfter, _ := w.reg.Snapshot("station:beta")
	assert.Equal(t, alphaBefore, alphaAfter)
	assert.NotEqual(t, betaBefore, betaAfter)
	assert.Equal(t, uint64(4), w.sched.Stats().MarketsSkipped)
}

func TestEventsFireAndReport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventChancePerTick = 1
	w := newWorld(t, cfg, nil)

	var fired []events.Result
	w.sched.OnEvent = func(_ uint64, res events.Result) { fired = append(fired, res) }
	w.sched.OnSimTick(5)

	assert.Len(t, fired, 10, "two markets, one event each per tick")
	for _, res := range fired {
		if res.StationID == "station:beta" {
			assert.Equal(t, "blight", res.EventID, "ore_strike is restricted to mining")
		}
	}
}

func TestTradesInterleaveWithTicks(t *testing.T) {
	w := newWorld(t, DefaultConfig(), nil)
	w.ledger.Open("pilot", decimal.NewFromInt(1_000_000), 1_000_000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := w.reg.ExecuteTrade(context.Background(), "pilot", "station:alpha", "grain", 1, true)
			assert.NoError(t, err)
		}
	}()
	w.sched.OnSimTick(200)
	wg.Wait()

	snap, _ := w.reg.Snapshot("station:alpha")
	for _, e := range snap.Entries {
		assert.GreaterOrEqual(t, e.SupplyLevel, 0.0)
		assert.LessOrEqual(t, e.SupplyLevel, economy.DefaultLimits().MaxLevel)
		assert.Greater(t, e.CurrentPrice, 0.0)
	}
	n, _ := w.ledger.Cargo("pilot", "grain")
	assert.Equal(t, 200, n)
}
