package economy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/profile"
)

func testCatalog(t *testing.T) *commodity.Catalog {
	t.Helper()
	cat, err := commodity.NewCatalog([]commodity.Commodity{
		{ID: "ore_iron", Category: "minerals", BasePrice: 10},
		{ID: "grain", Category: "food", BasePrice: 4},
		{ID: "medicine", Category: "medical", BasePrice: 40, Rarity: commodity.RarityUncommon},
	})
	require.NoError(t, err)
	return cat
}

func testProfiles(t *testing.T) *profile.Registry {
	t.Helper()
	reg, err := profile.NewRegistry(nil, []profile.FactionProfile{
		{FactionID: "union", BuyPriceFactor: 1, SellPriceFactor: 1, SupplyBias: 0.2, DemandBias: -0.1},
	})
	require.NoError(t, err)
	return reg
}

func testDescriptor() StationDescriptor {
	return StationDescriptor{
		StationID:     "station:alpha",
		FactionID:     "union",
		EconProfileID: "mining",
		Seed:          1234,
		Stock:         []string{"ore_iron", "grain", "medicine"},
	}
}

func TestNewMarketLocationSeedsDeterministically(t *testing.T) {
	cat, reg := testCatalog(t), testProfiles(t)

	a, err := NewMarketLocation(testDescriptor(), cat, reg, DefaultLimits())
	require.NoError(t, err)
	b, err := NewMarketLocation(testDescriptor(), cat, reg, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, a.State(), b.State())
	assert.Equal(t, []string{"ore_iron", "grain", "medicine"}, a.Commodities())

	limits := DefaultLimits()
	for _, e := range a.Entries() {
		// Baseline 100 × (1 ± bias) within ± jitter.
		assert.InDelta(t, 120, e.Supply(), 120*limits.SeedJitter+1e-9, e.CommodityID())
		assert.InDelta(t, 90, e.Demand(), 90*limits.SeedJitter+1e-9, e.CommodityID())
		assert.Greater(t, e.CurrentPrice(), 0.0)
	}

	other := testDescriptor()
	other.Seed = 99
	c, err := NewMarketLocation(other, cat, reg, DefaultLimits())
	require.NoError(t, err)
	assert.NotEqual(t, a.State(), c.State())
}

func TestNewMarketLocationSkipsUnknownCommodity(t *testing.T) {
	desc := testDescriptor()
	desc.Stock = []string{"ore_iron", "unobtainium", "grain", "ore_iron"}

	loc, err := NewMarketLocation(desc, testCatalog(t), testProfiles(t), DefaultLimits())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCommodity)
	assert.ErrorIs(t, err, commodity.ErrNotFound)
	require.NotNil(t, loc)

	assert.Equal(t, []string{"ore_iron", "grain"}, loc.Commodities())
	_, ok := loc.Entry("unobtainium")
	assert.False(t, ok)
}

func TestBaselineIgnoresStockOrder(t *testing.T) {
	cat, reg := testCatalog(t), testProfiles(t)

	a, err := NewMarketLocation(testDescriptor(), cat, reg, DefaultLimits())
	require.NoError(t, err)

	shuffled := testDescriptor()
	shuffled.Stock = []string{"unobtainium", "medicine", "ore_iron", "grain"}
	b, err := NewMarketLocation(shuffled, cat, reg, DefaultLimits())
	require.Error(t, err)

	for _, id := range a.Commodities() {
		want, _ := a.Entry(id)
		got, ok := b.Entry(id)
		require.True(t, ok, id)
		assert.Equal(t, want.Supply(), got.Supply(), id)
		assert.Equal(t, want.Demand(), got.Demand(), id)
	}
}

func TestApplyEventsClamp(t *testing.T) {
	loc, err := NewMarketLocation(testDescriptor(), testCatalog(t), testProfiles(t), DefaultLimits())
	require.NoError(t, err)

	assert.True(t, loc.ApplySupplyEvent("ore_iron", -1_000_000))
	e, _ := loc.Entry("ore_iron")
	assert.Equal(t, 0.0, e.Supply())

	assert.True(t, loc.ApplyDemandEvent("ore_iron", 1_000_000))
	assert.Equal(t, DefaultLimits().MaxLevel, e.Demand())

	before := loc.State()
	assert.False(t, loc.ApplySupplyEvent("unobtainium", 10))
	assert.False(t, loc.ApplyDemandEvent("unobtainium", 10))
	assert.Equal(t, before, loc.State())
}

func TestRecordPriceBoundsHistory(t *testing.T) {
	limits := DefaultLimits()
	limits.HistoryCapacity = 3
	loc, err := NewMarketLocation(testDescriptor(), testCatalog(t), testProfiles(t), limits)
	require.NoError(t, err)

	for _, p := range []float64{1, 2, 3, 4, 5} {
		loc.RecordPrice("grain", p)
	}
	e, _ := loc.Entry("grain")
	assert.Equal(t, []float64{3, 4, 5}, e.History())
	assert.Equal(t, 5.0, e.CurrentPrice())
	assert.Equal(t, 4.0, e.AveragePrice())

	loc.RecordPrice("grain", -8)
	assert.Equal(t, limits.MinPrice, e.CurrentPrice())
}

func TestDecayMovesTowardEquilibrium(t *testing.T) {
	loc, err := NewMarketLocation(testDescriptor(), testCatalog(t), testProfiles(t), DefaultLimits())
	require.NoError(t, err)

	loc.ApplySupplyEvent("ore_iron", 500)
	e, _ := loc.Entry("ore_iron")
	start := e.Supply()
	loc.Decay(0.1)
	assert.InDelta(t, start+(100-start)*0.1, e.Supply(), 1e-9)
	assert.Less(t, e.Supply(), start)
}

func TestStateRoundTrip(t *testing.T) {
	cat := testCatalog(t)
	loc, err := NewMarketLocation(testDescriptor(), cat, testProfiles(t), DefaultLimits())
	require.NoError(t, err)
	loc.ApplySupplyEvent("grain", 37.5)
	for i := 0; i < 40; i++ {
		loc.RecordPrice("ore_iron", 10+float64(i)*0.1)
	}

	raw, err := json.Marshal(loc.State())
	require.NoError(t, err)

	var st LocationState
	require.NoError(t, json.Unmarshal(raw, &st))
	restored, err := Restore(st, cat, DefaultLimits())
	require.NoError(t, err)

	again, err := json.Marshal(restored.State())
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
	assert.Equal(t, loc.State(), restored.State())
}

func TestRestoreRejectsUnknownCommodity(t *testing.T) {
	st := LocationState{
		StationID: "station:beta",
		Entries:   []EntryState{{CommodityID: "ghost", SupplyLevel: 1, DemandLevel: 1, CurrentPrice: 1}},
	}
	_, err := Restore(st, testCatalog(t), DefaultLimits())
	assert.ErrorIs(t, err, ErrInvalidCommodity)
}

func TestPriceHistoryRing(t *testing.T) {
	h := NewPriceHistory(2)
	_, ok := h.Last()
	assert.False(t, ok)
	assert.Empty(t, h.Values())

	h.Push(1)
	h.Push(2)
	h.Push(3)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 2, h.Cap())
	assert.Equal(t, []float64{2, 3}, h.Values())
	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, 3.0, last)
}
