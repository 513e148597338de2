package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleStates() []economy.LocationState {
	return []economy.LocationState{
		{
			StationID:     "kessler_deep",
			FactionID:     "union",
			EconProfileID: "mining",
			Entries: []economy.EntryState{
				{CommodityID: "ore_iron", SupplyLevel: 140.25, DemandLevel: 80, CurrentPrice: 6.3, PriceHistory: []float64{6.1, 6.2, 6.3}},
				{CommodityID: "grain", SupplyLevel: 40, DemandLevel: 160.5, CurrentPrice: 8.9, PriceHistory: []float64{8.9}},
			},
		},
		{
			StationID:     "verdance",
			FactionID:     "union",
			EconProfileID: "agricultural",
			Entries: []economy.EntryState{
				{CommodityID: "grain", SupplyLevel: 220, DemandLevel: 60, CurrentPrice: 1.4, PriceHistory: []float64{}},
			},
		},
	}
}

type staticSource []economy.LocationState

func (s staticSource) States() []economy.LocationState { return s }

func TestSaveAndLoadMarkets(t *testing.T) {
	db := openTestDB(t)

	has, err := db.HasState()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, db.SaveMarkets(sampleStates()))
	has, err = db.HasState()
	require.NoError(t, err)
	assert.True(t, has)

	loaded, err := db.LoadMarkets()
	require.NoError(t, err)
	assert.Equal(t, sampleStates(), loaded)

	// Full replace: a second save drops markets not in the new set.
	require.NoError(t, db.SaveMarkets(sampleStates()[:1]))
	loaded, err = db.LoadMarkets()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "kessler_deep", loaded[0].StationID)
}

func TestLoadedStateRestores(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMarkets(sampleStates()))
	loaded, err := db.LoadMarkets()
	require.NoError(t, err)

	catalog, err := commodity.NewCatalog([]commodity.Commodity{
		{ID: "ore_iron", Category: "minerals", BasePrice: 10},
		{ID: "grain", Category: "food", BasePrice: 4},
	})
	require.NoError(t, err)

	loc, err := economy.Restore(loaded[0], catalog, economy.DefaultLimits())
	require.NoError(t, err)
	e, ok := loc.Entry("ore_iron")
	require.True(t, ok)
	assert.Equal(t, 140.25, e.Supply())
	assert.Equal(t, []float64{6.1, 6.2, 6.3}, e.History())
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetMeta("missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	tick, err := db.LastTick()
	require.NoError(t, err)
	assert.Zero(t, tick)

	require.NoError(t, db.SaveSimulation(staticSource(sampleStates()), 4321))
	tick, err = db.LastTick()
	require.NoError(t, err)
	assert.Equal(t, uint64(4321), tick)

	require.NoError(t, db.SaveMeta("note", "a"))
	require.NoError(t, db.SaveMeta("note", "b"))
	v, err := db.GetMeta("note")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestEventLog(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.LogEvent(10, events.Result{EventID: "ore_strike", StationID: "kessler_deep", Touched: []string{"ore_iron"}}))
	require.NoError(t, db.LogEvent(20, events.Result{EventID: "crop_blight", StationID: "verdance", Touched: []string{"grain"}}))
	require.NoError(t, db.LogEvent(30, events.Result{EventID: "outbreak", StationID: "kessler_deep", Touched: []string{}}))

	all, err := db.RecentEvents("", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(30), all[0].Tick)
	assert.Equal(t, "outbreak", all[0].EventID)

	kessler, err := db.RecentEvents("kessler_deep", 1)
	require.NoError(t, err)
	require.Len(t, kessler, 1)
	assert.Equal(t, "outbreak", kessler[0].EventID)

	verdance, err := db.RecentEvents("verdance", 10)
	require.NoError(t, err)
	require.Len(t, verdance, 1)
	assert.Equal(t, []string{"grain"}, verdance[0].Touched)
}

func TestLoadKeepsSaveOrder(t *testing.T) {
	db := openTestDB(t)
	states := sampleStates()
	states[0], states[1] = states[1], states[0]
	require.NoError(t, db.SaveMarkets(states))

	loaded, err := db.LoadMarkets()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "verdance", loaded[0].StationID)
	assert.Equal(t, "kessler_deep", loaded[1].StationID)
}
