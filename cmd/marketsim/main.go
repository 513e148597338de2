// Command marketsim runs the Starmarket economic simulation.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/talgya/starmarket/internal/api"
	"github.com/talgya/starmarket/internal/clock"
	"github.com/talgya/starmarket/internal/config"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/engine"
	"github.com/talgya/starmarket/internal/entropy"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/ledger"
	"github.com/talgya/starmarket/internal/market"
	"github.com/talgya/starmarket/internal/persistence"
)

const metaSeed = "seed"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starmarket economic simulation core")

	configPath := envOr("MARKETSIM_CONFIG", "marketsim.yaml")
	dbPath := envOr("MARKETSIM_DB", "data/marketsim.db")
	apiPort := 8080
	if p := os.Getenv("MARKETSIM_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			slog.Error("invalid MARKETSIM_PORT", "value", p, "error", err)
			os.Exit(1)
		}
		apiPort = n
	}

	// ── Configuration ────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	comp, err := cfg.Build()
	if err != nil {
		slog.Error("failed to build config", "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"path", configPath,
		"commodities", comp.Catalog.Len(),
		"stations", len(cfg.Stations),
		"events", len(cfg.Events),
	)

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(dbPath), 0755)
	db, err := persistence.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	seed, err := resolveSeed(db, cfg.Seed)
	if err != nil {
		slog.Error("failed to resolve seed", "error", err)
		os.Exit(1)
	}
	cfg.Simulation.Seed = seed
	cfg.Market.Seed = seed
	slog.Info("simulation seed", "seed", seed)

	// ── Markets: restore saved state, create anything new ────────────
	accounts := ledger.NewMemory()
	registry := market.NewRegistry(comp.Catalog, comp.Profiles, comp.Pricer, comp.Events, accounts, cfg.Limits, cfg.Market)

	startTick, err := restoreMarkets(db, registry)
	if err != nil {
		slog.Error("failed to restore markets", "error", err)
		os.Exit(1)
	}
	created := createMarkets(registry, cfg.Stations)

	slog.Info("markets ready",
		"markets", registry.Len(),
		"created", created,
		"tick", humanize.Comma(int64(startTick)),
		"sim_time", clock.SimTime(startTick),
	)

	// ── Simulation ────────────────────────────────────────────────────
	sched := engine.NewScheduler(registry, comp.Profiles, comp.Pricer, comp.Events, cfg.Simulation, startTick)
	sched.OnEvent = func(tick uint64, res events.Result) {
		if err := db.LogEvent(tick, res); err != nil {
			slog.Warn("event log write failed", "event", res.EventID, "error", err)
		}
	}

	// Save on fresh start only (restored markets are already saved).
	if startTick == 0 {
		if err := db.SaveSimulation(registry, startTick); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	clk := clock.New(startTick)
	clk.TicksPerHour = cfg.Simulation.TicksPerHour
	clk.MaxJumpTicks = cfg.Simulation.MaxJumpTicks
	clk.Subscribe(sched)

	// Auto-save every sim-day.
	clk.OnDay = func(tick uint64) {
		if err := db.SaveSimulation(registry, sched.CurrentTick()); err != nil {
			slog.Error("daily save failed", "error", err)
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("MARKETSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("MARKETSIM_ADMIN_KEY not set, admin POST endpoints disabled")
	}

	apiServer := &api.Server{
		Registry:  registry,
		Scheduler: sched,
		Clock:     clk,
		Catalog:   comp.Catalog,
		Ledger:    accounts,
		DB:        db,
		Port:      apiPort,
		AdminKey:  adminKey,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\nStarmarket is open: %d markets trading %d commodities.\n", registry.Len(), comp.Catalog.Len())
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	if startTick > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", startTick, clock.SimTime(startTick))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	clk.Run(ctx)
	slog.Info("shutting down", "tick", sched.CurrentTick())

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveSimulation(registry, sched.CurrentTick()); err != nil {
		slog.Error("final save failed", "error", err)
	}

	stats := sched.Stats()
	fmt.Printf("Simulation stopped after %s ticks (%s events). Market state saved.\n",
		humanize.Comma(int64(stats.Ticks)), humanize.Comma(int64(stats.EventsFired)))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveSeed picks the root seed: a previously saved seed wins so restored
// markets continue the same streams, then MARKETSIM_SEED, then the config,
// then a fresh random seed. The chosen seed is saved.
func resolveSeed(db *persistence.DB, configured int64) (int64, error) {
	saved, err := db.GetMeta(metaSeed)
	switch {
	case err == nil:
		return strconv.ParseInt(saved, 10, 64)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, err
	}

	var seed int64
	switch env := os.Getenv("MARKETSIM_SEED"); {
	case env != "":
		if n, perr := strconv.ParseInt(env, 10, 64); perr == nil {
			seed = n
		} else {
			seed = entropy.SeedFromString(env)
		}
	case configured != 0:
		seed = configured
	default:
		seed = entropy.CryptoSeed()
	}
	return seed, db.SaveMeta(metaSeed, strconv.FormatInt(seed, 10))
}

func restoreMarkets(db *persistence.DB, registry *market.Registry) (uint64, error) {
	has, err := db.HasState()
	if err != nil || !has {
		return 0, err
	}
	slog.Info("found saved market state, loading...")

	states, err := db.LoadMarkets()
	if err != nil {
		return 0, err
	}
	if err := registry.Restore(states); err != nil {
		return 0, err
	}
	return db.LastTick()
}

// createMarkets registers every configured station not already restored.
func createMarkets(registry *market.Registry, stations []economy.StationDescriptor) int {
	created := 0
	for _, st := range stations {
		err := registry.CreateMarketLocation(st)
		switch {
		case errors.Is(err, market.ErrDuplicateStation):
			continue
		case errors.Is(err, economy.ErrInvalidCommodity):
			slog.Warn("station stocks unknown commodities", "station", st.StationID, "error", err)
		case err != nil:
			slog.Error("market creation failed", "station", st.StationID, "error", err)
			continue
		}
		created++
	}
	return created
}
