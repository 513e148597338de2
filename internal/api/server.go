// Package api provides the HTTP API for observing and driving the markets.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/starmarket/internal/clock"
	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/engine"
	"github.com/talgya/starmarket/internal/events"
	"github.com/talgya/starmarket/internal/ledger"
	"github.com/talgya/starmarket/internal/market"
	"github.com/talgya/starmarket/internal/persistence"
)

// Server serves market state over HTTP.
type Server struct {
	Registry  *market.Registry
	Scheduler *engine.Scheduler
	Clock     *clock.Clock
	Catalog   *commodity.Catalog
	Ledger    *ledger.Memory
	DB        *persistence.DB // Optional; event log and snapshot need it
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.

	// TradeLimiter throttles trades per client IP. Nil uses the default.
	TradeLimiter *RateLimiter
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	tradeLimiter := s.TradeLimiter
	if tradeLimiter == nil {
		tradeLimiter = NewRateLimiter(120, time.Minute)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/commodities", s.handleCommodities)
	mux.HandleFunc("/api/v1/markets", s.handleMarkets)
	mux.HandleFunc("/api/v1/market/", s.handleMarketDetail)
	mux.HandleFunc("/api/v1/quote", s.handleQuote)
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/trade", s.adminOnly(RateLimitMiddleware(tradeLimiter, s.handleTrade)))
	mux.HandleFunc("/api/v1/account", s.adminOnly(s.handleAccount))
	mux.HandleFunc("/api/v1/event", s.adminOnly(s.handleForceEvent))
	mux.HandleFunc("/api/v1/jump", s.adminOnly(s.handleJump))
	mux.HandleFunc("/api/v1/supply", s.adminOnly(s.handleSupply))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(addr, s.Handler()); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no MARKETSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tick := s.Scheduler.CurrentTick()
	writeJSON(w, map[string]any{
		"name":        "Starmarket",
		"tick":        tick,
		"sim_time":    clock.SimTime(tick),
		"speed":       s.Clock.Speed(),
		"markets":     s.Registry.Len(),
		"commodities": s.Catalog.Len(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Scheduler.Stats())
}

func (s *Server) handleCommodities(w http.ResponseWriter, r *http.Request) {
	out := make([]commodity.Commodity, 0, s.Catalog.Len())
	for _, id := range s.Catalog.IDs() {
		c, _ := s.Catalog.Get(id)
		out = append(out, c)
	}
	writeJSON(w, out)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	type marketSummary struct {
		StationID     string `json:"station_id"`
		FactionID     string `json:"faction_id"`
		EconProfileID string `json:"econ_profile_id"`
		Commodities   int    `json:"commodities"`
	}

	states := s.Registry.States()
	out := make([]marketSummary, 0, len(states))
	for _, st := range states {
		out = append(out, marketSummary{
			StationID:     st.StationID,
			FactionID:     st.FactionID,
			EconProfileID: st.EconProfileID,
			Commodities:   len(st.Entries),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	stationID := strings.TrimPrefix(r.URL.Path, "/api/v1/market/")
	if stationID == "" {
		http.Error(w, "station id required", http.StatusBadRequest)
		return
	}
	st, err := s.Registry.Snapshot(stationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// handleQuote prices a trade without executing it:
// GET /api/v1/quote?station=&commodity=&qty=&side=buy|sell[&explain=true]
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty := 1
	if v := q.Get("qty"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "qty must be an integer", http.StatusBadRequest)
			return
		}
		qty = n
	}
	isBuy, err := parseSide(q.Get("side"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if q.Get("explain") == "true" {
		b, err := s.Registry.ExplainPrice(q.Get("commodity"), q.Get("station"), isBuy, qty)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, b)
		return
	}

	quote, err := s.Registry.CalculatePrice(q.Get("commodity"), q.Get("station"), isBuy, qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, quote)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	recs, err := s.DB.RecentEvents(r.URL.Query().Get("station"), limit)
	if err != nil {
		slog.Error("event log query failed", "error", err)
		http.Error(w, "event log unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Clock.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Clock.Speed()})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Agent     string `json:"agent"`
		Station   string `json:"station"`
		Commodity string `json:"commodity"`
		Quantity  int    `json:"quantity"`
		Side      string `json:"side"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	isBuy, err := parseSide(req.Side)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	receipt, err := s.Registry.ExecuteTrade(ctx, req.Agent, req.Station, req.Commodity, req.Quantity, isBuy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		http.Error(w, "ledger not available", http.StatusServiceUnavailable)
		return
	}
	agent := r.URL.Query().Get("agent")
	if r.Method == http.MethodPost {
		var req struct {
			Agent    string          `json:"agent"`
			Credits  decimal.Decimal `json:"credits"`
			Capacity int             `json:"capacity"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Agent == "" || req.Credits.IsNegative() || req.Capacity < 0 {
			http.Error(w, "agent, non-negative credits and capacity required", http.StatusBadRequest)
			return
		}
		s.Ledger.Open(req.Agent, req.Credits, req.Capacity)
		slog.Info("account opened", "agent", req.Agent, "credits", req.Credits.StringFixed(2), "capacity", req.Capacity)
		agent = req.Agent
	}

	bal, err := s.Ledger.Balance(agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"agent": agent, "credits": bal})
}

func (s *Server) handleForceEvent(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Event   string `json:"event"`
		Station string `json:"station"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.Registry.ForceEvent(req.Event, req.Station)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("event forced", "event", res.EventID, "station", res.StationID, "touched", res.Touched)
	if s.DB != nil {
		if err := s.DB.LogEvent(s.Registry.Tick(), res); err != nil {
			slog.Warn("event log write failed", "error", err)
		}
	}
	writeJSON(w, res)
}

func (s *Server) handleJump(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Hours float64 `json:"hours"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !(req.Hours > 0) {
		http.Error(w, "hours must be positive", http.StatusBadRequest)
		return
	}
	ticks, err := s.Clock.Jump(req.Hours)
	if err != nil {
		http.Error(w, fmt.Sprintf("hours must be at most %g", s.Clock.MaxJumpHours()), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"hours": req.Hours,
		"ticks": ticks,
		"tick":  s.Scheduler.CurrentTick(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Station     string  `json:"station"`
		Commodity   string  `json:"commodity"`
		SupplyDelta float64 `json:"supply_delta"`
		DemandDelta float64 `json:"demand_delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SupplyDelta != 0 {
		if err := s.Registry.ApplySupplyEvent(req.Station, req.Commodity, req.SupplyDelta); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.DemandDelta != 0 {
		if err := s.Registry.ApplyDemandEvent(req.Station, req.Commodity, req.DemandDelta); err != nil {
			writeError(w, err)
			return
		}
	}
	st, err := s.Registry.Snapshot(req.Station)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, ok := st.Entry(req.Commodity)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q at %q", market.ErrCommodityNotStocked, req.Commodity, req.Station))
		return
	}
	writeJSON(w, entry)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	tick := s.Scheduler.CurrentTick()
	if err := s.DB.SaveSimulation(s.Registry, tick); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    tick,
		"message": "snapshot saved",
	})
}

func parseSide(side string) (isBuy bool, err error) {
	switch strings.ToLower(side) {
	case "", "buy":
		return true, nil
	case "sell":
		return false, nil
	}
	return false, fmt.Errorf("side must be buy or sell, got %q", side)
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrMarketNotFound),
		errors.Is(err, market.ErrCommodityNotStocked),
		errors.Is(err, events.ErrEventNotFound),
		errors.Is(err, ledger.ErrUnknownAgent):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrInsufficientResources):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
