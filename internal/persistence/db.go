// Package persistence provides SQLite-based storage for market state.
// Market entries are stored as JSON in the shape economy.LocationState defines.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/events"
)

// MetaLastTick is the meta key holding the tick of the last save.
const MetaLastTick = "last_tick"

// DB wraps a SQLite connection for market persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS markets (
		station_id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		faction_id TEXT NOT NULL,
		econ_profile_id TEXT NOT NULL,
		entries_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		station_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		touched_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_market_events_tick ON market_events(tick);
	CREATE INDEX IF NOT EXISTS idx_market_events_station ON market_events(station_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type marketRow struct {
	StationID     string `db:"station_id"`
	Seq           int    `db:"seq"`
	FactionID     string `db:"faction_id"`
	EconProfileID string `db:"econ_profile_id"`
	EntriesJSON   string `db:"entries_json"`
}

// SaveMarkets writes all market states to the database (full replace).
func (db *DB) SaveMarkets(states []economy.LocationState) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM markets"); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO markets
		(station_id, seq, faction_id, econ_profile_id, entries_json)
		VALUES (:station_id, :seq, :faction_id, :econ_profile_id, :entries_json)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, st := range states {
		entriesJSON, err := json.Marshal(st.Entries)
		if err != nil {
			return fmt.Errorf("encode market %s: %w", st.StationID, err)
		}
		row := marketRow{
			StationID:     st.StationID,
			Seq:           i,
			FactionID:     st.FactionID,
			EconProfileID: st.EconProfileID,
			EntriesJSON:   string(entriesJSON),
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert market %s: %w", st.StationID, err)
		}
	}

	return tx.Commit()
}

// LoadMarkets reads every saved market state in the order it was saved.
func (db *DB) LoadMarkets() ([]economy.LocationState, error) {
	var rows []marketRow
	if err := db.conn.Select(&rows,
		"SELECT station_id, seq, faction_id, econ_profile_id, entries_json FROM markets ORDER BY seq",
	); err != nil {
		return nil, fmt.Errorf("select markets: %w", err)
	}

	states := make([]economy.LocationState, 0, len(rows))
	for _, r := range rows {
		st := economy.LocationState{
			StationID:     r.StationID,
			FactionID:     r.FactionID,
			EconProfileID: r.EconProfileID,
		}
		if err := json.Unmarshal([]byte(r.EntriesJSON), &st.Entries); err != nil {
			return nil, fmt.Errorf("decode market %s: %w", r.StationID, err)
		}
		states = append(states, st)
	}
	return states, nil
}

// HasState reports whether any market has been saved.
func (db *DB) HasState() (bool, error) {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM markets"); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveMeta stores a key-value pair in simulation metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key returns sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}

// LastTick returns the saved tick, or 0 when nothing has been saved.
func (db *DB) LastTick() (uint64, error) {
	v, err := db.GetMeta(MetaLastTick)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// EventRecord is one fired economic event as stored.
type EventRecord struct {
	Tick      uint64   `db:"tick" json:"tick"`
	StationID string   `db:"station_id" json:"station_id"`
	EventID   string   `db:"event_id" json:"event_id"`
	Touched   []string `db:"-" json:"touched"`

	TouchedJSON string `db:"touched_json" json:"-"`
}

// LogEvent appends a fired event.
func (db *DB) LogEvent(tick uint64, res events.Result) error {
	touched, err := json.Marshal(res.Touched)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT INTO market_events (tick, station_id, event_id, touched_json) VALUES (?, ?, ?, ?)",
		tick, res.StationID, res.EventID, string(touched),
	)
	return err
}

// RecentEvents returns the most recent N events, newest first. An empty
// stationID returns events from every market.
func (db *DB) RecentEvents(stationID string, limit int) ([]EventRecord, error) {
	query := "SELECT tick, station_id, event_id, touched_json FROM market_events"
	args := []any{}
	if stationID != "" {
		query += " WHERE station_id = ?"
		args = append(args, stationID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var recs []EventRecord
	if err := db.conn.Select(&recs, query, args...); err != nil {
		return nil, err
	}
	for i := range recs {
		if err := json.Unmarshal([]byte(recs[i].TouchedJSON), &recs[i].Touched); err != nil {
			return nil, fmt.Errorf("decode event touched list: %w", err)
		}
	}
	return recs, nil
}

// StateSource is anything that can hand out serializable market state.
type StateSource interface {
	States() []economy.LocationState
}

// SaveSimulation performs a full save of all markets and the current tick.
func (db *DB) SaveSimulation(src StateSource, tick uint64) error {
	states := src.States()
	slog.Info("saving market state", "markets", len(states), "tick", tick)

	if err := db.SaveMarkets(states); err != nil {
		return fmt.Errorf("save markets: %w", err)
	}
	if err := db.SaveMeta(MetaLastTick, strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("market state saved")
	return nil
}
