// Package history keeps a local SQLite log of readings and threshold events.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sweeney/saio-monitor/internal/logic"
)

// Recorder stores readings and events. Errors are logged by the caller and
// never stop the control loop.
type Recorder interface {
	Record(r logic.Reading) error
	RecordEvent(e logic.Event) error
	Close() error
}

// Compile-time interface check
var _ Recorder = (*SQLiteStore)(nil)

const (
	// DefaultRetention keeps a week of history.
	DefaultRetention = 7 * 24 * time.Hour

	pruneInterval = time.Hour

	schemaSQL = `
	CREATE TABLE IF NOT EXISTS readings (
		timestamp       INTEGER NOT NULL,
		voltage_mv      INTEGER,
		current_ma      INTEGER NOT NULL,
		battery_percent INTEGER,
		cpu_temp_c      REAL,
		battery_state   TEXT NOT NULL,
		thermal_state   TEXT NOT NULL,
		mode_info       INTEGER NOT NULL,
		wifi_mode       INTEGER NOT NULL,
		mute_mode       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(timestamp);

	CREATE TABLE IF NOT EXISTS events (
		timestamp INTEGER NOT NULL,
		type      TEXT NOT NULL,
		value     REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp);
	`

	insertReadingSQL = `
	INSERT INTO readings (
		timestamp, voltage_mv, current_ma, battery_percent, cpu_temp_c,
		battery_state, thermal_state, mode_info, wifi_mode, mute_mode
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertEventSQL = `INSERT INTO events (timestamp, type, value) VALUES (?, ?, ?)`
)

// SQLiteStore is a Recorder backed by a single SQLite file.
type SQLiteStore struct {
	db        *sql.DB
	logger    zerolog.Logger
	retention time.Duration
	lastPrune time.Time
}

// Open opens (creating if needed) the database at path and migrates the schema.
// A retention of zero disables pruning.
func Open(path string, retention time.Duration, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info().Str("path", path).Dur("retention", retention).Msg("history store initialized")
	return &SQLiteStore{db: db, logger: logger, retention: retention}, nil
}

// Record inserts one reading. Quantities that have never been read are
// stored as NULL. Old rows are pruned at most once per hour.
func (s *SQLiteStore) Record(r logic.Reading) error {
	var mv, pct sql.NullInt64
	if r.HasVoltage {
		mv = sql.NullInt64{Int64: int64(r.VoltageMV), Valid: true}
		pct = sql.NullInt64{Int64: int64(r.BatteryPercent), Valid: true}
	}
	var temp sql.NullFloat64
	if r.HasTemperature {
		temp = sql.NullFloat64{Float64: r.CPUTempC, Valid: true}
	}

	_, err := s.db.Exec(insertReadingSQL,
		r.Timestamp.UnixMilli(), mv, r.CurrentMA, pct, temp,
		string(r.Battery), string(r.Thermal), r.ModeInfo, r.WifiMode, r.MuteMode,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	if s.retention > 0 && r.Timestamp.Sub(s.lastPrune) >= pruneInterval {
		s.lastPrune = r.Timestamp
		n, err := s.Prune(r.Timestamp.Add(-s.retention))
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Debug().Int64("rows", n).Msg("pruned history")
		}
	}
	return nil
}

// RecordEvent inserts one threshold event.
func (s *SQLiteStore) RecordEvent(e logic.Event) error {
	if _, err := s.db.Exec(insertEventSQL, e.Timestamp.UnixMilli(), string(e.Type), e.Value); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Prune deletes readings and events recorded before cutoff and returns the
// number of rows removed.
func (s *SQLiteStore) Prune(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"readings", "events"} {
		res, err := tx.Exec("DELETE FROM "+table+" WHERE timestamp < ?", cutoff.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}

// EventRow is one stored threshold event.
type EventRow struct {
	Timestamp time.Time
	Type      logic.EventType
	Value     float64
}

// RecentEvents returns up to limit events, newest first.
func (s *SQLiteStore) RecentEvents(limit int) ([]EventRow, error) {
	rows, err := s.db.Query(`SELECT timestamp, type, value FROM events ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var ms int64
		var typ string
		var row EventRow
		if err := rows.Scan(&ms, &typ, &row.Value); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		row.Timestamp = time.UnixMilli(ms).UTC()
		row.Type = logic.EventType(typ)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountReadings returns the number of stored readings.
func (s *SQLiteStore) CountReadings() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
