// Package store persists controller run history to SQLite: one row per
// tick, one row per notable event (mode changes, failure detections,
// handshake steps). History is for operators and reports; the controller
// never reads it back.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one controller session from startup to shutdown or emergency stop.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	FinalMode  string
}

// Tick is one recorded control cycle.
type Tick struct {
	ID        int64
	RunID     string
	Seq       int64
	Level     float64
	Steam     float64
	Mode      string
	PumpsOpen int // bitmask, bit i = pump i commanded open
	ValveOpen bool
	Timestamp time.Time
}

// Event is one notable occurrence within a run.
type Event struct {
	ID         int64
	RunID      string
	Seq        int64
	Kind       string // "mode_change", "failure_detection", "repaired", "emergency_stop"
	Peripheral string // "level", "steam", "pump_0", "pump_control_2", ...
	Detail     string
	Timestamp  time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the history database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite requires single-connection mode for :memory: databases
	// (each pool connection gets its own in-memory DB otherwise).
	// For file-based DBs this also avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    final_mode TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS ticks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    seq INTEGER NOT NULL,
    level REAL NOT NULL,
    steam REAL NOT NULL,
    mode TEXT NOT NULL,
    pumps_open INTEGER NOT NULL DEFAULT 0,
    valve_open INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    seq INTEGER NOT NULL,
    kind TEXT NOT NULL,
    peripheral TEXT DEFAULT '',
    detail TEXT DEFAULT '',
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticks_run ON ticks(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a controller session.
func (s *Store) CreateRun(id string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// FinishRun records a session's end and final mode.
func (s *Store) FinishRun(id, finalMode string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, final_mode = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), finalMode, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// RecordTick appends one control cycle.
func (s *Store) RecordTick(runID string, seq int64, level, steam float64, mode string, pumpsOpen int, valveOpen bool) error {
	v := 0
	if valveOpen {
		v = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO ticks (run_id, seq, level, steam, mode, pumps_open, valve_open, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, level, steam, mode, pumpsOpen, v, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordEvent appends one notable occurrence.
func (s *Store) RecordEvent(runID string, seq int64, kind, peripheral, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO events (run_id, seq, kind, peripheral, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, seq, kind, peripheral, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetRun fetches one run, or nil when absent.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, started_at, finished_at, final_mode FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, started_at, finished_at, final_mode FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// QueryTicks returns a run's ticks in sequence order.
func (s *Store) QueryTicks(runID string) ([]Tick, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, seq, level, steam, mode, pumps_open, valve_open, timestamp
		 FROM ticks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []Tick
	for rows.Next() {
		var t Tick
		var v int
		var ts string
		if err := rows.Scan(&t.ID, &t.RunID, &t.Seq, &t.Level, &t.Steam, &t.Mode, &t.PumpsOpen, &v, &ts); err != nil {
			return nil, err
		}
		t.ValveOpen = v != 0
		t.Timestamp = parseTime(ts)
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// QueryEvents returns a run's events in sequence order.
func (s *Store) QueryEvents(runID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, seq, kind, peripheral, detail, timestamp
		 FROM events WHERE run_id = ? ORDER BY seq, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Kind, &e.Peripheral, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var started string
	var finished, finalMode sql.NullString
	if err := row.Scan(&r.ID, &started, &finished, &finalMode); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	r.FinalMode = finalMode.String
	return &r, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
