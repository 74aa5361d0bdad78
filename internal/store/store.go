// Package store persists water logs and user preferences in SQLite.
// Timestamps are stored as fixed-offset strings so day-range queries reduce
// to lexicographic comparison.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type WaterLog struct {
	ID       string
	AmountMl int
	LoggedAt string
	// CreatedAt orders same-timestamp entries for undo.
	CreatedAt string
}

type Prefs struct {
	BottleMl    int
	DailyGoalMl int
}

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS water_logs (
		id TEXT PRIMARY KEY,
		amount_ml INTEGER NOT NULL,
		logged_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_water_logs_logged_at ON water_logs(logged_at);

	CREATE TABLE IF NOT EXISTS prefs (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		bottle_ml INTEGER NOT NULL,
		daily_goal_ml INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// AddLog inserts one entry. loggedAt and createdAt are preformatted
// fixed-offset timestamps from the clock adapter.
func (s *Store) AddLog(amountMl int, loggedAt, createdAt string) (WaterLog, error) {
	entry := WaterLog{
		ID:        uuid.NewString(),
		AmountMl:  amountMl,
		LoggedAt:  loggedAt,
		CreatedAt: createdAt,
	}
	_, err := s.db.Exec(
		`INSERT INTO water_logs (id, amount_ml, logged_at, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.AmountMl, entry.LoggedAt, entry.CreatedAt,
	)
	if err != nil {
		return WaterLog{}, fmt.Errorf("insert water log: %w", err)
	}
	return entry, nil
}

// SumBetween totals amounts with start <= logged_at < end.
func (s *Store) SumBetween(start, end string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(amount_ml) FROM water_logs WHERE logged_at >= ? AND logged_at < ?`,
		start, end,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum water logs: %w", err)
	}
	return int(total.Int64), nil
}

// LogsBetween returns entries with start <= logged_at < end, newest first.
func (s *Store) LogsBetween(start, end string) ([]WaterLog, error) {
	rows, err := s.db.Query(
		`SELECT id, amount_ml, logged_at, created_at FROM water_logs
		 WHERE logged_at >= ? AND logged_at < ?
		 ORDER BY logged_at DESC, created_at DESC`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query water logs: %w", err)
	}
	defer rows.Close()

	var logs []WaterLog
	for rows.Next() {
		var l WaterLog
		if err := rows.Scan(&l.ID, &l.AmountMl, &l.LoggedAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan water log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// UndoLast deletes the most recent n entries logged at or after start and
// returns the removed entries (newest first) and the total ml removed.
func (s *Store) UndoLast(n int, start string) ([]WaterLog, int, error) {
	rows, err := s.db.Query(
		`SELECT id, amount_ml, logged_at, created_at FROM water_logs
		 WHERE logged_at >= ?
		 ORDER BY logged_at DESC, created_at DESC LIMIT ?`,
		start, n,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query recent logs: %w", err)
	}
	var victims []WaterLog
	for rows.Next() {
		var l WaterLog
		if err := rows.Scan(&l.ID, &l.AmountMl, &l.LoggedAt, &l.CreatedAt); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scan recent log: %w", err)
		}
		victims = append(victims, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	removed := 0
	for _, v := range victims {
		if _, err := s.db.Exec(`DELETE FROM water_logs WHERE id = ?`, v.ID); err != nil {
			return nil, 0, fmt.Errorf("delete water log: %w", err)
		}
		removed += v.AmountMl
	}
	return victims, removed, nil
}

// ReduceLast lowers the most recent entry at or after start by deltaMl,
// deleting it if the amount reaches zero. Reports the updated entry and
// whether any entry existed.
func (s *Store) ReduceLast(deltaMl int, start string) (WaterLog, bool, error) {
	var l WaterLog
	err := s.db.QueryRow(
		`SELECT id, amount_ml, logged_at, created_at FROM water_logs
		 WHERE logged_at >= ?
		 ORDER BY logged_at DESC, created_at DESC LIMIT 1`,
		start,
	).Scan(&l.ID, &l.AmountMl, &l.LoggedAt, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return WaterLog{}, false, nil
	}
	if err != nil {
		return WaterLog{}, false, fmt.Errorf("query last log: %w", err)
	}

	l.AmountMl -= deltaMl
	if l.AmountMl <= 0 {
		if _, err := s.db.Exec(`DELETE FROM water_logs WHERE id = ?`, l.ID); err != nil {
			return WaterLog{}, false, fmt.Errorf("delete water log: %w", err)
		}
		l.AmountMl = 0
		return l, true, nil
	}

	if _, err := s.db.Exec(`UPDATE water_logs SET amount_ml = ? WHERE id = ?`, l.AmountMl, l.ID); err != nil {
		return WaterLog{}, false, fmt.Errorf("update water log: %w", err)
	}
	return l, true, nil
}

// GetPrefs returns stored preferences, falling back to the given defaults
// when none have been saved yet.
func (s *Store) GetPrefs(defaults Prefs) (Prefs, error) {
	var p Prefs
	err := s.db.QueryRow(`SELECT bottle_ml, daily_goal_ml FROM prefs WHERE id = 1`).Scan(&p.BottleMl, &p.DailyGoalMl)
	if err == sql.ErrNoRows {
		return defaults, nil
	}
	if err != nil {
		return Prefs{}, fmt.Errorf("query prefs: %w", err)
	}
	return p, nil
}

func (s *Store) SetPrefs(p Prefs) error {
	_, err := s.db.Exec(
		`INSERT INTO prefs (id, bottle_ml, daily_goal_ml) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET bottle_ml = excluded.bottle_ml, daily_goal_ml = excluded.daily_goal_ml`,
		p.BottleMl, p.DailyGoalMl,
	)
	if err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	return nil
}
