// Package store persists simulation runs in SQLite.
//
// Each run gets one row in runs, one row per registered code object in
// profile (the cumulative cost the network measured), and its recorded
// spikes and voltage samples in recording order. WAL mode lets a CLI
// inspect runs while another process is still writing one.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/delaynet/pkg/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no run matches an ID or prefix.
	ErrNotFound = errors.New("store: run not found")

	// ErrAmbiguous is returned when an ID prefix matches several runs.
	ErrAmbiguous = errors.New("store: ambiguous run id")
)

// Store manages all SQLite operations with WAL mode for concurrent access.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// timeFormat is fixed-width so that stored times sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// NewRunID returns a fresh random run ID.
func NewRunID() string { return uuid.NewString() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		duration   REAL NOT NULL,
		dt         REAL NOT NULL,
		seed       INTEGER NOT NULL DEFAULT 0,
		wall_time  REAL NOT NULL DEFAULT 0,
		completed  REAL NOT NULL DEFAULT 0,
		ticks      INTEGER NOT NULL DEFAULT 0,
		spikes     INTEGER NOT NULL DEFAULT 0,
		digest     TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		error      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS profile (
		run_id     TEXT NOT NULL REFERENCES runs(id),
		ord        INTEGER NOT NULL,
		codeobject TEXT NOT NULL,
		clock      TEXT NOT NULL,
		calls      INTEGER NOT NULL,
		seconds    REAL NOT NULL,
		PRIMARY KEY (run_id, ord)
	);

	CREATE TABLE IF NOT EXISTS spikes (
		run_id   TEXT NOT NULL REFERENCES runs(id),
		seq      INTEGER NOT NULL,
		grp      TEXT NOT NULL,
		idx      INTEGER NOT NULL,
		timestep INTEGER NOT NULL,
		t        REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS traces (
		run_id   TEXT NOT NULL REFERENCES runs(id),
		seq      INTEGER NOT NULL,
		grp      TEXT NOT NULL,
		idx      INTEGER NOT NULL,
		timestep INTEGER NOT NULL,
		v        REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts r, assigning an ID and start time if they are unset.
func (s *Store) CreateRun(r *model.Run) error {
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = model.RunRunning
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO runs (id, started_at, duration, dt, seed, status)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.StartedAt.UTC().Format(timeFormat), r.Duration, r.Dt, r.Seed, string(r.Status),
		)
		return err
	})
}

// FinishRun stores the outcome fields of r.
func (s *Store) FinishRun(r *model.Run) error {
	return retryOnContention(func() error {
		res, err := s.db.Exec(
			`UPDATE runs SET wall_time = ?, completed = ?, ticks = ?, spikes = ?,
			        digest = ?, status = ?, error = ?
			 WHERE id = ?`,
			r.WallTime, r.Completed, r.Ticks, r.Spikes, r.Digest, string(r.Status), r.Error, r.ID,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		return nil
	})
}

const runColumns = `id, started_at, duration, dt, seed, wall_time, completed, ticks, spikes, digest, status, error`

// GetRun retrieves a run by its full ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ResolveRunID expands a unique ID prefix to the full run ID.
func (s *Store) ResolveRunID(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	rows, err := s.db.Query(`SELECT id FROM runs WHERE id = ? OR substr(id, 1, ?) = ? LIMIT 2`,
		prefix, len(prefix), prefix)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
}

// ListRuns returns the most recent runs first. A zero limit means 20 and a
// negative one means all runs.
func (s *Store) ListRuns(limit int) ([]model.Run, error) {
	if limit == 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*model.Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return &runs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var r model.Run
	var started, status string
	if err := row.Scan(&r.ID, &started, &r.Duration, &r.Dt, &r.Seed, &r.WallTime, &r.Completed,
		&r.Ticks, &r.Spikes, &r.Digest, &status, &r.Error); err != nil {
		return nil, err
	}
	var err error
	r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// InsertProfile stores the per-code-object profile of a run, replacing any
// earlier profile for it.
func (s *Store) InsertProfile(runID string, entries []model.ProfileEntry) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM profile WHERE run_id = ?`, runID); err != nil {
			return err
		}
		stmt, err := tx.Prepare(
			`INSERT INTO profile (run_id, ord, codeobject, clock, calls, seconds) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.Exec(runID, e.Order, e.CodeObject, e.Clock, e.Calls, e.Seconds); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListProfile returns a run's profile, most expensive code object first.
func (s *Store) ListProfile(runID string) ([]model.ProfileEntry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, ord, codeobject, clock, calls, seconds
		 FROM profile WHERE run_id = ? ORDER BY seconds DESC, ord ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProfileEntry
	for rows.Next() {
		var e model.ProfileEntry
		if err := rows.Scan(&e.RunID, &e.Order, &e.CodeObject, &e.Clock, &e.Calls, &e.Seconds); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Spikes and traces
// ---------------------------------------------------------------------------

// InsertSpikes appends recs to a run's spike train, continuing its
// sequence numbers.
func (s *Store) InsertSpikes(runID string, recs []model.SpikeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(seq)+1, 0) FROM spikes WHERE run_id = ?`, runID).Scan(&next); err != nil {
			return err
		}
		stmt, err := tx.Prepare(
			`INSERT INTO spikes (run_id, seq, grp, idx, timestep, t) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range recs {
			if _, err := stmt.Exec(runID, next+int64(i), r.Group, r.Index, int64(r.Timestep), r.T); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSpikes returns a run's spikes in recording order. limit <= 0 returns
// all of them.
func (s *Store) ListSpikes(runID string, limit int) ([]model.SpikeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT grp, idx, timestep, t FROM spikes WHERE run_id = ? ORDER BY seq ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SpikeRecord
	for rows.Next() {
		var r model.SpikeRecord
		var ts int64
		if err := rows.Scan(&r.Group, &r.Index, &ts, &r.T); err != nil {
			return nil, err
		}
		r.Timestep = uint64(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSpikes returns the number of stored spikes of a run.
func (s *Store) CountSpikes(runID string) int64 {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM spikes WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0
	}
	return n
}

// InsertTraces appends voltage samples to a run.
func (s *Store) InsertTraces(runID string, recs []model.TraceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(seq)+1, 0) FROM traces WHERE run_id = ?`, runID).Scan(&next); err != nil {
			return err
		}
		stmt, err := tx.Prepare(
			`INSERT INTO traces (run_id, seq, grp, idx, timestep, v) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range recs {
			if _, err := stmt.Exec(runID, next+int64(i), r.Group, r.Index, int64(r.Timestep), r.V); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTraces returns a run's voltage samples in recording order. limit <= 0
// returns all of them.
func (s *Store) ListTraces(runID string, limit int) ([]model.TraceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT grp, idx, timestep, v FROM traces WHERE run_id = ? ORDER BY seq ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TraceRecord
	for rows.Next() {
		var r model.TraceRecord
		var ts int64
		if err := rows.Scan(&r.Group, &r.Index, &ts, &r.V); err != nil {
			return nil, err
		}
		r.Timestep = uint64(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// inTx runs fn in a transaction, retrying the whole transaction on
// contention.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}
