// Package storage provides SQLite-backed persistence for loaded datasets.
// It satisfies cache.Store so parsed sources survive between runs.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/survivorship/internal/models"
)

const dateLayout = "2006-01-02"

// Storage wraps a SQLite database holding cached datasets and their events.
type Storage struct {
	db          *sql.DB
	maxDatasets int
}

// DatasetInfo summarizes one cached dataset without its events.
type DatasetInfo struct {
	Key         string    `json:"key"`
	RunID       string    `json:"run_id"`
	Source      string    `json:"source"`
	ContentHash string    `json:"content_hash"`
	Events      int       `json:"events"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/survivorship/cache.db.
func New(maxDatasets int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "survivorship", "cache.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxDatasets: maxDatasets}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	// A cap lowered since the last run applies on open.
	if err := s.RotateDatasets(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			key             TEXT PRIMARY KEY,
			run_id          TEXT NOT NULL,
			source          TEXT NOT NULL,
			content_hash    TEXT NOT NULL,
			rows_read       INTEGER NOT NULL DEFAULT 0,
			loaded          INTEGER NOT NULL DEFAULT 0,
			filtered        INTEGER NOT NULL DEFAULT 0,
			missing_id      INTEGER NOT NULL DEFAULT 0,
			dropped         TEXT NOT NULL DEFAULT '{}',
			samples         TEXT NOT NULL DEFAULT '[]',
			loaded_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			dataset_key     TEXT NOT NULL REFERENCES datasets(key) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			entity_id       TEXT NOT NULL,
			name            TEXT NOT NULL,
			event_type      TEXT NOT NULL,
			event_date      TEXT NOT NULL,
			manager         TEXT,
			depositary      TEXT,
			PRIMARY KEY (dataset_key, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_loaded_at ON datasets(loaded_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Put stores ds under key, replacing any previous entry, then enforces the
// dataset cap.
func (s *Storage) Put(key string, ds *models.Dataset) error {
	if key == "" {
		return fmt.Errorf("dataset key must not be empty")
	}
	dropped, err := json.Marshal(ds.Report.Dropped)
	if err != nil {
		return fmt.Errorf("failed to marshal drop counts: %w", err)
	}
	samples, err := json.Marshal(ds.Report.Samples)
	if err != nil {
		return fmt.Errorf("failed to marshal drop samples: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM datasets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO datasets
			(key, run_id, source, content_hash, rows_read, loaded, filtered,
			 missing_id, dropped, samples, loaded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		key, ds.RunID, ds.Report.Source, ds.Report.ContentHash,
		ds.Report.RowsRead, ds.Report.Loaded, ds.Report.Filtered, ds.Report.MissingEntityID,
		string(dropped), string(samples), ds.LoadedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO events
			(dataset_key, seq, entity_id, name, event_type, event_date, manager, depositary)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range ds.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid event %d: %w", i, err)
		}
		if _, err := stmt.Exec(key, i, e.EntityID, e.Name, string(e.Type),
			e.Date.Format(dateLayout), e.Manager, e.Depositary); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", i, err)
		}
	}

	if err := s.rotate(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the dataset stored under key. A missing key is not an error.
func (s *Storage) Get(key string) (*models.Dataset, bool, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source, content_hash, rows_read, loaded, filtered,
		       missing_id, dropped, samples, loaded_at
		FROM datasets WHERE key = ?`, key)

	var ds models.Dataset
	var dropped, samples string
	var loadedAtNano int64
	err := row.Scan(
		&ds.RunID, &ds.Report.Source, &ds.Report.ContentHash,
		&ds.Report.RowsRead, &ds.Report.Loaded, &ds.Report.Filtered, &ds.Report.MissingEntityID,
		&dropped, &samples, &loadedAtNano,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load dataset: %w", err)
	}
	if err := json.Unmarshal([]byte(dropped), &ds.Report.Dropped); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal drop counts: %w", err)
	}
	if ds.Report.Dropped == nil {
		ds.Report.Dropped = make(map[models.DropReason]int)
	}
	if err := json.Unmarshal([]byte(samples), &ds.Report.Samples); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal drop samples: %w", err)
	}
	ds.LoadedAt = time.Unix(0, loadedAtNano).UTC()

	events, err := s.events(key)
	if err != nil {
		return nil, false, err
	}
	ds.Events = events
	return &ds, true, nil
}

func (s *Storage) events(key string) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT entity_id, name, event_type, event_date, manager, depositary
		FROM events WHERE dataset_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Datasets lists cached datasets, newest first.
func (s *Storage) Datasets() ([]DatasetInfo, error) {
	rows, err := s.db.Query(`
		SELECT d.key, d.run_id, d.source, d.content_hash, d.loaded_at,
		       (SELECT COUNT(*) FROM events e WHERE e.dataset_key = d.key)
		FROM datasets d ORDER BY d.loaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	infos := []DatasetInfo{}
	for rows.Next() {
		var info DatasetInfo
		var loadedAtNano int64
		if err := rows.Scan(&info.Key, &info.RunID, &info.Source, &info.ContentHash,
			&loadedAtNano, &info.Events); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		info.LoadedAt = time.Unix(0, loadedAtNano).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// RotateDatasets keeps at most maxDatasets newest datasets by loaded_at.
// Cascading deletes remove their events.
func (s *Storage) RotateDatasets() error {
	return s.rotate(s.db)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Storage) rotate(db execer) error {
	if s.maxDatasets <= 0 {
		return nil
	}
	_, err := db.Exec(`
		DELETE FROM datasets WHERE key NOT IN (
			SELECT key FROM datasets ORDER BY loaded_at DESC LIMIT ?
		)`, s.maxDatasets)
	if err != nil {
		return fmt.Errorf("failed to rotate datasets: %w", err)
	}
	return nil
}

// Clear removes every cached dataset.
func (s *Storage) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM datasets`); err != nil {
		return fmt.Errorf("failed to clear datasets: %w", err)
	}
	return nil
}

func scanEvent(scan func(...any) error) (models.Event, error) {
	var e models.Event
	var typ, date string
	var manager, depositary sql.NullString
	if err := scan(&e.EntityID, &e.Name, &typ, &date, &manager, &depositary); err != nil {
		return e, err
	}
	t, err := models.ParseEventType(typ)
	if err != nil {
		return e, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return e, fmt.Errorf("bad event date %q: %w", date, err)
	}
	e = models.NewEvent(e.EntityID, e.Name, t, d)
	e.Manager = manager.String
	e.Depositary = depositary.String
	return e, nil
}
