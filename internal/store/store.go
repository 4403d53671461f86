// Package store persists the engine's externally visible state — per-lane
// label arrays, the trained ensemble, and the training warning — in a SQLite
// project database with embedded schema migrations.
package store

import (
	"bytes"
	"database/sql"
	"embed"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitedriver "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/objectclass/internal/classify"
	"github.com/banshee-data/objectclass/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the project database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a project database and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitedriver.WithInstance(db, &sqlitedriver.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up failed: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateLane registers a lane; an empty id gets a fresh UUID. Returns the id.
func (s *Store) CreateLane(laneID, name string) (string, error) {
	if laneID == "" {
		laneID = uuid.New().String()
	}
	_, err := s.db.Exec(
		`INSERT INTO lanes (lane_id, name, created_at_ns) VALUES (?, ?, ?)
		 ON CONFLICT(lane_id) DO UPDATE SET name = excluded.name`,
		laneID, name, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("create lane: %w", err)
	}
	return laneID, nil
}

// LaneIDs lists registered lanes in creation order.
func (s *Store) LaneIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT lane_id FROM lanes ORDER BY created_at_ns, lane_id`)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveLabels replaces the stored label arrays of one lane. Only nonzero
// labels are stored; arrays are reconstructed dense on load.
func (s *Store) SaveLabels(laneID string, labels map[int]classify.LabelVector) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			monitoring.Logf("warning: failed to rollback label transaction: %v", err)
		}
	}()

	if _, err := tx.Exec(`DELETE FROM labels WHERE lane_id = ?`, laneID); err != nil {
		return fmt.Errorf("clear labels: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO labels (lane_id, time_step, object_id, label) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for t, v := range labels {
		for object, label := range v {
			if label == 0 {
				continue
			}
			if _, err := stmt.Exec(laneID, t, object, label); err != nil {
				return fmt.Errorf("insert label: %w", err)
			}
		}
	}
	return tx.Commit()
}

// LoadLabels reconstructs the label arrays of one lane.
func (s *Store) LoadLabels(laneID string) (map[int]classify.LabelVector, error) {
	rows, err := s.db.Query(
		`SELECT time_step, object_id, label FROM labels WHERE lane_id = ? ORDER BY time_step, object_id`,
		laneID,
	)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	defer rows.Close()

	out := map[int]classify.LabelVector{}
	for rows.Next() {
		var t, object int
		var label uint32
		if err := rows.Scan(&t, &object, &label); err != nil {
			return nil, err
		}
		v := out[t].Grown(object)
		v[object] = label
		out[t] = v
	}
	return out, rows.Err()
}

// SaveEnsemble stores a trained ensemble as an opaque gob blob along with its
// out-of-bag error.
func (s *Store) SaveEnsemble(e classify.Ensemble, outOfBag float64) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encode ensemble: %w", err)
	}
	_, err := s.db.Exec(
		`INSERT INTO ensembles (blob, out_of_bag, created_at_ns) VALUES (?, ?, ?)`,
		buf.Bytes(), outOfBag, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save ensemble: %w", err)
	}
	return nil
}

// LoadEnsemble returns the most recently stored ensemble, or nil when none
// has been stored yet.
func (s *Store) LoadEnsemble() (classify.Ensemble, float64, error) {
	var blob []byte
	var outOfBag float64
	err := s.db.QueryRow(
		`SELECT blob, out_of_bag FROM ensembles ORDER BY ensemble_id DESC LIMIT 1`,
	).Scan(&blob, &outOfBag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load ensemble: %w", err)
	}

	var e classify.Ensemble
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&e); err != nil {
		return nil, 0, fmt.Errorf("decode ensemble: %w", err)
	}
	return e, outOfBag, nil
}

// SaveWarning stores the current training warning; an empty warning clears
// the stored one.
func (s *Store) SaveWarning(w classify.Warning) error {
	if w.Empty() {
		_, err := s.db.Exec(`DELETE FROM warnings WHERE warning_id = 1`)
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO warnings (warning_id, title, text, details, updated_at_ns) VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(warning_id) DO UPDATE SET
			title = excluded.title,
			text = excluded.text,
			details = excluded.details,
			updated_at_ns = excluded.updated_at_ns`,
		w.Title, w.Text, w.Details, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save warning: %w", err)
	}
	return nil
}

// LoadWarning returns the stored warning, or an empty one when none exists.
func (s *Store) LoadWarning() (classify.Warning, error) {
	var w classify.Warning
	err := s.db.QueryRow(
		`SELECT title, text, details FROM warnings WHERE warning_id = 1`,
	).Scan(&w.Title, &w.Text, &w.Details)
	if errors.Is(err, sql.ErrNoRows) {
		return classify.Warning{}, nil
	}
	if err != nil {
		return classify.Warning{}, fmt.Errorf("load warning: %w", err)
	}
	return w, nil
}
