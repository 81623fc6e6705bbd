package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// FitRun describes one exploration over a catalogue.
type FitRun struct {
	RunID         string
	StructurePath string
	DataPath      string
	ConfigJSON    string
	Seed          *uint64
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// CreateRun inserts run, assigning a new RunID and StartedAt when unset.
func (db *DB) CreateRun(run *FitRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}
	var seed sql.NullInt64
	if run.Seed != nil {
		seed = sql.NullInt64{Int64: int64(*run.Seed), Valid: true}
	}
	return retryOnBusy(5, func() error {
		_, err := db.Exec(`INSERT INTO fit_runs
			(run_id, structure_path, data_path, config_json, seed, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.StructurePath, run.DataPath, run.ConfigJSON, seed, run.StartedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return nil
	})
}

// CompleteRun stamps the completion time of runID.
func (db *DB) CompleteRun(runID string, at time.Time) error {
	return retryOnBusy(5, func() error {
		res, err := db.Exec(`UPDATE fit_runs SET completed_at = ? WHERE run_id = ?`, at.UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

// GetRun loads one run.
func (db *DB) GetRun(runID string) (*FitRun, error) {
	row := db.QueryRow(`SELECT run_id, structure_path, data_path, config_json, seed, started_at, completed_at
		FROM fit_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// ListRuns returns every run, newest first.
func (db *DB) ListRuns() ([]*FitRun, error) {
	rows, err := db.Query(`SELECT run_id, structure_path, data_path, config_json, seed, started_at, completed_at
		FROM fit_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*FitRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*FitRun, error) {
	var (
		run       FitRun
		seed      sql.NullInt64
		started   int64
		completed sql.NullInt64
	)
	if err := s.Scan(&run.RunID, &run.StructurePath, &run.DataPath, &run.ConfigJSON, &seed, &started, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if seed.Valid {
		v := uint64(seed.Int64)
		run.Seed = &v
	}
	run.StartedAt = time.Unix(0, started)
	if completed.Valid {
		t := time.Unix(0, completed.Int64)
		run.CompletedAt = &t
	}
	return &run, nil
}
