package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/nanofit/internal/catalogue"
	"github.com/banshee-data/nanofit/internal/evaluate"
)

// CandidateFit is the persisted score of one catalogue index. RFactor is
// nil for failed candidates.
type CandidateFit struct {
	RunID          string
	CandidateIndex int
	Occupancy      catalogue.OccupancyVector
	MetalCount     int
	NonMetalCount  int
	RFactor        *float64
	Status         string
	Error          string
	ParamsJSON     string
	CreatedAt      time.Time
}

// NewCandidateFit converts an evaluation outcome for storage.
func NewCandidateFit(runID string, o *evaluate.Outcome) (*CandidateFit, error) {
	cf := &CandidateFit{
		RunID:          runID,
		CandidateIndex: o.Index,
		Occupancy:      o.Vector,
		MetalCount:     o.MetalCount,
		NonMetalCount:  o.NonMetalCount,
		Status:         o.Status,
		ParamsJSON:     "{}",
		CreatedAt:      time.Now(),
	}
	if o.Err != nil {
		cf.Error = o.Err.Error()
		return cf, nil
	}
	r := o.RFactor
	cf.RFactor = &r
	if o.Result != nil {
		params, err := json.Marshal(o.Result.Parameters.Values())
		if err != nil {
			return nil, fmt.Errorf("failed to encode parameters: %w", err)
		}
		cf.ParamsJSON = string(params)
	}
	return cf, nil
}

// InsertCandidateFit stores cf, replacing an earlier score for the same
// run and index.
func (db *DB) InsertCandidateFit(cf *CandidateFit) error {
	occ, err := json.Marshal(cf.Occupancy)
	if err != nil {
		return fmt.Errorf("failed to encode occupancy: %w", err)
	}
	var r sql.NullFloat64
	if cf.RFactor != nil && !math.IsNaN(*cf.RFactor) {
		r = sql.NullFloat64{Float64: *cf.RFactor, Valid: true}
	}
	if cf.CreatedAt.IsZero() {
		cf.CreatedAt = time.Now()
	}
	params := cf.ParamsJSON
	if params == "" {
		params = "{}"
	}
	return retryOnBusy(5, func() error {
		_, err := db.Exec(`INSERT OR REPLACE INTO candidate_fits
			(run_id, candidate_index, occupancy_json, metal_count, nonmetal_count, r_factor, status, error, params_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cf.RunID, cf.CandidateIndex, string(occ), cf.MetalCount, cf.NonMetalCount, r,
			cf.Status, cf.Error, params, cf.CreatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to insert candidate %d: %w", cf.CandidateIndex, err)
		}
		return nil
	})
}

// RecordOutcome converts and stores o under runID.
func (db *DB) RecordOutcome(runID string, o *evaluate.Outcome) error {
	cf, err := NewCandidateFit(runID, o)
	if err != nil {
		return err
	}
	return db.InsertCandidateFit(cf)
}

// CandidateFits returns every stored candidate of runID in index order.
func (db *DB) CandidateFits(runID string) ([]*CandidateFit, error) {
	return db.queryCandidates(`SELECT run_id, candidate_index, occupancy_json, metal_count, nonmetal_count,
		r_factor, status, error, params_json, created_at
		FROM candidate_fits WHERE run_id = ? ORDER BY candidate_index`, runID)
}

// BestCandidates returns up to limit scored candidates of runID, lowest
// R-factor first.
func (db *DB) BestCandidates(runID string, limit int) ([]*CandidateFit, error) {
	return db.queryCandidates(`SELECT run_id, candidate_index, occupancy_json, metal_count, nonmetal_count,
		r_factor, status, error, params_json, created_at
		FROM candidate_fits WHERE run_id = ? AND r_factor IS NOT NULL
		ORDER BY r_factor ASC, candidate_index ASC LIMIT ?`, runID, limit)
}

// StatusCounts tallies candidates of runID by status.
func (db *DB) StatusCounts(runID string) (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM candidate_fits WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count candidates: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (db *DB) queryCandidates(query string, args ...any) ([]*CandidateFit, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*CandidateFit
	for rows.Next() {
		var (
			cf      CandidateFit
			occ     string
			r       sql.NullFloat64
			created int64
		)
		if err := rows.Scan(&cf.RunID, &cf.CandidateIndex, &occ, &cf.MetalCount, &cf.NonMetalCount,
			&r, &cf.Status, &cf.Error, &cf.ParamsJSON, &created); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(occ), &cf.Occupancy); err != nil {
			return nil, fmt.Errorf("failed to decode occupancy of candidate %d: %w", cf.CandidateIndex, err)
		}
		if r.Valid {
			v := r.Float64
			cf.RFactor = &v
		}
		cf.CreatedAt = time.Unix(0, created)
		out = append(out, &cf)
	}
	return out, rows.Err()
}
