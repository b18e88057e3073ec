// Package db stores acquisition runs and their computed per-plane results
// in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/me-systeme/alignprobe/internal/align"
)

// DB wraps the SQLite handle for the alignment result store.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the store at path and brings the schema up to
// date.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Run is one recorded acquisition session.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	ConfigJSON string     `json:"config_json"`
}

// PlaneRow is one plane's result for one batch, as stored.
type PlaneRow struct {
	RunID          string    `json:"run_id"`
	Seq            uint64    `json:"seq"`
	Plane          string    `json:"plane"`
	BatchFrames    int       `json:"batch_frames"`
	Partial        bool      `json:"partial"`
	EpsAx          float64   `json:"eps_ax"`
	EpsBx          float64   `json:"eps_bx"`
	EpsBy          float64   `json:"eps_by"`
	EpsBMag        float64   `json:"eps_b_mag"`
	PhiDeg         float64   `json:"phi_deg"`
	PercentBending float64   `json:"percent_bending"`
	Class          string    `json:"class"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// CreateRun inserts a new run with the given configuration snapshot and
// returns its ID.
func (db *DB) CreateRun(configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		id, time.Now().UTC(), configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's stop time.
func (db *DB) FinishRun(runID string) error {
	res, err := db.Exec(`UPDATE runs SET stopped_at = ? WHERE run_id = ?`, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, started_at, stopped_at, config_json FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.StoppedAt, &r.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunResults returns all recorded plane results of a run in batch order.
func (db *DB) RunResults(runID string) ([]PlaneRow, error) {
	rows, err := db.Query(
		`SELECT run_id, seq, plane, batch_frames, partial, eps_ax, eps_bx, eps_by,
		        eps_b_mag, phi_deg, percent_bending, class, recorded_at
		 FROM plane_results WHERE run_id = ? ORDER BY seq, plane`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []PlaneRow
	for rows.Next() {
		var r PlaneRow
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Plane, &r.BatchFrames, &r.Partial,
			&r.EpsAx, &r.EpsBx, &r.EpsBy, &r.EpsBMag, &r.PhiDeg,
			&r.PercentBending, &r.Class, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recorder persists pipeline results for one run. It satisfies
// align.ResultSink.
type Recorder struct {
	db    *DB
	runID string
}

// NewRecorder creates a sink writing results under the given run.
func (db *DB) NewRecorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// Record writes one row per plane for the result's batch.
func (r *Recorder) Record(res *align.AlignmentResult) error {
	now := time.Now().UTC()
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	defer tx.Rollback()

	for _, pr := range []struct {
		plane  align.Plane
		result align.PlaneResult
	}{
		{align.PlaneA, res.PlaneA},
		{align.PlaneB, res.PlaneB},
	} {
		_, err := tx.Exec(
			`INSERT INTO plane_results (run_id, seq, plane, batch_frames, partial,
			    eps_ax, eps_bx, eps_by, eps_b_mag, phi_deg, percent_bending, class, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.runID, res.Seq, string(pr.plane), res.BatchFrames, res.Partial,
			pr.result.EpsAx, pr.result.EpsBx, pr.result.EpsBy, pr.result.EpsBMag,
			pr.result.PhiDeg, pr.result.PercentBending, pr.result.Class.Name, now,
		)
		if err != nil {
			return fmt.Errorf("insert plane %s result seq=%d: %w", pr.plane, res.Seq, err)
		}
	}
	return tx.Commit()
}
