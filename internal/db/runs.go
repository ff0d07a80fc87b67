package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run is one estimator invocation.
type Run struct {
	ID                 string
	Name               string
	Dataset            string
	Model              string // models document JSON
	KernelWidth        float64
	DownsamplingFactor int
	EnergyGroups       int
	NX, NY             int
	Status             string
	MaxTS              float64 // NaN until finished
	OutputPath         string
	Error              string
	StartedAt          time.Time
	FinishedAt         time.Time // zero until finished
}

// Peak is a TS map peak recorded for a run.
type Peak struct {
	RunID    string
	Slice    int
	Rank     int
	X, Y     int
	Lon, Lat float64
	TS       float64
	Flux     float64 // NaN when unknown
	FluxErr  float64
}

const timeLayout = time.RFC3339Nano

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// StartRun records r as running, assigning an ID and start time.
func (db *DB) StartRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = StatusRunning
	r.StartedAt = db.Clock.Now().UTC()
	r.MaxTS = math.NaN()
	_, err := db.ExecContext(ctx, `
		INSERT INTO tsmap_runs (
			run_id, name, dataset, model, kernel_width_deg, downsampling_factor,
			n_energy_groups, nx, ny, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Dataset, r.Model, r.KernelWidth, r.DownsamplingFactor,
		r.EnergyGroups, r.NX, r.NY, r.Status, r.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run complete, or failed when runErr is set.
func (db *DB) FinishRun(ctx context.Context, id string, maxTS float64, outputPath string, runErr error) error {
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE tsmap_runs
		SET status = ?, max_ts = ?, output_path = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		status, nullFloat(maxTS), outputPath, msg, db.Clock.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `run_id, name, dataset, model, kernel_width_deg, downsampling_factor,
	n_energy_groups, nx, ny, status, max_ts, output_path, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		r                   Run
		maxTS               sql.NullFloat64
		output, msg, finish sql.NullString
		start               string
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Dataset, &r.Model, &r.KernelWidth, &r.DownsamplingFactor,
		&r.EnergyGroups, &r.NX, &r.NY, &r.Status, &maxTS, &output, &msg, &start, &finish); err != nil {
		return nil, err
	}
	r.MaxTS = floatOrNaN(maxTS)
	r.OutputPath = output.String
	r.Error = msg.String
	var err error
	if r.StartedAt, err = time.Parse(timeLayout, start); err != nil {
		return nil, fmt.Errorf("run %s start time: %w", r.ID, err)
	}
	if finish.Valid {
		if r.FinishedAt, err = time.Parse(timeLayout, finish.String); err != nil {
			return nil, fmt.Errorf("run %s finish time: %w", r.ID, err)
		}
	}
	return &r, nil
}

// GetRun returns the run with id.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM tsmap_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first. A limit of zero or
// less returns every run.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM tsmap_runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its peaks.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM tsmap_runs WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// InsertPeaks records peaks for runID in one transaction, replacing any
// peaks already stored for it.
func (db *DB) InsertPeaks(ctx context.Context, runID string, peaks []Peak) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tsmap_peaks WHERE run_id = ?`, runID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tsmap_peaks (run_id, slice, rank, x, y, lon, lat, ts, flux, flux_err)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, p := range peaks {
		if _, err := stmt.ExecContext(ctx, runID, p.Slice, p.Rank, p.X, p.Y, p.Lon, p.Lat, p.TS,
			nullFloat(p.Flux), nullFloat(p.FluxErr)); err != nil {
			return fmt.Errorf("failed to insert peak %d of run %s: %w", p.Rank, runID, err)
		}
	}
	return tx.Commit()
}

// ListPeaks returns the peaks of runID ordered by slice and rank. A
// negative minTS returns all of them.
func (db *DB) ListPeaks(ctx context.Context, runID string, minTS float64) ([]Peak, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT slice, rank, x, y, lon, lat, ts, flux, flux_err
		FROM tsmap_peaks
		WHERE run_id = ? AND ts >= ?
		ORDER BY slice, rank`, runID, minTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Peak
	for rows.Next() {
		p := Peak{RunID: runID}
		var flux, fluxErr sql.NullFloat64
		if err := rows.Scan(&p.Slice, &p.Rank, &p.X, &p.Y, &p.Lon, &p.Lat, &p.TS, &flux, &fluxErr); err != nil {
			return nil, err
		}
		p.Flux, p.FluxErr = floatOrNaN(flux), floatOrNaN(fluxErr)
		out = append(out, p)
	}
	return out, rows.Err()
}
