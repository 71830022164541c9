package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

// ErrNotFound is returned when no registered row matches.
var ErrNotFound = errors.New("not found")

const planColumns = `seq, run_id, dataset, table_name, fingerprint, sql, fields, policies, created_at`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (PlanRecord, error) {
	var (
		rec                       PlanRecord
		fields, policies, created string
	)
	if err := row.Scan(&rec.Seq, &rec.RunID, &rec.Key.Dataset, &rec.Key.Table,
		&rec.Fingerprint, &rec.SQL, &fields, &policies, &created); err != nil {
		return PlanRecord{}, err
	}
	var err error
	if rec.Fields, err = unmarshalNames(fields); err != nil {
		return PlanRecord{}, err
	}
	if rec.Policies, err = unmarshalNames(policies); err != nil {
		return PlanRecord{}, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return PlanRecord{}, err
	}
	return rec, nil
}

// LatestPlan returns the most recently registered plan of a table.
func (s *Store) LatestPlan(ctx context.Context, key ir.TableKey) (PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE dataset = ? AND table_name = ?
		ORDER BY seq DESC
		LIMIT 1
	`, key.Dataset, key.Table)
	rec, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRecord{}, fmt.Errorf("plan %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return PlanRecord{}, fmt.Errorf("read plan %s: %w", key, err)
	}
	return rec, nil
}

// Plans returns the plans of a run ordered by insertion.
//
// Returns an empty slice (not nil) if the run registered no plans.
func (s *Store) Plans(ctx context.Context, runID string) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE run_id = ?
		ORDER BY seq ASC, table_name COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	plans := []PlanRecord{}
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// Failures returns the failures of a run ordered by insertion.
func (s *Store) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, dataset, table_name, kind, message
		FROM failures
		WHERE run_id = ?
		ORDER BY seq ASC, table_name COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Seq, &f.RunID, &f.Key.Dataset, &f.Key.Table, &f.Kind, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return failures, nil
}

// Runs returns every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset, started_at, seq
		FROM runs
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			started string
		)
		if err := rows.Scan(&r.ID, &r.Dataset, &started, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var (
		r       Run
		started string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dataset, started_at, seq FROM runs ORDER BY seq DESC LIMIT 1
	`).Scan(&r.ID, &r.Dataset, &started, &r.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	return r, nil
}
