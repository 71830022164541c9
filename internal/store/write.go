package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrAlreadyRegistered is returned when a run already holds a plan or
// failure for a table. Registered rows are never overwritten.
var ErrAlreadyRegistered = errors.New("already registered")

// ErrUnknownRun is returned when writing under a run that was never begun.
var ErrUnknownRun = errors.New("unknown run")

// BeginRun records a new batch run.
func (s *Store) BeginRun(ctx context.Context, runID, dataset string) (Run, error) {
	run := Run{ID: runID, Dataset: dataset, StartedAt: s.now().UTC()}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO runs (id, dataset, started_at, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))
		RETURNING seq
	`, run.ID, run.Dataset, formatTime(run.StartedAt)).Scan(&run.Seq)
	if err != nil {
		return Run{}, fmt.Errorf("begin run %s: %w", runID, classify(err))
	}
	return run, nil
}

// InsertPlan appends a plan to a run. Seq and CreatedAt of the argument are
// ignored; the stored values are returned.
func (s *Store) InsertPlan(ctx context.Context, rec PlanRecord) (PlanRecord, error) {
	fields, err := marshalNames(rec.Fields)
	if err != nil {
		return PlanRecord{}, fmt.Errorf("insert plan: %w", err)
	}
	policies, err := marshalNames(rec.Policies)
	if err != nil {
		return PlanRecord{}, fmt.Errorf("insert plan: %w", err)
	}
	rec.CreatedAt = s.now().UTC()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO plans
		(run_id, dataset, table_name, fingerprint, sql, fields, policies, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`,
		rec.RunID,
		rec.Key.Dataset,
		rec.Key.Table,
		rec.Fingerprint,
		rec.SQL,
		fields,
		policies,
		formatTime(rec.CreatedAt),
	).Scan(&rec.Seq)
	if err != nil {
		return PlanRecord{}, fmt.Errorf("insert plan %s: %w", rec.Key, classify(err))
	}
	return rec, nil
}

// InsertFailure records a table that failed to compile in a run.
func (s *Store) InsertFailure(ctx context.Context, f Failure) (Failure, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO failures (run_id, dataset, table_name, kind, message)
		VALUES (?, ?, ?, ?, ?)
		RETURNING seq
	`, f.RunID, f.Key.Dataset, f.Key.Table, f.Kind, f.Message).Scan(&f.Seq)
	if err != nil {
		return Failure{}, fmt.Errorf("insert failure %s: %w", f.Key, classify(err))
	}
	return f, nil
}

// classify maps SQLite constraint violations to registry errors.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", ErrAlreadyRegistered, err)
	case sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", ErrUnknownRun, err)
	}
	return err
}
