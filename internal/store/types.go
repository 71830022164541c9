package store

import (
	"time"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

// Run is one batch run.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Dataset   string    `json:"dataset" yaml:"dataset"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Seq       int64     `json:"seq" yaml:"seq"`
}

// PlanRecord is a registered plan.
type PlanRecord struct {
	Seq         int64       `json:"seq" yaml:"seq"`
	RunID       string      `json:"run_id" yaml:"run_id"`
	Key         ir.TableKey `json:"key" yaml:"key"`
	Fingerprint string      `json:"fingerprint" yaml:"fingerprint"`
	SQL         string      `json:"sql" yaml:"sql"`
	Fields      []string    `json:"fields" yaml:"fields"`
	Policies    []string    `json:"policies" yaml:"policies"`
	CreatedAt   time.Time   `json:"created_at" yaml:"created_at"`
}

// Failure is a table that failed to compile in a run.
type Failure struct {
	Seq     int64       `json:"seq" yaml:"seq"`
	RunID   string      `json:"run_id" yaml:"run_id"`
	Key     ir.TableKey `json:"key" yaml:"key"`
	Kind    string      `json:"kind" yaml:"kind"`
	Message string      `json:"message" yaml:"message"`
}
