package compiler

import (
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
)

// QueryPlan is the compiled de-identification query of one table.
// Plans are immutable once built.
type QueryPlan struct {
	Key         ir.TableKey   `json:"key" yaml:"key"`
	SQL         string        `json:"sql" yaml:"sql"`
	Fields      []string      `json:"fields" yaml:"fields"`
	Policies    []string      `json:"policies" yaml:"policies"`
	Fingerprint string        `json:"fingerprint" yaml:"fingerprint"`
	Query       queryir.Query `json:"-" yaml:"-"`
}

// Passthrough reports whether no policy applied to the table.
func (p *QueryPlan) Passthrough() bool {
	return len(p.Policies) == 0
}
