package policy

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/rules"
)

// TableAlias is the alias of the target table in every fragment.
const TableAlias = "t"

// Policy is one de-identification policy.
type Policy interface {
	Name() string
	Applicable(t *Target) bool
	Compile(ctx context.Context, t *Target) (Decision, error)
}

// Default returns the policies in evaluation order.
func Default() []Policy {
	return []Policy{Suppress{}, Shift{}, Generalize{}}
}

// Evaluate runs p against t. An inapplicable policy yields the zero
// Decision.
func Evaluate(ctx context.Context, p Policy, t *Target) (Decision, error) {
	if !p.Applicable(t) {
		return Decision{}, nil
	}
	d, err := p.Compile(ctx, t)
	if err != nil {
		return Decision{}, fmt.Errorf("policy %s: %w", p.Name(), err)
	}
	d.Applicable = true
	return d, nil
}

// Target is everything the policies know about one table.
type Target struct {
	Table *ir.TableDescriptor

	// Meta marks the table as a meta-table of encoded observations.
	Meta bool

	// SubjectKey is the per-subject key column (person_id).
	SubjectKey string

	// RowKey identifies a row within the table. It is empty when the table
	// has none; then physical dates cannot be shifted.
	RowKey string

	// CodeField holds a meta-table row's concept code.
	CodeField string

	// AnchorTable and AnchorCode locate each subject's anchor-date row.
	AnchorTable string
	AnchorCode  string

	// ShiftPhysical selects shifting over dropping for physical date
	// columns, when the table has the keys to do so.
	ShiftPhysical bool

	// DateCodes are the concept codes of encoded date observations.
	DateCodes []string

	// Categories are the resolved categories relevant to the table.
	Categories []*rules.Resolution

	// AlwaysDrop lists fields suppressed regardless of type.
	AlwaysDrop []string
}

// ShiftsPhysicalDates reports whether the table's date-like columns are
// shifted rather than only dropped.
func (t *Target) ShiftsPhysicalDates() bool {
	return t.ShiftPhysical &&
		len(t.Table.DateColumns()) > 0 &&
		t.SubjectKey != "" && t.Table.HasColumn(t.SubjectKey) &&
		t.RowKey != "" && t.Table.HasColumn(t.RowKey)
}

// JoinKeys returns the fields a shifted row is matched back on: the subject
// key plus the row key.
func (t *Target) JoinKeys() []string {
	keys := []string{t.SubjectKey, t.RowKey}
	return lo.Uniq(lo.Filter(keys, func(k string, _ int) bool { return k != "" }))
}

// Retained returns the columns that survive suppression, in table order.
func (t *Target) Retained() []string {
	var out []string
	for _, c := range t.Table.Columns {
		if c.IsDateLike() || lo.Contains(t.AlwaysDrop, c.Name) {
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func (t *Target) source() *queryir.TableRef {
	return &queryir.TableRef{Dataset: t.Table.Key.Dataset, Table: t.Table.Key.Table, Alias: TableAlias}
}

func (t *Target) code() queryir.Column {
	return queryir.Col(TableAlias, t.CodeField)
}

// Passthrough is a Base fragment selecting every column unchanged.
func Passthrough(t *Target) *Fragment {
	return &Fragment{
		Role:   RoleBase,
		Name:   "all",
		Source: t.source(),
		Alias:  TableAlias,
		Fields: t.Table.ColumnNames(),
	}
}
