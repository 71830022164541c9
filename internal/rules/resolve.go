package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
)

// ErrCategoryUndefined is matched by every UndefinedError.
var ErrCategoryUndefined = errors.New("category undefined")

// UndefinedError reports a category whose kept set or sentinel concept is
// absent from the catalog. A generalization without either would be unsound.
type UndefinedError struct {
	Category string
	Dataset  string
	Reason   string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("category %s undefined in %s: %s", e.Category, e.Dataset, e.Reason)
}

// Is makes errors.Is(err, ErrCategoryUndefined) true for any UndefinedError.
func (e *UndefinedError) Is(target error) bool {
	return target == ErrCategoryUndefined
}

// Resolution is a category resolved against one dataset's catalog.
type Resolution struct {
	Category      Category
	QuestionCodes []string
	KeptIDs       []int64
	Sentinel      ir.ConceptRow
}

// Resolver resolves categories through a concept catalog.
type Resolver struct {
	catalog catalog.Catalog
}

// NewResolver creates a Resolver. Wrap c with catalog.NewCached to share
// lookups between tables.
func NewResolver(c catalog.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve performs the question, kept and sentinel lookups for one category.
func (r *Resolver) Resolve(ctx context.Context, dataset string, c Category) (*Resolution, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	questions, err := r.catalog.Lookup(ctx, dataset, c.Questions)
	if err != nil {
		return nil, fmt.Errorf("category %s: questions: %w", c.Name, err)
	}
	kept, err := r.catalog.Lookup(ctx, dataset, c.Kept)
	if err != nil {
		return nil, fmt.Errorf("category %s: kept values: %w", c.Name, err)
	}
	if len(kept) == 0 {
		return nil, &UndefinedError{Category: c.Name, Dataset: dataset, Reason: "no kept concepts match"}
	}
	sentinels, err := r.catalog.Lookup(ctx, dataset, c.Sentinel)
	if err != nil {
		return nil, fmt.Errorf("category %s: sentinel: %w", c.Name, err)
	}
	if len(sentinels) == 0 {
		return nil, &UndefinedError{Category: c.Name, Dataset: dataset, Reason: "no sentinel concept matches"}
	}

	return &Resolution{
		Category:      c,
		QuestionCodes: lo.Uniq(lo.Map(questions, func(row ir.ConceptRow, _ int) string { return row.Code })),
		KeptIDs:       lo.Uniq(lo.Map(kept, func(row ir.ConceptRow, _ int) int64 { return row.ID })),
		Sentinel:      sentinels[0], // rows are sorted by id
	}, nil
}

// ResolveAll resolves every category concurrently and returns the results in
// input order. The first failure cancels the remaining lookups.
func (r *Resolver) ResolveAll(ctx context.Context, dataset string, cats []Category) ([]*Resolution, error) {
	out := make([]*Resolution, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cats {
		i, c := i, c
		g.Go(func() error {
			res, err := r.Resolve(gctx, dataset, c)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// QuestionCodes returns the question codes of every resolution, in category
// order, without duplicates.
func QuestionCodes(res []*Resolution) []string {
	return lo.Uniq(lo.Flatten(lo.Map(res, func(r *Resolution, _ int) []string { return r.QuestionCodes })))
}

// keptCondition is "<alias>.<field> IN (kept ids)".
func (r *Resolution) keptCondition(alias, field string) queryir.Predicate {
	return queryir.In{Expr: queryir.Col(alias, field), Values: queryir.Ints(r.KeptIDs)}
}

// PhysicalExpressions returns the generalization of the category's id and
// name columns, both conditioned on the id column:
//
//	id   -> IF(id IN kept, id, sentinel.id)
//	name -> IF(id IN kept, name, sentinel.name)
//
// Columns not named by the category are omitted.
func (r *Resolution) PhysicalExpressions(alias string) map[string]queryir.Expr {
	c := r.Category
	out := make(map[string]queryir.Expr, 2)
	if c.IDField == "" {
		return out
	}
	cond := r.keptCondition(alias, c.IDField)
	out[c.IDField] = queryir.If{Cond: cond, Then: queryir.Col(alias, c.IDField), Else: queryir.IntLit(r.Sentinel.ID)}
	if c.NameField != "" {
		out[c.NameField] = queryir.If{Cond: cond, Then: queryir.Col(alias, c.NameField), Else: queryir.StringLit(r.Sentinel.Name)}
	}
	return out
}

// EncodedExpressions returns the generalization of a meta-table row's value
// fields. Every expression is conditioned on the row's answer concept
// (value_source_concept_id), never on its question concept.
func (r *Resolution) EncodedExpressions(alias string) map[string]queryir.Expr {
	cond := r.keptCondition(alias, FieldValueSourceConceptID)
	keep := func(field string, sentinel queryir.Expr) queryir.Expr {
		return queryir.If{Cond: cond, Then: queryir.Col(alias, field), Else: sentinel}
	}
	return map[string]queryir.Expr{
		FieldValueAsString:        keep(FieldValueAsString, queryir.StringLit(r.Sentinel.Name)),
		FieldValueAsConceptID:     keep(FieldValueAsConceptID, queryir.IntLit(r.Sentinel.ID)),
		FieldValueSourceConceptID: keep(FieldValueSourceConceptID, queryir.IntLit(r.Sentinel.ID)),
		FieldValueSourceValue:     keep(FieldValueSourceValue, queryir.StringLit(r.Sentinel.Code)),
	}
}

// AppliesTo reports whether the table carries the category's id column.
func (c Category) AppliesTo(t *ir.TableDescriptor) bool {
	return c.IDField != "" && t.HasColumn(c.IDField)
}
