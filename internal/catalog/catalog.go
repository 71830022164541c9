// Package catalog resolves concept-vocabulary queries to concept rows.
//
// An empty result is a data condition, not an error: callers decide whether
// a missing concept is fatal. Backend failures surface as *QueryFailedError.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/plancache"
)

// ErrCatalogQueryFailed is matched by every QueryFailedError.
var ErrCatalogQueryFailed = errors.New("catalog query failed")

// QueryFailedError reports a backend failure while looking up concepts.
type QueryFailedError struct {
	Dataset string
	Filter  ir.FilterSpec
	Err     error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("catalog query failed in %s (code=%q name=%q): %v",
		e.Dataset, e.Filter.CodePattern, e.Filter.NamePattern, e.Err)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCatalogQueryFailed) true for any QueryFailedError.
func (e *QueryFailedError) Is(target error) bool {
	return target == ErrCatalogQueryFailed
}

// Catalog looks up concept rows. Implementations return rows sorted by
// concept id (see ir.SortConcepts).
type Catalog interface {
	Lookup(ctx context.Context, dataset string, filter ir.FilterSpec) ([]ir.ConceptRow, error)
}

type lookupKey struct {
	Dataset string
	Filter  string
}

// Cached memoizes lookups per (dataset, filter) so that many tables compiled
// in parallel issue at most one backend query per distinct filter.
type Cached struct {
	inner Catalog
	cache *plancache.Cache[lookupKey, []ir.ConceptRow]
}

// NewCached wraps c with a get-or-compute cache.
func NewCached(c Catalog) *Cached {
	return &Cached{
		inner: c,
		cache: plancache.New[lookupKey, []ir.ConceptRow](),
	}
}

// Lookup implements Catalog. The returned slice is shared; callers must not
// modify it.
func (c *Cached) Lookup(ctx context.Context, dataset string, filter ir.FilterSpec) ([]ir.ConceptRow, error) {
	key := lookupKey{Dataset: dataset, Filter: filter.Key()}
	return c.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]ir.ConceptRow, error) {
		return c.inner.Lookup(ctx, dataset, filter)
	})
}

// Reset drops every cached lookup.
func (c *Cached) Reset() {
	c.cache.Clear()
}

// Static is an in-memory Catalog that evaluates filters with ir.Matcher.
// The same rows are visible from every dataset.
type Static struct {
	rows []ir.ConceptRow
}

// NewStatic creates a catalog over a copy of rows.
func NewStatic(rows []ir.ConceptRow) *Static {
	return &Static{rows: append([]ir.ConceptRow(nil), rows...)}
}

// Lookup implements Catalog.
func (s *Static) Lookup(_ context.Context, dataset string, filter ir.FilterSpec) ([]ir.ConceptRow, error) {
	return Filter(dataset, filter, s.rows)
}

// Filter applies filter to rows in memory and returns the matches sorted by
// concept id. An invalid pattern is reported as a QueryFailedError.
func Filter(dataset string, filter ir.FilterSpec, rows []ir.ConceptRow) ([]ir.ConceptRow, error) {
	m, err := filter.Matcher()
	if err != nil {
		return nil, &QueryFailedError{Dataset: dataset, Filter: filter, Err: err}
	}
	var out []ir.ConceptRow
	for _, r := range rows {
		if m.Match(r) {
			out = append(out, r)
		}
	}
	ir.SortConcepts(out)
	return out, nil
}
