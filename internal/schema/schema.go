// Package schema defines the boundary through which the compiler learns a
// table's ordered column list.
//
// Providers are implemented by the warehouse adapters. The compiler only
// reads descriptors; it never mutates them.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/plancache"
)

// ErrSchemaNotFound is matched by every NotFoundError.
var ErrSchemaNotFound = errors.New("schema not found")

// NotFoundError reports a table that does not exist in the warehouse.
type NotFoundError struct {
	Key ir.TableKey
	Err error // underlying backend error, may be nil
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema not found: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("schema not found: %s", e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSchemaNotFound) true for any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSchemaNotFound
}

// Provider returns the ordered column descriptors of a table.
//
// Describe is deterministic for a fixed warehouse state and fails with a
// *NotFoundError when the table does not exist.
type Provider interface {
	Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error)
}

// Lister enumerates the tables of a dataset for batch runs.
type Lister interface {
	ListTables(ctx context.Context, dataset string) ([]string, error)
}

// Cached memoizes descriptors per table for the lifetime of a session.
type Cached struct {
	inner Provider
	cache *plancache.Cache[ir.TableKey, *ir.TableDescriptor]
}

// NewCached wraps p with a get-or-compute cache.
func NewCached(p Provider) *Cached {
	return &Cached{
		inner: p,
		cache: plancache.New[ir.TableKey, *ir.TableDescriptor](),
	}
}

// Describe returns the cached descriptor, fetching it once on a miss.
// Concurrent callers for the same table share one backend call.
func (c *Cached) Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	return c.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*ir.TableDescriptor, error) {
		desc, err := c.inner.Describe(ctx, dataset, table)
		if err != nil {
			return nil, err
		}
		if err := desc.Validate(); err != nil {
			return nil, err
		}
		return desc, nil
	})
}

// ListTables delegates to the wrapped provider when it can list tables.
func (c *Cached) ListTables(ctx context.Context, dataset string) ([]string, error) {
	l, ok := c.inner.(Lister)
	if !ok {
		return nil, fmt.Errorf("schema provider %T cannot list tables", c.inner)
	}
	return l.ListTables(ctx, dataset)
}

// Invalidate drops the cached descriptor of one table.
func (c *Cached) Invalidate(dataset, table string) {
	c.cache.Invalidate(ir.TableKey{Dataset: dataset, Table: table})
}

// Reset drops every cached descriptor.
func (c *Cached) Reset() {
	c.cache.Clear()
}

// Static is an in-memory Provider over fixed descriptors.
// It backs tests and offline compilation from a schema file.
type Static struct {
	mu     sync.RWMutex
	tables map[ir.TableKey]*ir.TableDescriptor
}

// NewStatic creates a provider holding the given descriptors.
func NewStatic(tables ...*ir.TableDescriptor) *Static {
	s := &Static{tables: make(map[ir.TableKey]*ir.TableDescriptor)}
	for _, t := range tables {
		s.Put(t)
	}
	return s
}

// Put adds or replaces a descriptor.
func (s *Static) Put(t *ir.TableDescriptor) {
	s.mu.Lock()
	s.tables[t.Key] = t
	s.mu.Unlock()
}

// Describe implements Provider.
func (s *Static) Describe(_ context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return t, nil
}

// ListTables implements Lister. Names are sorted.
func (s *Static) ListTables(_ context.Context, dataset string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for k := range s.tables {
		if k.Dataset == dataset {
			names = append(names, k.Table)
		}
	}
	sort.Strings(names)
	return names, nil
}
