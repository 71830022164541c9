package schema

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

type countingProvider struct {
	inner Provider
	calls atomic.Int32
}

func (p *countingProvider) Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	p.calls.Add(1)
	return p.inner.Describe(ctx, dataset, table)
}

func careSite() *ir.TableDescriptor {
	return &ir.TableDescriptor{
		Key: ir.TableKey{Dataset: "raw", Table: "care_site"},
		Columns: []ir.ColumnDescriptor{
			{Name: "care_site_id", Type: ir.TypeOther},
			{Name: "care_site_name", Type: ir.TypeOther},
		},
	}
}

func TestNotFoundError_Matching(t *testing.T) {
	var err error = &NotFoundError{Key: ir.TableKey{Dataset: "raw", Table: "missing"}}
	assert.ErrorIs(t, err, ErrSchemaNotFound)
	assert.Equal(t, "schema not found: raw.missing", err.Error())

	cause := errors.New("404")
	err = &NotFoundError{Key: ir.TableKey{Dataset: "raw", Table: "missing"}, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Key.Table)
}

func TestStatic_Describe(t *testing.T) {
	s := NewStatic(careSite())
	ctx := context.Background()

	desc, err := s.Describe(ctx, "raw", "care_site")
	require.NoError(t, err)
	assert.Equal(t, []string{"care_site_id", "care_site_name"}, desc.ColumnNames())

	_, err = s.Describe(ctx, "raw", "nope")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = s.Describe(ctx, "other", "care_site")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestStatic_ListTables(t *testing.T) {
	s := NewStatic(careSite(), &ir.TableDescriptor{
		Key:     ir.TableKey{Dataset: "raw", Table: "activity"},
		Columns: []ir.ColumnDescriptor{{Name: "a", Type: ir.TypeOther}},
	})
	names, err := s.ListTables(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"activity", "care_site"}, names)
}

func TestCached_MemoizesPerTable(t *testing.T) {
	inner := &countingProvider{inner: NewStatic(careSite())}
	c := NewCached(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Describe(ctx, "raw", "care_site")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	c.Invalidate("raw", "care_site")
	_, err := c.Describe(ctx, "raw", "care_site")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	c.Reset()
	_, err = c.Describe(ctx, "raw", "care_site")
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCached_FailuresAreRetried(t *testing.T) {
	static := NewStatic()
	inner := &countingProvider{inner: static}
	c := NewCached(inner)
	ctx := context.Background()

	_, err := c.Describe(ctx, "raw", "care_site")
	require.ErrorIs(t, err, ErrSchemaNotFound)

	static.Put(careSite())
	desc, err := c.Describe(ctx, "raw", "care_site")
	require.NoError(t, err)
	assert.Len(t, desc.Columns, 2)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCached_RejectsInvalidDescriptor(t *testing.T) {
	bad := &ir.TableDescriptor{
		Key:     ir.TableKey{Dataset: "raw", Table: "dup"},
		Columns: []ir.ColumnDescriptor{{Name: "a"}, {Name: "a"}},
	}
	c := NewCached(NewStatic(bad))
	_, err := c.Describe(context.Background(), "raw", "dup")
	assert.ErrorContains(t, err, "duplicate column")
}

func TestCached_ListTables(t *testing.T) {
	c := NewCached(NewStatic(careSite()))
	names, err := c.ListTables(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, []string{"care_site"}, names)

	c = NewCached(&countingProvider{inner: NewStatic()})
	_, err = c.ListTables(context.Background(), "raw")
	assert.Error(t, err)
}
