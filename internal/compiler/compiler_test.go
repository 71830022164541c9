package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/rules"
	"github.com/all-of-us/cdr-deid/internal/schema"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

const ds = testutil.Dataset

const anchorSubquery = "(SELECT a.person_id, MAX(a.value_as_string) AS anchor_date FROM `raw.observation` AS a " +
	"WHERE a.observation_source_value = 'ExtraConsent_TodaysDate' GROUP BY a.person_id) AS anchor"

const personRows = "SELECT t.person_id, " +
	"IF(t.race_concept_id IN (1586142, 1586143, 1586146), t.race_concept_id, 1586148) AS race_concept_id, " +
	"IF(t.race_concept_id IN (1586142, 1586143, 1586146), t.race_source_value, 'Other') AS race_source_value, " +
	"IF(t.gender_concept_id IN (1585839, 1585840), t.gender_concept_id, 2000000002) AS gender_concept_id, " +
	"IF(t.gender_concept_id IN (1585839, 1585840), t.gender_source_value, 'Not man only, not woman only, prefer not to answer, or skipped') AS gender_source_value " +
	"FROM `raw.person` AS t"

type countingCatalog struct {
	inner catalog.Catalog
	calls atomic.Int32
}

func (c *countingCatalog) Lookup(ctx context.Context, dataset string, f ir.FilterSpec) ([]ir.ConceptRow, error) {
	c.calls.Add(1)
	return c.inner.Lookup(ctx, dataset, f)
}

type countingSchema struct {
	inner schema.Provider
	calls atomic.Int32
}

func (s *countingSchema) Describe(ctx context.Context, dataset, table string) (*ir.TableDescriptor, error) {
	s.calls.Add(1)
	return s.inner.Describe(ctx, dataset, table)
}

func newCompiler(concepts []ir.ConceptRow) *Compiler {
	return New(schema.NewStatic(testutil.Tables()...), catalog.NewStatic(concepts))
}

func drop() Options {
	return Options{PhysicalDates: DatesDrop}
}

func TestCompile_Passthrough(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "care_site", Options{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT t.care_site_id, t.care_site_name, t.place_of_service_concept_id FROM `raw.care_site` AS t", plan.SQL)
	assert.Equal(t, []string{"care_site_id", "care_site_name", "place_of_service_concept_id"}, plan.Fields)
	assert.True(t, plan.Passthrough())
	assert.Empty(t, plan.Policies)
	assert.Len(t, plan.Fingerprint, 64)
}

func TestCompile_PersonWithDatesDropped(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "person", drop())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"person_id", "race_concept_id", "race_source_value", "gender_concept_id", "gender_source_value",
	}, plan.Fields)
	assert.NotContains(t, plan.Fields, "birth_datetime")
	assert.Equal(t, []string{"suppress", "generalize"}, plan.Policies)
	assert.Equal(t, personRows, plan.SQL)
	assert.NotContains(t, plan.SQL, "JOIN")
	assert.NotContains(t, plan.SQL, "UNION")
}

func TestCompile_PersonWithDatesShifted(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "person", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"person_id", "birth_datetime", "race_concept_id", "race_source_value", "gender_concept_id", "gender_source_value",
	}, plan.Fields)
	assert.Equal(t, []string{"suppress", "shift", "generalize"}, plan.Policies)

	want := "SELECT base.person_id, shifted.birth_datetime, base.race_concept_id, base.race_source_value, " +
		"base.gender_concept_id, base.gender_source_value FROM (" + personRows + ") AS base " +
		"INNER JOIN (SELECT t.person_id, DATE_DIFF(SAFE_CAST(t.birth_datetime AS DATE), SAFE_CAST(anchor.anchor_date AS DATE), DAY) AS birth_datetime " +
		"FROM `raw.person` AS t LEFT JOIN " + anchorSubquery + " ON anchor.person_id = t.person_id) AS shifted " +
		"ON shifted.person_id = base.person_id"
	assert.Equal(t, want, plan.SQL)
}

// unionBranches digs the UNION ALL out of a composed plan.
func unionBranches(t *testing.T, q queryir.Query) []*queryir.Select {
	t.Helper()
	sel, ok := q.(*queryir.Select)
	require.True(t, ok)
	if j, ok := sel.From.(*queryir.Join); ok {
		left, ok := j.Left.(*queryir.Subquery)
		require.True(t, ok)
		sel, ok = left.Query.(*queryir.Select)
		require.True(t, ok)
	}
	sub, ok := sel.From.(*queryir.Subquery)
	require.True(t, ok, "rows are not grouped over a union")
	u, ok := sub.Query.(*queryir.UnionAll)
	require.True(t, ok)
	return u.Branches
}

func TestCompile_MetaTable(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "observation", Options{})
	require.NoError(t, err)

	assert.Equal(t, testutil.Observation().ColumnNames(), plan.Fields, "shifted dates stay in place")
	assert.Equal(t, []string{"suppress", "shift", "generalize"}, plan.Policies)

	// base + encoded dates + seven categories
	assert.Equal(t, 8, strings.Count(plan.SQL, " UNION ALL "))
	branches := unionBranches(t, plan.Query)
	require.Len(t, branches, 9)
	want := branches[0].OutputNames()
	assert.NotContains(t, want, "observation_date")
	for i, b := range branches {
		assert.Equal(t, want, b.OutputNames(), "branch %d", i)
	}

	assert.Contains(t, plan.SQL,
		"CAST(DATE_DIFF(SAFE_CAST(t.value_as_string AS DATE), SAFE_CAST(anchor.anchor_date AS DATE), DAY) AS STRING) AS value_as_string")
	assert.Contains(t, plan.SQL,
		"WHERE t.observation_source_value IN ('ExtraConsent_TodaysDate', 'PIIBirthInformation_BirthDate', 'Insurance_StartDate')")
	assert.Contains(t, plan.SQL, "WHERE (t.observation_source_value IS NULL OR t.observation_source_value NOT IN (")
	assert.Contains(t, plan.SQL, "GROUP BY u.observation_id, u.person_id, u.observation_concept_id,")
	assert.Contains(t, plan.SQL, "ON shifted.person_id = base.person_id AND shifted.observation_id = base.observation_id")
	assert.Contains(t, plan.SQL, "shifted.observation_date, shifted.observation_datetime")
	assert.Contains(t, plan.SQL, "WHERE t.observation_source_value IN ('Gender_GenderIdentity')")
}

func TestCompile_MetaTableWithDatesDropped(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "observation", drop())
	require.NoError(t, err)

	assert.NotContains(t, plan.Fields, "observation_date")
	assert.NotContains(t, plan.Fields, "observation_datetime")
	assert.Contains(t, plan.Policies, "shift", "encoded dates are still shifted")
	assert.NotContains(t, plan.SQL, "INNER JOIN")
	assert.Len(t, unionBranches(t, plan.Query), 9)
}

func TestCompile_GenderUndefined(t *testing.T) {
	c := newCompiler(testutil.ConceptsWithout("GenderIdentity_Man", "GenderIdentity_Woman"))
	ctx := context.Background()

	for _, table := range []string{"person", "observation"} {
		plan, err := c.Compile(ctx, ds, table, Options{})
		require.Error(t, err, table)
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, rules.ErrCategoryUndefined)
		assert.Equal(t, KindCategoryUndefined, ErrorKind(err))

		_, err = c.GetPlan(ds, table)
		assert.ErrorIs(t, err, ErrNotCompiled)
	}

	// Tables without gender data are unaffected.
	for _, table := range []string{"care_site", "measurement"} {
		_, err := c.Compile(ctx, ds, table, Options{})
		assert.NoError(t, err, table)
	}
}

func TestCompile_SchemaNotFound(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	_, err := c.Compile(context.Background(), ds, "nope", Options{})
	assert.ErrorIs(t, err, schema.ErrSchemaNotFound)
	assert.Equal(t, KindSchemaNotFound, ErrorKind(err))
}

func TestCompile_Idempotent(t *testing.T) {
	ctx := context.Background()
	for _, table := range testutil.Tables() {
		name := table.Key.Table
		first, err := newCompiler(testutil.Concepts()).Compile(ctx, ds, name, Options{})
		require.NoError(t, err, name)
		second, err := newCompiler(testutil.Concepts()).Compile(ctx, ds, name, Options{})
		require.NoError(t, err, name)

		assert.Equal(t, first.SQL, second.SQL, name)
		assert.Equal(t, first.Fields, second.Fields, name)
		assert.Equal(t, first.Fingerprint, second.Fingerprint, name)
	}
}

func TestCompile_CachedPlanIsReused(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	ctx := context.Background()

	first, err := c.Compile(ctx, ds, "person", Options{})
	require.NoError(t, err)
	second, err := c.Compile(ctx, ds, "person", drop())
	require.NoError(t, err)
	assert.Same(t, first, second, "options do not bypass the cache")

	got, err := c.GetPlan(ds, "person")
	require.NoError(t, err)
	assert.Same(t, first, got)

	c.Invalidate(ds, "person")
	_, err = c.GetPlan(ds, "person")
	assert.ErrorIs(t, err, ErrNotCompiled)

	third, err := c.Compile(ctx, ds, "person", drop())
	require.NoError(t, err)
	assert.NotContains(t, third.Fields, "birth_datetime")
}

func TestCompile_NoDuplicateFields(t *testing.T) {
	ctx := context.Background()
	for _, opts := range []Options{{}, drop(), {AlwaysDropFields: []string{"person_id"}}} {
		c := newCompiler(testutil.Concepts())
		for _, table := range testutil.Tables() {
			plan, err := c.Compile(ctx, ds, table.Key.Table, opts)
			require.NoError(t, err, table.Key.Table)

			seen := map[string]bool{}
			for _, f := range plan.Fields {
				assert.False(t, seen[f], "%s: duplicate field %s", table.Key, f)
				seen[f] = true
			}
			res := queryir.Validate(plan.Query)
			assert.True(t, res.Valid, res.Error())
			assert.Equal(t, plan.Fields, queryir.OutputNames(plan.Query))
		}
	}
}

func TestCompile_AlwaysDropAccumulates(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	ctx := context.Background()

	plan, err := c.Compile(ctx, ds, "care_site", Options{AlwaysDropFields: []string{"steps", "care_site_name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"care_site_id", "place_of_service_concept_id"}, plan.Fields)
	assert.Equal(t, []string{"suppress"}, plan.Policies)

	// The set carries over to later calls without options.
	plan, err = c.Compile(ctx, ds, "activity_summary", Options{AlwaysDropFields: []string{"care_site_name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"person_id"}, plan.Fields)
	assert.Equal(t, []string{"steps", "care_site_name"}, c.AlwaysDrop())

	c.Reset()
	assert.Empty(t, c.AlwaysDrop())
}

func TestCompile_DroppedJoinKeyStillJoins(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "measurement", Options{AlwaysDropFields: []string{"person_id"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"measurement_id", "measurement_concept_id", "measurement_date", "value_as_number"}, plan.Fields)
	assert.True(t, strings.HasPrefix(plan.SQL,
		"SELECT base.measurement_id, base.measurement_concept_id, shifted.measurement_date, base.value_as_number FROM "+
			"(SELECT t.measurement_id, t.measurement_concept_id, t.value_as_number, t.person_id FROM `raw.measurement` AS t) AS base"),
		plan.SQL)
	assert.True(t, strings.HasSuffix(plan.SQL,
		"ON shifted.person_id = base.person_id AND shifted.measurement_id = base.measurement_id"), plan.SQL)
}

func TestCompile_DatesWithoutRowKeyAreDropped(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "activity_summary", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"person_id", "steps"}, plan.Fields)
	assert.Equal(t, []string{"suppress"}, plan.Policies)
	assert.Equal(t, "SELECT t.person_id, t.steps FROM `raw.activity_summary` AS t", plan.SQL)
}

func TestCompile_InvalidOptions(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	_, err := c.Compile(context.Background(), ds, "person", Options{PhysicalDates: "blur"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, KindInvalidOptions, ErrorKind(err))
	assert.Contains(t, err.Error(), ErrInvalidDatesMode)
}

func TestCompile_MetaTableMissingColumns(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	_, err := c.Compile(context.Background(), ds, "care_site", Options{MetaTableNames: []string{"care_site"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompose)

	var ce *ComposeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "care_site", ce.Key.Table)
	assert.NotEmpty(t, ce.Problems)
}

func TestCompile_NoMetaTables(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	plan, err := c.Compile(context.Background(), ds, "observation", Options{MetaTableNames: []string{}})
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "UNION ALL")
	assert.Equal(t, testutil.Observation().ColumnNames(), plan.Fields)
}

func TestCompile_CustomVocabulary(t *testing.T) {
	c := newCompiler(testutil.Concepts())
	_, err := c.Compile(context.Background(), ds, "person", Options{VocabularyID: "Race"})
	assert.ErrorIs(t, err, rules.ErrCategoryUndefined, "no PPI answers are visible under another vocabulary")
}

func TestCompile_ConcurrentLookupsAreShared(t *testing.T) {
	sp := &countingSchema{inner: schema.NewStatic(testutil.Tables()...)}
	cat := &countingCatalog{inner: catalog.NewStatic(testutil.Concepts())}
	c := New(sp, cat)
	ctx := context.Background()

	var wg sync.WaitGroup
	plans := make([]*QueryPlan, 32)
	for i := range plans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table := []string{"person", "observation", "measurement", "care_site"}[i%4]
			p, err := c.Compile(ctx, ds, table, Options{})
			assert.NoError(t, err)
			plans[i] = p
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(4), sp.calls.Load(), "one describe per table")
	// 7 categories x 3 lookups + 1 date-code lookup, shared between tables.
	assert.Equal(t, int32(22), cat.calls.Load())
	for i := 4; i < len(plans); i++ {
		assert.Same(t, plans[i%4], plans[i])
	}
}

func TestErrorKind(t *testing.T) {
	key := ir.TableKey{Dataset: "raw", Table: "t"}
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&schema.NotFoundError{Key: key}, KindSchemaNotFound},
		{fmt.Errorf("wrap: %w", &catalog.QueryFailedError{Err: errors.New("x")}), KindCatalogQueryFailed},
		{&rules.UndefinedError{Category: "gender"}, KindCategoryUndefined},
		{&ComposeError{Key: key, Problems: []string{"p"}}, KindCompose},
		{fmt.Errorf("%w: raw.t", ErrNotCompiled), KindNotCompiled},
		{context.Canceled, KindCanceled},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ErrorKind(tc.err), "%v", tc.err)
	}
}
