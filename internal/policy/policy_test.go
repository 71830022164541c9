package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/querysql"
	"github.com/all-of-us/cdr-deid/internal/rules"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

var dateCodes = []string{"ExtraConsent_TodaysDate", "PIIBirthInformation_BirthDate", "Insurance_StartDate"}

func resolved(t *testing.T) []*rules.Resolution {
	t.Helper()
	res, err := rules.NewResolver(catalog.NewStatic(testutil.Concepts())).
		ResolveAll(context.Background(), testutil.Dataset, rules.Defaults())
	require.NoError(t, err)
	return res
}

func newTarget(t *testing.T, table *ir.TableDescriptor, meta bool) *Target {
	t.Helper()
	rowKey := table.Key.Table + "_id"
	if !table.HasColumn(rowKey) {
		rowKey = ""
	}
	return &Target{
		Table:         table,
		Meta:          meta,
		SubjectKey:    "person_id",
		RowKey:        rowKey,
		CodeField:     "observation_source_value",
		AnchorTable:   "observation",
		AnchorCode:    testutil.AnchorCode,
		ShiftPhysical: true,
		DateCodes:     dateCodes,
		Categories:    resolved(t),
	}
}

func sql(t *testing.T, q queryir.Query) string {
	t.Helper()
	s, err := querysql.NewSQLCompiler().Compile(q)
	require.NoError(t, err)
	return s
}

func TestFragment_ProjectPassesThroughUndeclaredFields(t *testing.T) {
	f := &Fragment{
		Role:   RoleUnion,
		Source: &queryir.TableRef{Dataset: "raw", Table: "observation", Alias: "t"},
		Alias:  "t",
		Fields: []string{"person_id", "value_as_string"},
		Exprs:  map[string]queryir.Expr{"value_as_string": queryir.StringLit("x")},
	}
	sel := f.Project([]string{"observation_id", "person_id", "value_as_string"})
	assert.Equal(t, []string{"observation_id", "person_id", "value_as_string"}, sel.OutputNames())
	assert.Equal(t, "SELECT t.observation_id, t.person_id, 'x' AS value_as_string FROM `raw.observation` AS t", sql(t, sel))
}

func TestFragment_WithExprsDoesNotMutate(t *testing.T) {
	f := &Fragment{Alias: "t", Exprs: map[string]queryir.Expr{"a": queryir.IntLit(1)}}
	g := f.WithExprs(map[string]queryir.Expr{"b": queryir.IntLit(2)})

	assert.Len(t, f.Exprs, 1)
	assert.Len(t, g.Exprs, 2)
	assert.Same(t, f, f.WithExprs(nil))
}

func TestEvaluate_Inapplicable(t *testing.T) {
	target := newTarget(t, testutil.CareSite(), false)
	for _, p := range Default() {
		d, err := Evaluate(context.Background(), p, target)
		require.NoError(t, err)
		assert.False(t, d.Applicable, p.Name())
		assert.Empty(t, d.Fragments)
	}
}

func TestDefault_Order(t *testing.T) {
	var names []string
	for _, p := range Default() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"suppress", "shift", "generalize"}, names)
}

func TestSuppress_Physical(t *testing.T) {
	target := newTarget(t, testutil.Person(), false)
	d, err := Evaluate(context.Background(), Suppress{}, target)
	require.NoError(t, err)
	require.True(t, d.Applicable)

	base := d.ByRole(RoleBase)
	require.Len(t, base, 1)
	assert.Equal(t, []string{
		"person_id", "race_concept_id", "race_source_value", "gender_concept_id", "gender_source_value",
	}, base[0].Fields)
	assert.Nil(t, base[0].Filter)
}

func TestSuppress_AlwaysDrop(t *testing.T) {
	target := newTarget(t, testutil.CareSite(), false)
	assert.False(t, Suppress{}.Applicable(target))

	target.AlwaysDrop = []string{"not_here"}
	assert.False(t, Suppress{}.Applicable(target))

	target.AlwaysDrop = []string{"not_here", "care_site_name"}
	d, err := Evaluate(context.Background(), Suppress{}, target)
	require.NoError(t, err)
	assert.True(t, d.Applicable)
	assert.Equal(t, []string{"care_site_id", "place_of_service_concept_id"}, d.Fragments[0].Fields)
}

func TestSuppress_MetaFilter(t *testing.T) {
	target := newTarget(t, testutil.Observation(), true)
	d, err := Evaluate(context.Background(), Suppress{}, target)
	require.NoError(t, err)

	base := d.Fragments[0]
	assert.NotContains(t, base.Fields, "observation_date")
	assert.NotContains(t, base.Fields, "observation_datetime")
	assert.Contains(t, base.Fields, "value_as_string")

	got := sql(t, base.Project([]string{"person_id"}))
	assert.Equal(t,
		"SELECT t.person_id FROM `raw.observation` AS t WHERE (t.observation_source_value IS NULL OR "+
			"t.observation_source_value NOT IN ('ExtraConsent_TodaysDate', 'PIIBirthInformation_BirthDate', 'Insurance_StartDate', "+
			"'Race_WhatRaceEthnicity', 'Gender_GenderIdentity', 'TheBasics_SexualOrientation', 'EducationLevel_HighestGrade', "+
			"'Employment_EmploymentStatus', 'Language_SpokenWrittenLanguage', 'BiologicalSexAtBirth_SexAtBirth'))",
		got)
}

func TestShift_PhysicalJoin(t *testing.T) {
	target := newTarget(t, testutil.Measurement(), false)
	d, err := Evaluate(context.Background(), Shift{}, target)
	require.NoError(t, err)
	require.True(t, d.Applicable)
	require.Empty(t, d.ByRole(RoleUnion))

	joins := d.ByRole(RoleJoin)
	require.Len(t, joins, 1)
	j := joins[0]
	assert.Equal(t, []string{"person_id", "measurement_id"}, j.Keys)
	assert.Equal(t, []string{"person_id", "measurement_id", "measurement_date"}, j.Fields)

	assert.Equal(t,
		"SELECT t.person_id, t.measurement_id, "+
			"DATE_DIFF(SAFE_CAST(t.measurement_date AS DATE), SAFE_CAST(anchor.anchor_date AS DATE), DAY) AS measurement_date "+
			"FROM `raw.measurement` AS t LEFT JOIN (SELECT a.person_id, MAX(a.value_as_string) AS anchor_date "+
			"FROM `raw.observation` AS a WHERE a.observation_source_value = 'ExtraConsent_TodaysDate' GROUP BY a.person_id) AS anchor "+
			"ON anchor.person_id = t.person_id",
		sql(t, j.Project(j.Fields)))
}

func TestShift_JoinFieldsAreDateColumns(t *testing.T) {
	for _, table := range testutil.Tables() {
		target := newTarget(t, table, table.Key.Table == "observation")
		d, err := Evaluate(context.Background(), Shift{}, target)
		require.NoError(t, err)
		for _, j := range d.ByRole(RoleJoin) {
			for _, f := range j.Fields {
				if contains(j.Keys, f) {
					continue
				}
				col, ok := table.Column(f)
				require.True(t, ok, f)
				assert.True(t, col.IsDateLike(), "%s.%s", table.Key, f)
			}
		}
	}
}

func TestShift_PersonKeyedBySubjectOnly(t *testing.T) {
	target := newTarget(t, testutil.Person(), false)
	target.RowKey = "person_id"
	d, err := Evaluate(context.Background(), Shift{}, target)
	require.NoError(t, err)
	j := d.ByRole(RoleJoin)[0]
	assert.Equal(t, []string{"person_id"}, j.Keys)
	assert.Equal(t, []string{"person_id", "birth_datetime"}, j.Fields)
}

func TestShift_DropModeAndMissingRowKey(t *testing.T) {
	target := newTarget(t, testutil.Measurement(), false)
	target.ShiftPhysical = false
	assert.False(t, Shift{}.Applicable(target))

	target = newTarget(t, testutil.ActivitySummary(), false)
	assert.Empty(t, target.RowKey)
	assert.False(t, Shift{}.Applicable(target))
}

func TestShift_MetaTableGetsJoinAndUnion(t *testing.T) {
	target := newTarget(t, testutil.Observation(), true)
	d, err := Evaluate(context.Background(), Shift{}, target)
	require.NoError(t, err)

	require.Len(t, d.ByRole(RoleJoin), 1)
	unions := d.ByRole(RoleUnion)
	require.Len(t, unions, 1)

	u := unions[0]
	assert.Equal(t, []string{"person_id", "value_as_string"}, u.Fields)
	got := sql(t, u.Project([]string{"observation_id", "person_id", "value_as_string"}))
	assert.Contains(t, got,
		"CAST(DATE_DIFF(SAFE_CAST(t.value_as_string AS DATE), SAFE_CAST(anchor.anchor_date AS DATE), DAY) AS STRING) AS value_as_string")
	assert.Contains(t, got,
		"WHERE t.observation_source_value IN ('ExtraConsent_TodaysDate', 'PIIBirthInformation_BirthDate', 'Insurance_StartDate')")
}

func TestGeneralize_PhysicalSubstitutions(t *testing.T) {
	target := newTarget(t, testutil.Person(), false)
	d, err := Evaluate(context.Background(), Generalize{}, target)
	require.NoError(t, err)
	require.True(t, d.Applicable)
	assert.Empty(t, d.Fragments)

	keys := make([]string, 0, len(d.Substitutions))
	for k := range d.Substitutions {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"race_concept_id", "race_source_value", "gender_concept_id", "gender_source_value",
	}, keys)
}

func TestGeneralize_MetaUnionPerCategory(t *testing.T) {
	target := newTarget(t, testutil.Observation(), true)
	d, err := Evaluate(context.Background(), Generalize{}, target)
	require.NoError(t, err)

	unions := d.ByRole(RoleUnion)
	require.Len(t, unions, 7)
	for i, cat := range rules.Defaults() {
		u := unions[i]
		assert.Equal(t, cat.Name, u.Name)
		assert.Equal(t, []string{"person_id", "value_as_string", "value_as_concept_id", "value_source_concept_id", "value_source_value"}, u.Fields)
	}

	got := sql(t, unions[1].Project([]string{"person_id", "value_as_concept_id"}))
	assert.Equal(t,
		"SELECT t.person_id, IF(t.value_source_concept_id IN (1585839, 1585840), t.value_as_concept_id, 2000000002) AS value_as_concept_id "+
			"FROM `raw.observation` AS t WHERE t.observation_source_value IN ('Gender_GenderIdentity')",
		got)
}

func TestGeneralize_NotApplicableWithoutCategoryColumns(t *testing.T) {
	target := newTarget(t, testutil.Measurement(), false)
	assert.False(t, Generalize{}.Applicable(target))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
