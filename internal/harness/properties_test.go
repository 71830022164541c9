package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

const careSiteSQL = "SELECT t.care_site_id, t.care_site_name, t.place_of_service_concept_id FROM `raw.care_site` AS t"

func careSiteContext(plan *compiler.QueryPlan) *PropertyContext {
	return &PropertyContext{
		Table: testutil.CareSite(),
		Plan:  plan,
		Recompile: func(context.Context) (*compiler.QueryPlan, error) {
			return &compiler.QueryPlan{SQL: careSiteSQL, Fingerprint: "f1"}, nil
		},
	}
}

func TestCheckProperties_Holds(t *testing.T) {
	pc := careSiteContext(&compiler.QueryPlan{
		Fields:      []string{"care_site_id", "care_site_name", "place_of_service_concept_id"},
		SQL:         careSiteSQL,
		Fingerprint: "f1",
	})
	assert.Empty(t, CheckProperties(context.Background(), pc))
}

func TestCheckProperties_Violations(t *testing.T) {
	tests := []struct {
		name     string
		plan     *compiler.QueryPlan
		property string
	}{
		{
			name:     "duplicate fields",
			plan:     &compiler.QueryPlan{Fields: []string{"care_site_id", "care_site_id"}, SQL: careSiteSQL, Fingerprint: "f1", Policies: []string{"suppress"}},
			property: "no_duplicate_fields",
		},
		{
			name:     "field that is not a column",
			plan:     &compiler.QueryPlan{Fields: []string{"person_id"}, SQL: careSiteSQL, Fingerprint: "f1", Policies: []string{"suppress"}},
			property: "field_count",
		},
		{
			name: "misaligned union branches",
			plan: &compiler.QueryPlan{
				Fields:      []string{"care_site_id", "care_site_name"},
				SQL:         careSiteSQL,
				Fingerprint: "f1",
				Policies:    []string{"suppress"},
				Query: &queryir.Select{
					Projection: queryir.Columns("u", []string{"care_site_id", "care_site_name"}),
					From: &queryir.Subquery{Alias: "u", Query: &queryir.UnionAll{Branches: []*queryir.Select{
						selectCols("care_site_id", "care_site_name"),
						selectCols("care_site_name", "care_site_id"),
					}}},
				},
			},
			property: "union_alignment",
		},
		{
			name:     "passthrough that rewrites",
			plan:     &compiler.QueryPlan{Fields: []string{"care_site_id"}, SQL: "SELECT t.care_site_id FROM `raw.care_site` AS t", Fingerprint: "f1"},
			property: "passthrough",
		},
		{
			name:     "recompiled plan differs",
			plan:     &compiler.QueryPlan{Fields: []string{"care_site_id"}, SQL: careSiteSQL, Fingerprint: "f2", Policies: []string{"suppress"}},
			property: "idempotent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := CheckProperties(context.Background(), careSiteContext(tt.plan))
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0], "property "+tt.property+" (raw.care_site)")
		})
	}
}

func selectCols(names ...string) *queryir.Select {
	return &queryir.Select{
		Projection: queryir.Columns("t", names),
		From:       &queryir.TableRef{Dataset: testutil.Dataset, Table: "care_site", Alias: "t"},
	}
}

func TestCheckProperties_CategoryCompleteness(t *testing.T) {
	race := "race_concept_id"
	generalized := queryir.As(queryir.If{
		Cond: queryir.In{Expr: queryir.Col("t", race), Values: queryir.Ints([]int64{1})},
		Then: queryir.Col("t", race),
		Else: queryir.IntLit(2),
	}, race)
	personQuery := func(p queryir.Projection) *queryir.Select {
		return &queryir.Select{
			Projection: []queryir.Projection{queryir.As(queryir.Col("t", "person_id"), "person_id"), p},
			From:       &queryir.TableRef{Dataset: testutil.Dataset, Table: "person", Alias: "t"},
		}
	}
	branches := func(n int) queryir.Query {
		var bs []*queryir.Select
		for i := 0; i < n; i++ {
			bs = append(bs, selectCols("observation_id", "person_id"))
		}
		return &queryir.Select{
			Projection: queryir.Columns("u", []string{"observation_id", "person_id"}),
			From:       &queryir.Subquery{Alias: "u", Query: &queryir.UnionAll{Branches: bs}},
		}
	}

	tests := []struct {
		name    string
		table   *ir.TableDescriptor
		fields  []string
		query   queryir.Query
		wantErr string
	}{
		{
			name:   "physical column generalized",
			table:  testutil.Person(),
			fields: []string{"person_id", race},
			query:  personQuery(generalized),
		},
		{
			name:    "physical column passed through",
			table:   testutil.Person(),
			fields:  []string{"person_id", race},
			query:   personQuery(queryir.As(queryir.Col("t", race), race)),
			wantErr: "category race: field race_concept_id is not generalized",
		},
		{
			name:   "meta-table with a branch per category",
			table:  testutil.Observation(),
			fields: []string{"observation_id", "person_id"},
			query:  branches(9),
		},
		{
			name:    "meta-table missing category branches",
			table:   testutil.Observation(),
			fields:  []string{"observation_id", "person_id"},
			query:   branches(3),
			wantErr: "no union with 9 branches",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := &PropertyContext{
				Table:   tt.table,
				Options: compiler.DefaultOptions(),
				Plan: &compiler.QueryPlan{
					Fields:   tt.fields,
					Policies: []string{"suppress", "shift", "generalize"},
					Query:    tt.query,
				},
			}
			err := categoryCompleteness(context.Background(), pc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
