package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSpecKeyIgnoresClassOrder(t *testing.T) {
	a := FilterSpec{VocabularyID: "PPI", ConceptClassIDs: []string{"Question", "PPI Modifier"}, CodePattern: "date"}
	b := FilterSpec{VocabularyID: "PPI", ConceptClassIDs: []string{"PPI Modifier", "Question"}, CodePattern: "date"}
	c := FilterSpec{VocabularyID: "PPI", ConceptClassIDs: []string{"Question"}, CodePattern: "date"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, []string{"Question", "PPI Modifier"}, a.ConceptClassIDs, "Key must not reorder the caller's slice")
}

func TestMatcher(t *testing.T) {
	spec := FilterSpec{
		VocabularyID:    "PPI",
		ConceptClassIDs: []string{"Answer"},
		NamePattern:     "other",
		ExcludePattern:  "native|pacific",
	}
	m, err := spec.Matcher()
	require.NoError(t, err)

	assert.True(t, m.Match(ConceptRow{ID: 1, Code: "WhatRaceEthnicity_RaceEthnicityNoneOfThese", Name: "None Of These / Other", VocabularyID: "PPI", ConceptClassID: "Answer"}))
	assert.False(t, m.Match(ConceptRow{ID: 2, Code: "WhatRaceEthnicity_NHPI", Name: "Native Hawaiian or Other Pacific Islander", VocabularyID: "PPI", ConceptClassID: "Answer"}), "excluded by name")
	assert.False(t, m.Match(ConceptRow{ID: 3, Code: "X", Name: "Other", VocabularyID: "SNOMED", ConceptClassID: "Answer"}), "wrong vocabulary")
	assert.False(t, m.Match(ConceptRow{ID: 4, Code: "X", Name: "Other", VocabularyID: "PPI", ConceptClassID: "Question"}), "wrong class")
}

func TestMatcherCaseInsensitive(t *testing.T) {
	m, err := FilterSpec{CodePattern: "date"}.Matcher()
	require.NoError(t, err)
	assert.True(t, m.Match(ConceptRow{Code: "ExtraConsent_TodaysDate"}))
	assert.True(t, m.Match(ConceptRow{Code: "DATE_OF_BIRTH"}))
	assert.False(t, m.Match(ConceptRow{Code: "Race_WhatRaceEthnicity"}))
}

func TestMatcherInvalidPattern(t *testing.T) {
	_, err := FilterSpec{CodePattern: "("}.Matcher()
	assert.Error(t, err)
}

func TestCaseInsensitive(t *testing.T) {
	assert.Equal(t, "", CaseInsensitive(""))
	assert.Equal(t, "(?i)x", CaseInsensitive("x"))
	assert.Equal(t, "(?i)x", CaseInsensitive("(?i)x"))
}

func TestSortConcepts(t *testing.T) {
	rows := []ConceptRow{{ID: 3}, {ID: 1, Code: "b"}, {ID: 1, Code: "a"}}
	SortConcepts(rows)
	assert.Equal(t, []ConceptRow{{ID: 1, Code: "a"}, {ID: 1, Code: "b"}, {ID: 3}}, rows)
}
