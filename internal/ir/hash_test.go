package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFingerprintDeterminism(t *testing.T) {
	key := TableKey{Dataset: "raw", Table: "person"}
	fields := []string{"person_id", "race_concept_id"}

	id1, err := PlanFingerprint(key, fields, "SELECT 1")
	require.NoError(t, err)

	id2, err := PlanFingerprint(key, fields, "SELECT 1")
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "PlanFingerprint must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestPlanFingerprintChangesWithInput(t *testing.T) {
	key := TableKey{Dataset: "raw", Table: "person"}
	base, err := PlanFingerprint(key, []string{"a", "b"}, "SELECT 1")
	require.NoError(t, err)

	reordered, err := PlanFingerprint(key, []string{"b", "a"}, "SELECT 1")
	require.NoError(t, err)
	otherSQL, err := PlanFingerprint(key, []string{"a", "b"}, "SELECT 2")
	require.NoError(t, err)
	otherTable, err := PlanFingerprint(TableKey{Dataset: "raw", Table: "visit"}, []string{"a", "b"}, "SELECT 1")
	require.NoError(t, err)

	assert.NotEqual(t, base, reordered, "field order is part of the identity")
	assert.NotEqual(t, base, otherSQL)
	assert.NotEqual(t, base, otherTable)
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, hashWithDomain("deid/plan/v1", data), hashWithDomain("deid/plan/v2", data))
}
