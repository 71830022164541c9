package store

import (
	"path/filepath"
	"testing"

	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

var epoch = testutil.Epoch

// createTestStore creates a new store in a temp dir with a fixed clock.
func createTestStore(t *testing.T) (*Store, *testutil.FixedClock) {
	t.Helper()
	clock := testutil.NewFixedClock(epoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestPlan creates a plan record with minimal required fields.
func createTestPlan(runID, table string) PlanRecord {
	return PlanRecord{
		RunID:       runID,
		Key:         ir.TableKey{Dataset: "raw", Table: table},
		Fingerprint: "fp-" + table,
		SQL:         "SELECT t.a FROM `raw." + table + "` AS t",
		Fields:      []string{"a"},
		Policies:    []string{"suppress"},
	}
}
