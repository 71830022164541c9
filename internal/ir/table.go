package ir

import (
	"fmt"
	"strings"
)

// LogicalType classifies a column for policy decisions.
// Only the date-like/other distinction matters to the compiler.
type LogicalType string

const (
	// TypeDateLike marks DATE, DATETIME and TIMESTAMP columns.
	TypeDateLike LogicalType = "DATE_LIKE"

	// TypeOther marks every other column type.
	TypeOther LogicalType = "OTHER"
)

// LogicalTypeOf maps a warehouse-native type name to its LogicalType.
// Matching is case-insensitive; parameterized types such as
// "TIMESTAMP WITH TIME ZONE" are matched on their leading word.
func LogicalTypeOf(native string) LogicalType {
	word := strings.ToUpper(strings.TrimSpace(native))
	if i := strings.IndexAny(word, " ("); i >= 0 {
		word = word[:i]
	}
	switch word {
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return TypeDateLike
	default:
		return TypeOther
	}
}

// TableKey identifies a table within the warehouse.
// It is the cache key for schemas, policy decisions and plans.
type TableKey struct {
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

// String returns the dotted "dataset.table" form used in logs and reports.
func (k TableKey) String() string {
	return k.Dataset + "." + k.Table
}

// ParseTableKey parses "dataset.table". The table part may not contain dots.
func ParseTableKey(s string) (TableKey, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return TableKey{}, fmt.Errorf("invalid table key %q: want dataset.table", s)
	}
	return TableKey{Dataset: s[:i], Table: s[i+1:]}, nil
}

// ColumnDescriptor describes one column of a table.
type ColumnDescriptor struct {
	Name       string      `json:"name"`
	Type       LogicalType `json:"type"`
	NativeType string      `json:"native_type,omitempty"`
}

// IsDateLike reports whether the column holds dates or timestamps.
func (c ColumnDescriptor) IsDateLike() bool {
	return c.Type == TypeDateLike
}

// TableDescriptor is the ordered column list of one table.
//
// Descriptors returned by a schema provider are shared through caches;
// callers must not mutate Columns.
type TableDescriptor struct {
	Key     TableKey           `json:"key"`
	Columns []ColumnDescriptor `json:"columns"`
}

// ColumnNames returns all column names in declaration order.
func (t *TableDescriptor) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// DateColumns returns the names of date-like columns in declaration order.
func (t *TableDescriptor) DateColumns() []string {
	var names []string
	for _, c := range t.Columns {
		if c.IsDateLike() {
			names = append(names, c.Name)
		}
	}
	return names
}

// HasColumn reports whether the table has a column with the given name.
func (t *TableDescriptor) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column returns the descriptor of the named column.
func (t *TableDescriptor) Column(name string) (ColumnDescriptor, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// Validate checks that the descriptor has a key, at least one column and
// no duplicate column names.
func (t *TableDescriptor) Validate() error {
	if t.Key.Dataset == "" || t.Key.Table == "" {
		return fmt.Errorf("table descriptor: dataset and table are required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Key)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table %s: empty column name", t.Key)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %q", t.Key, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
