package ir

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ConceptRow is one entry of the concept vocabulary.
type ConceptRow struct {
	ID             int64  `json:"concept_id"`
	Code           string `json:"concept_code"`
	Name           string `json:"concept_name"`
	VocabularyID   string `json:"vocabulary_id,omitempty"`
	ConceptClassID string `json:"concept_class_id,omitempty"`
}

// FilterSpec selects concept rows from the catalog.
//
// Empty fields do not constrain the result. Patterns are RE2 regular
// expressions matched case-insensitively anywhere in the value, so a plain
// word works as a substring match.
//
// Semantics:
//
//	vocabulary_id = VocabularyID
//	AND concept_class_id IN ConceptClassIDs
//	AND concept_code ~* CodePattern
//	AND concept_name ~* NamePattern
//	AND NOT (concept_code ~* ExcludePattern OR concept_name ~* ExcludePattern)
type FilterSpec struct {
	VocabularyID    string   `json:"vocabulary_id,omitempty" yaml:"vocabulary_id,omitempty"`
	ConceptClassIDs []string `json:"concept_class_ids,omitempty" yaml:"concept_class_ids,omitempty"`
	CodePattern     string   `json:"code_pattern,omitempty" yaml:"code_pattern,omitempty"`
	NamePattern     string   `json:"name_pattern,omitempty" yaml:"name_pattern,omitempty"`
	ExcludePattern  string   `json:"exclude_pattern,omitempty" yaml:"exclude_pattern,omitempty"`
}

// Key returns a canonical string for the filter, usable as a cache key.
// Concept classes are compared as a set.
func (f FilterSpec) Key() string {
	classes := append([]string(nil), f.ConceptClassIDs...)
	sort.Strings(classes)
	return strings.Join([]string{
		"v=" + f.VocabularyID,
		"c=" + strings.Join(classes, ","),
		"code=" + f.CodePattern,
		"name=" + f.NamePattern,
		"x=" + f.ExcludePattern,
	}, "\x00")
}

// IsZero reports whether the filter has no constraints at all.
func (f FilterSpec) IsZero() bool {
	return f.VocabularyID == "" && len(f.ConceptClassIDs) == 0 &&
		f.CodePattern == "" && f.NamePattern == "" && f.ExcludePattern == ""
}

// CaseInsensitive returns the pattern prefixed with the RE2 (?i) flag.
// Empty patterns stay empty.
func CaseInsensitive(pattern string) string {
	if pattern == "" || strings.HasPrefix(pattern, "(?i)") {
		return pattern
	}
	return "(?i)" + pattern
}

// Matcher evaluates a FilterSpec against rows held in memory.
type Matcher struct {
	spec    FilterSpec
	classes map[string]bool
	code    *regexp.Regexp
	name    *regexp.Regexp
	exclude *regexp.Regexp
}

// Matcher compiles the filter's patterns.
func (f FilterSpec) Matcher() (*Matcher, error) {
	m := &Matcher{spec: f}
	if len(f.ConceptClassIDs) > 0 {
		m.classes = make(map[string]bool, len(f.ConceptClassIDs))
		for _, c := range f.ConceptClassIDs {
			m.classes[c] = true
		}
	}
	var err error
	if m.code, err = compilePattern("code_pattern", f.CodePattern); err != nil {
		return nil, err
	}
	if m.name, err = compilePattern("name_pattern", f.NamePattern); err != nil {
		return nil, err
	}
	if m.exclude, err = compilePattern("exclude_pattern", f.ExcludePattern); err != nil {
		return nil, err
	}
	return m, nil
}

func compilePattern(field, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(CaseInsensitive(pattern))
	if err != nil {
		return nil, fmt.Errorf("filter %s %q: %w", field, pattern, err)
	}
	return re, nil
}

// Match reports whether the row satisfies every constraint of the filter.
func (m *Matcher) Match(row ConceptRow) bool {
	if m.spec.VocabularyID != "" && row.VocabularyID != m.spec.VocabularyID {
		return false
	}
	if m.classes != nil && !m.classes[row.ConceptClassID] {
		return false
	}
	if m.code != nil && !m.code.MatchString(row.Code) {
		return false
	}
	if m.name != nil && !m.name.MatchString(row.Name) {
		return false
	}
	if m.exclude != nil && (m.exclude.MatchString(row.Code) || m.exclude.MatchString(row.Name)) {
		return false
	}
	return true
}

// SortConcepts orders rows by concept id, then code, for deterministic output.
func SortConcepts(rows []ConceptRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ID != rows[j].ID {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].Code < rows[j].Code
	})
}
