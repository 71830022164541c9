package compiler

import (
	"github.com/all-of-us/cdr-deid/internal/rules"
)

// Physical date handling modes.
const (
	// DatesShift replaces physical date columns with day offsets when the
	// table has a subject key and a row key, and drops them otherwise.
	DatesShift = "shift"
	// DatesDrop always drops physical date columns.
	DatesDrop = "drop"
)

// Options configures one compilation.
//
// Zero-valued fields take their defaults (see DefaultOptions). A nil slice
// means "default"; an empty non-nil slice means "none".
type Options struct {
	// AlwaysDropFields are suppressed from every table. They accumulate
	// across calls on the same Compiler.
	AlwaysDropFields []string `json:"always_drop_fields,omitempty" yaml:"always_drop_fields,omitempty"`

	// MetaTableNames are the tables holding encoded observations.
	MetaTableNames []string `json:"meta_table_names,omitempty" yaml:"meta_table_names,omitempty"`

	// AnchorObservationCode is the code of each subject's anchor-date row.
	AnchorObservationCode string `json:"anchor_observation_code,omitempty" yaml:"anchor_observation_code,omitempty"`

	// AnchorTable holds the anchor-date rows.
	AnchorTable string `json:"anchor_table,omitempty" yaml:"anchor_table,omitempty"`

	// SubjectKeyField is the per-subject key column.
	SubjectKeyField string `json:"subject_key_field,omitempty" yaml:"subject_key_field,omitempty"`

	// CodeField is the meta-table column holding a row's concept code.
	CodeField string `json:"code_field,omitempty" yaml:"code_field,omitempty"`

	// VocabularyID restricts every catalog lookup.
	VocabularyID string `json:"vocabulary_id,omitempty" yaml:"vocabulary_id,omitempty"`

	// ConceptClassIDs restricts question and date-code lookups.
	ConceptClassIDs []string `json:"concept_class_ids,omitempty" yaml:"concept_class_ids,omitempty"`

	// DateCodePattern selects the question codes of encoded dates.
	DateCodePattern string `json:"date_code_pattern,omitempty" yaml:"date_code_pattern,omitempty"`

	// PhysicalDates is DatesShift or DatesDrop.
	PhysicalDates string `json:"physical_dates,omitempty" yaml:"physical_dates,omitempty"`

	// Categories are the generalized attributes.
	Categories []rules.Category `json:"categories,omitempty" yaml:"categories,omitempty"`
}

// DefaultOptions returns the defaults for an OMOP warehouse with PPI
// survey data.
func DefaultOptions() Options {
	return Options{
		AlwaysDropFields:      []string{},
		MetaTableNames:        []string{"observation"},
		AnchorObservationCode: "ExtraConsent_TodaysDate",
		AnchorTable:           "observation",
		SubjectKeyField:       "person_id",
		CodeField:             "observation_source_value",
		VocabularyID:          "PPI",
		ConceptClassIDs:       []string{"Question", "PPI Modifier"},
		DateCodePattern:       "date",
		PhysicalDates:         DatesShift,
		Categories:            rules.Defaults(),
	}
}

// WithDefaults returns o with every unset field filled from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.AlwaysDropFields == nil {
		o.AlwaysDropFields = d.AlwaysDropFields
	}
	if o.MetaTableNames == nil {
		o.MetaTableNames = d.MetaTableNames
	}
	if o.AnchorObservationCode == "" {
		o.AnchorObservationCode = d.AnchorObservationCode
	}
	if o.AnchorTable == "" {
		o.AnchorTable = d.AnchorTable
	}
	if o.SubjectKeyField == "" {
		o.SubjectKeyField = d.SubjectKeyField
	}
	if o.CodeField == "" {
		o.CodeField = d.CodeField
	}
	if o.VocabularyID == "" {
		o.VocabularyID = d.VocabularyID
	}
	if o.ConceptClassIDs == nil {
		o.ConceptClassIDs = d.ConceptClassIDs
	}
	if o.DateCodePattern == "" {
		o.DateCodePattern = d.DateCodePattern
	}
	if o.PhysicalDates == "" {
		o.PhysicalDates = d.PhysicalDates
	}
	if o.Categories == nil {
		o.Categories = d.Categories
	}
	return o
}
