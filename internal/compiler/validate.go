package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/all-of-us/cdr-deid/internal/ir"
)

// Option validation error codes (E100-E199)
const (
	ErrSubjectKeyEmpty   = "E101" // subject key field is required
	ErrAnchorCodeEmpty   = "E102" // anchor observation code is required
	ErrAnchorTableEmpty  = "E103" // anchor table is required
	ErrInvalidDatesMode  = "E104" // physical_dates must be shift or drop
	ErrEmptyName         = "E105" // empty table or field name in a list
	ErrInvalidPattern    = "E106" // pattern is not a valid regular expression
	ErrInvalidCategory   = "E107" // category cannot be resolved
	ErrDuplicateCategory = "E108" // two categories share a name
	ErrCodeFieldEmpty    = "E109" // code field is required
)

// ErrInvalidOptions is matched by the error Options.Check returns.
var ErrInvalidOptions = errors.New("invalid options")

// ValidationError describes one invalid option.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks the options. Returns all errors found (does not
// fail-fast). Call it on options that already went through WithDefaults.
func (o Options) Validate() []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if o.SubjectKeyField == "" {
		add(ErrSubjectKeyEmpty, "subject_key_field", "is required")
	}
	if o.AnchorObservationCode == "" {
		add(ErrAnchorCodeEmpty, "anchor_observation_code", "is required")
	}
	if o.AnchorTable == "" {
		add(ErrAnchorTableEmpty, "anchor_table", "is required")
	}
	if o.CodeField == "" {
		add(ErrCodeFieldEmpty, "code_field", "is required")
	}
	if o.PhysicalDates != DatesShift && o.PhysicalDates != DatesDrop {
		add(ErrInvalidDatesMode, "physical_dates", "must be %q or %q, got %q", DatesShift, DatesDrop, o.PhysicalDates)
	}
	for i, name := range o.MetaTableNames {
		if name == "" {
			add(ErrEmptyName, fmt.Sprintf("meta_table_names[%d]", i), "empty table name")
		}
	}
	for i, name := range o.AlwaysDropFields {
		if name == "" {
			add(ErrEmptyName, fmt.Sprintf("always_drop_fields[%d]", i), "empty field name")
		}
	}
	if _, err := regexp.Compile(ir.CaseInsensitive(o.DateCodePattern)); err != nil {
		add(ErrInvalidPattern, "date_code_pattern", "%v", err)
	}

	seen := make(map[string]bool, len(o.Categories))
	for i, c := range o.Categories {
		field := fmt.Sprintf("categories[%d]", i)
		if err := c.Validate(); err != nil {
			add(ErrInvalidCategory, field, "%v", err)
			continue
		}
		if seen[c.Name] {
			add(ErrDuplicateCategory, field, "duplicate category %q", c.Name)
		}
		seen[c.Name] = true
		for part, f := range map[string]ir.FilterSpec{"questions": c.Questions, "kept": c.Kept, "sentinel": c.Sentinel} {
			if _, err := f.Matcher(); err != nil {
				add(ErrInvalidPattern, field+"."+part, "%v", err)
			}
		}
	}
	sortValidationErrors(errs)
	return errs
}

// Check is Validate folded into a single error matching ErrInvalidOptions.
func (o Options) Check() error {
	errs := o.Validate()
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(joined...))
}

// sortValidationErrors orders errors by field so output is stable despite
// map iteration above.
func sortValidationErrors(errs []ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Message < errs[j].Message
	})
}
