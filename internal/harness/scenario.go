package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/all-of-us/cdr-deid/internal/compiler"
)

// Scenario defines a conformance test scenario.
// A scenario compiles tables of the fixture OMOP dataset and asserts on the
// resulting plans and failures.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dataset defaults to the fixture dataset.
	Dataset string `yaml:"dataset,omitempty"`

	// Options are passed to every compilation.
	Options compiler.Options `yaml:"options,omitempty"`

	// Catalog adjusts the fixture concept catalog.
	Catalog CatalogSpec `yaml:"catalog,omitempty"`

	// Flow lists the tables to compile, each at most once.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the compiled plans.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id. Defaults to "scenario-" + Name.
	RunID string `yaml:"run_id,omitempty"`
}

// CatalogSpec describes the concept catalog a scenario compiles against.
type CatalogSpec struct {
	// Without removes fixture concepts by code, e.g. to leave a category
	// with nothing to keep.
	Without []string `yaml:"without,omitempty"`
}

// FlowStep compiles one table.
type FlowStep struct {
	// Compile is the table name.
	Compile string `yaml:"compile"`

	// Expect specifies the expected outcome.
	// If nil, the table is expected to compile.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Case is "Plan" or a compiler error kind (e.g. "CategoryUndefined").
	Case string `yaml:"case"`

	// Policies, when set, must equal the plan's policy names.
	Policies []string `yaml:"policies,omitempty"`
}

// Assertion validates a compiled plan.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fields_absent": none of Fields is in the table's plan
	// - "fields_present": every one of Fields is in the table's plan
	// - "sql_contains": Text occurs in the table's SQL
	// - "sql_not_contains": Text does not occur in the table's SQL
	// - "registered": the registry holds Plans plans and Failures failures
	Type string `yaml:"type"`

	// Table is the table name (all types except registered).
	Table string `yaml:"table,omitempty"`

	// Fields lists output fields (fields_absent, fields_present).
	Fields []string `yaml:"fields,omitempty"`

	// Text is a SQL fragment (sql_contains, sql_not_contains).
	Text string `yaml:"text,omitempty"`

	// Plans and Failures are registry counts (registered).
	Plans    int `yaml:"plans,omitempty"`
	Failures int `yaml:"failures,omitempty"`
}

// Assertion type constants.
const (
	AssertFieldsAbsent   = "fields_absent"
	AssertFieldsPresent  = "fields_present"
	AssertSQLContains    = "sql_contains"
	AssertSQLNotContains = "sql_not_contains"
	AssertRegistered     = "registered"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Flow))
	for i, step := range s.Flow {
		if step.Compile == "" {
			return fmt.Errorf("flow[%d]: compile is required", i)
		}
		if seen[step.Compile] {
			return fmt.Errorf("flow[%d]: table %q compiled twice", i, step.Compile)
		}
		seen[step.Compile] = true
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seen); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, tables map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFieldsAbsent, AssertFieldsPresent:
		if len(a.Fields) == 0 {
			return fmt.Errorf("assertions[%d]: fields list is required for %s", index, a.Type)
		}
	case AssertSQLContains, AssertSQLNotContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertRegistered:
		if a.Plans < 0 || a.Failures < 0 {
			return fmt.Errorf("assertions[%d]: counts must be non-negative for registered", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Table == "" {
		return fmt.Errorf("assertions[%d]: table is required for %s", index, a.Type)
	}
	if !tables[a.Table] {
		return fmt.Errorf("assertions[%d]: table %q is not in the flow", index, a.Table)
	}
	return nil
}

// dataset returns the scenario dataset, defaulting to the fixture dataset.
func (s *Scenario) dataset(fallback string) string {
	if s.Dataset != "" {
		return s.Dataset
	}
	return fallback
}

// tables returns the flow's table names in order.
func (s *Scenario) tables() []string {
	out := make([]string, len(s.Flow))
	for i, step := range s.Flow {
		out[i] = step.Compile
	}
	return out
}
