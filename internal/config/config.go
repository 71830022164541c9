// Package config loads deid configuration files.
//
// Files are CUE (.cue), JSON (.json, read as CUE) or YAML (.yaml, .yml).
// Every file is unified with the embedded #Config schema before it is
// decoded, so all formats are validated the same way and errors carry
// file positions.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/all-of-us/cdr-deid/internal/compiler"
)

//go:embed schema.cue
var schemaCUE string

// Warehouse kinds.
const (
	KindBigQuery = "bigquery"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Config is a decoded configuration file.
type Config struct {
	Dataset   string    `json:"dataset,omitempty"`
	Workers   int       `json:"workers,omitempty"`
	Registry  string    `json:"registry,omitempty"`
	Warehouse Warehouse `json:"warehouse"`
	Compiler  Compiler  `json:"compiler"`
	Log       Log       `json:"log"`
}

// Warehouse selects and addresses the warehouse adapter.
type Warehouse struct {
	Kind    string `json:"kind,omitempty"`
	Project string `json:"project,omitempty"`
	DSN     string `json:"dsn,omitempty"`

	// Attach maps SQLite dataset names to database files.
	Attach map[string]string `json:"attach,omitempty"`
}

// Log configures logging.
type Log struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// Compiler is the compiler section. Concept classes may be written as a
// list or as one comma-separated string.
type Compiler struct {
	compiler.Options
	ConceptClassIDs ClassList `json:"concept_class_ids,omitempty"`
}

// ToOptions returns the compiler options. Unset fields stay unset so the
// compiler fills its defaults.
func (c Compiler) ToOptions() compiler.Options {
	o := c.Options
	if c.ConceptClassIDs != nil {
		o.ConceptClassIDs = []string(c.ConceptClassIDs)
	}
	return o
}

// ClassList is a list of concept class ids.
type ClassList []string

// UnmarshalJSON accepts ["a", "b"] or "a,b".
func (l *ClassList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("concept_class_ids: want a list or a comma-separated string")
	}
	*l = ParseClassList(s)
	return nil
}

// ParseClassList splits a comma-separated class list, trimming blanks.
func ParseClassList(s string) ClassList {
	out := ClassList{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadError is a configuration error with an optional file position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Field: "file", Message: err.Error()}
	}
	return Parse(path, data)
}

// Parse validates data against the schema and decodes it. The filename
// extension selects the format.
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	var v cue.Value
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		file, err := cueyaml.Extract(filename, data)
		if err != nil {
			return nil, formatCUEError(err)
		}
		v = ctx.BuildFile(file)
	case ".cue", ".json":
		v = ctx.CompileBytes(data, cue.Filename(filename))
	default:
		return nil, &LoadError{Field: "file", Message: fmt.Sprintf("unsupported config format %q", filepath.Ext(filename))}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, &LoadError{Field: "config", Message: err.Error()}
	}
	return cfg, nil
}

// Check validates the compiler section as the compiler would see it.
func (c *Config) Check() []compiler.ValidationError {
	return c.Compiler.ToOptions().WithDefaults().Validate()
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "cue"
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	positions := errors.Positions(first)
	if len(positions) > 0 {
		// Prefer a position in the user's file over one in the schema.
		pos := positions[0]
		for _, p := range positions {
			if p.Filename() != "schema.cue" {
				pos = p
				break
			}
		}
		return &LoadError{
			Field:   field,
			Message: first.Error(),
			Pos:     pos,
		}
	}
	return &LoadError{Field: field, Message: first.Error()}
}
