package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/config"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/schema"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

const careSiteSQL = "SELECT t.care_site_id, t.care_site_name, t.place_of_service_concept_id FROM `raw.care_site` AS t"

// staticBackend serves the OMOP fixtures without a warehouse.
func staticBackend(concepts []ir.ConceptRow) BackendFunc {
	return func(context.Context, *config.Config) (*Backend, error) {
		return &Backend{
			Schema:  schema.NewStatic(testutil.Tables()...),
			Catalog: catalog.NewStatic(concepts),
		}, nil
	}
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, opts *RootOptions, args ...string) cliResult {
	t.Helper()
	if opts.OpenBackend == nil {
		opts.OpenBackend = staticBackend(testutil.Concepts())
	}
	if opts.RunIDs == nil {
		opts.RunIDs = testutil.NewFixedRunID("run-1")
	}
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommandWithOptions(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCompile_TextPassthrough(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "care_site")
	require.NoError(t, res.err)
	assert.Equal(t, "-- raw.care_site: passthrough\n"+careSiteSQL+";\n", res.stdout)
}

func TestCompile_JSONWithFlagOverrides(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "--format", "json", "--dates", "drop", "person", "care_site")
	require.NoError(t, res.err)

	var resp struct {
		Status string     `json:"status"`
		Data   []PlanView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "raw.person", resp.Data[0].Table)
	assert.Equal(t, []string{"suppress", "generalize"}, resp.Data[0].Policies)
	assert.NotContains(t, resp.Data[0].Fields, "birth_datetime")
	assert.Len(t, resp.Data[0].Fingerprint, 64)
	assert.Equal(t, []string{}, resp.Data[1].Policies)
}

func TestCompile_AlwaysDropFlag(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "--always-drop", "care_site_name", "care_site")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "care_site_name")
	assert.Contains(t, res.stdout, "-- raw.care_site: suppress")
}

func TestCompile_ConfigFileAndFlagPrecedence(t *testing.T) {
	cfg := writeFile(t, "deid.yaml", `dataset: raw
compiler:
  physical_dates: drop
  always_drop_fields: [care_site_name]
`)

	res := runCLI(t, &RootOptions{}, "compile", "-c", cfg, "--format", "json", "person")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "birth_datetime")

	res = runCLI(t, &RootOptions{}, "compile", "-c", cfg, "--dates", "shift", "person")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "-- raw.person: suppress, shift, generalize")
}

func TestCompile_DatasetFromEnvironment(t *testing.T) {
	t.Setenv("DEID_DATASET", "raw")
	res := runCLI(t, &RootOptions{}, "compile", "care_site")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, careSiteSQL)
}

func TestCompile_UnknownTable(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "--format", "json", "nope")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSchemaNotFound, resp.Error.Code)
}

func TestCompile_CategoryUndefined(t *testing.T) {
	opts := &RootOptions{OpenBackend: staticBackend(testutil.ConceptsWithout("GenderIdentity_Man", "GenderIdentity_Woman"))}
	res := runCLI(t, opts, "compile", "-d", "raw", "person")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error ["+ErrCodeCategoryUndefined+"]")
}

func TestCompile_NoDataset(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "person")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, ErrCodeUsage)
}

func TestCompile_BackendFailure(t *testing.T) {
	opts := &RootOptions{OpenBackend: func(context.Context, *config.Config) (*Backend, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	res := runCLI(t, opts, "compile", "-d", "raw", "person")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, ErrCodeWarehouse)
}

func TestCompile_OutputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "care_site.sql")
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "-o", out, "care_site")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Wrote 1 plan(s)")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "-- raw.care_site: passthrough\n"+careSiteSQL+";\n", string(data))
}

func TestRoot_InvalidFormat(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "compile", "-d", "raw", "--format", "xml", "person")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestRoot_BadConfigFile(t *testing.T) {
	cfg := writeFile(t, "deid.yaml", "workers: 0\n")
	res := runCLI(t, &RootOptions{}, "compile", "-c", cfg, "person")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Equal(t, ErrCodeConfig, codeFor(res.err))
}

func TestTables(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "tables", "-d", "raw")
	require.NoError(t, res.err)
	assert.Equal(t, "activity_summary\ncare_site\nmeasurement\nobservation\nperson\n", res.stdout)
}

func TestBatch_RegistersRun(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "deid.db")
	opts := &RootOptions{OpenBackend: staticBackend(testutil.ConceptsWithout("GenderIdentity_Man", "GenderIdentity_Woman"))}

	res := runCLI(t, opts, "batch", "-d", "raw", "--registry", registry, "--workers", "2")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "raw.care_site")
	assert.Contains(t, res.stdout, "[CategoryUndefined]")
	assert.Contains(t, res.stdout, "run run-1: 3 succeeded, 2 failed\n")

	res = runCLI(t, &RootOptions{}, "show", "--registry", registry, "--format", "json")
	require.NoError(t, res.err)
	var resp struct {
		Data RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "run-1", resp.Data.Run.ID)
	assert.Equal(t, "raw", resp.Data.Run.Dataset)
	assert.Len(t, resp.Data.Plans, 3)
	require.Len(t, resp.Data.Failures, 2)
	assert.Equal(t, "CategoryUndefined", resp.Data.Failures[0].Kind)

	res = runCLI(t, &RootOptions{}, "show", "--registry", registry, "-d", "raw", "care_site")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "-- raw.care_site: passthrough\n-- run run-1, fingerprint ")
	assert.Contains(t, res.stdout, careSiteSQL+";\n")
}

func TestBatch_AllSucceed(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "batch", "-d", "raw", "--format", "yaml", "care_site", "measurement")
	require.NoError(t, res.err)

	var resp struct {
		Status string      `yaml:"status"`
		Data   BatchResult `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.RunID)
	assert.Equal(t, 2, resp.Data.Succeeded)
	require.Len(t, resp.Data.Tables, 2)
	assert.Equal(t, "care_site", resp.Data.Tables[0].Table)
	assert.Equal(t, "ok", resp.Data.Tables[1].Status)
}

func TestShow_Errors(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "deid.db")

	res := runCLI(t, &RootOptions{}, "show")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err), "no registry")

	res = runCLI(t, &RootOptions{}, "show", "--registry", registry)
	assert.Equal(t, ExitFailure, GetExitCode(res.err), "empty registry")
	assert.Contains(t, res.stdout, ErrCodeNotFound)

	res = runCLI(t, &RootOptions{}, "show", "--registry", registry, "--run", "missing")
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	res = runCLI(t, &RootOptions{}, "show", "--registry", registry, "--run", "x", "person")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestConfigValidate(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "config", "validate", "../config/testdata/deid.cue")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "is valid")

	bad := writeFile(t, "bad.yaml", "compiler:\n  date_code_pattern: \"(\"\n")
	res = runCLI(t, &RootOptions{}, "config", "validate", "--format", "json", bad)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	var resp struct {
		Data ConfigCheck `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "date_code_pattern", resp.Data.Errors[0].Field)

	res = runCLI(t, &RootOptions{}, "config", "validate", filepath.Join(t.TempDir(), "missing.cue"))
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, ErrCodeConfig)
}

func TestConfigShow(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "config", "show", "--dates", "drop", "--concept-classes", "Question, PPI Modifier")
	require.NoError(t, res.err)

	var opts map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &opts))
	assert.Equal(t, "drop", opts["physical_dates"])
	assert.Equal(t, []any{"Question", "PPI Modifier"}, opts["concept_class_ids"])
	assert.Equal(t, "person_id", opts["subject_key_field"])
}

func TestConfigShow_NoMetaTables(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "config", "show", "--format", "json", "--no-meta-tables")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "meta_table_names")
}

func TestRoot_Version(t *testing.T) {
	res := runCLI(t, &RootOptions{}, "--version")
	require.NoError(t, res.err)
	assert.Equal(t, "deid version "+ir.CompilerVersion+"\n", res.stdout)
}
