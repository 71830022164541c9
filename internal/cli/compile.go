package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/config"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// PlanView is the structured rendering of a plan.
type PlanView struct {
	Table       string   `json:"table" yaml:"table"`
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
	Policies    []string `json:"policies" yaml:"policies"`
	Fields      []string `json:"fields" yaml:"fields"`
	SQL         string   `json:"sql" yaml:"sql"`
}

func viewOf(p *compiler.QueryPlan) PlanView {
	policies := p.Policies
	if policies == nil {
		policies = []string{}
	}
	return PlanView{
		Table:       p.Key.String(),
		Fingerprint: p.Fingerprint,
		Policies:    policies,
		Fields:      p.Fields,
		SQL:         p.SQL,
	}
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <table>...",
		Short: "Compile de-identification queries for tables",
		Long: `Compile the de-identification query of each named table.

Tables are compiled in order against one compiler, so schema and concept
lookups are shared. The first table that fails stops the command.

Example:
  deid compile -c deid.cue person observation
  deid compile -d raw --dates drop --format json person`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write SQL to this file instead of stdout")
	addCompileFlags(cmd)

	return cmd
}

// addCompileFlags registers the flags that override the config's compiler
// section.
func addCompileFlags(cmd *cobra.Command) {
	cmd.Flags().String("dates", "", "physical date handling (shift|drop)")
	cmd.Flags().StringSlice("always-drop", nil, "fields suppressed from every table")
	cmd.Flags().StringSlice("meta-tables", nil, "tables holding encoded observations")
	cmd.Flags().Bool("no-meta-tables", false, "treat no table as a meta table")
	cmd.Flags().String("vocabulary", "", "vocabulary id for concept lookups")
	cmd.Flags().String("concept-classes", "", "comma-separated concept classes for question lookups")
}

// compilerOptions returns the config's compiler section with flag and
// environment overrides applied.
func (o *RootOptions) compilerOptions() compiler.Options {
	opts := o.config.Compiler.ToOptions()
	v := o.viper
	if s := v.GetString("dates"); s != "" {
		opts.PhysicalDates = s
	}
	if s := v.GetStringSlice("always-drop"); len(s) > 0 {
		opts.AlwaysDropFields = s
	}
	if s := v.GetStringSlice("meta-tables"); len(s) > 0 {
		opts.MetaTableNames = s
	}
	if v.GetBool("no-meta-tables") {
		opts.MetaTableNames = []string{}
	}
	if s := v.GetString("vocabulary"); s != "" {
		opts.VocabularyID = s
	}
	if s := v.GetString("concept-classes"); s != "" {
		opts.ConceptClassIDs = config.ParseClassList(s)
	}
	return opts
}

func runCompile(opts *CompileOptions, tables []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	dataset, err := opts.dataset()
	if err != nil {
		return outputCommandError(formatter, ErrCodeUsage, err)
	}
	c, closeFn, err := opts.openCompiler(ctx)
	if err != nil {
		return outputCommandError(formatter, ErrCodeWarehouse, err)
	}
	defer closeFn()

	copts := opts.compilerOptions()
	views := make([]PlanView, 0, len(tables))
	for _, table := range tables {
		formatter.VerboseLog("Compiling %s.%s", dataset, table)
		plan, err := c.Compile(ctx, dataset, table, copts)
		if err != nil {
			_ = formatter.Error(codeFor(err), err.Error(), map[string]string{
				"table": dataset + "." + table,
				"kind":  compiler.ErrorKind(err),
			})
			return WrapExitError(ExitFailure, "compile "+table, err)
		}
		views = append(views, viewOf(plan))
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(renderSQL(views)), 0o644); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Errorf("writing output file: %w", err))
		}
		if !formatter.Structured() {
			fmt.Fprintf(formatter.Writer, "%s Wrote %d plan(s) to %s\n", markOK, len(views), opts.Output)
			return nil
		}
	}

	if formatter.Structured() {
		return formatter.Success(views)
	}
	fmt.Fprint(formatter.Writer, renderSQL(views))
	return nil
}

// renderSQL renders plans as a SQL script, one commented statement per
// table.
func renderSQL(views []PlanView) string {
	var b strings.Builder
	for i, v := range views {
		if i > 0 {
			b.WriteString("\n")
		}
		policies := strings.Join(v.Policies, ", ")
		if policies == "" {
			policies = "passthrough"
		}
		fmt.Fprintf(&b, "-- %s: %s\n%s;\n", v.Table, policies, v.SQL)
	}
	return b.String()
}

// outputCommandError reports a command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}
