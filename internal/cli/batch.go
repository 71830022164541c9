package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/engine"
	"github.com/all-of-us/cdr-deid/internal/store"
)

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
}

// BatchResult is the structured rendering of a run.
type BatchResult struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Dataset   string        `json:"dataset" yaml:"dataset"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Tables    []TableStatus `json:"tables" yaml:"tables"`
}

// TableStatus is one table's outcome in a run.
type TableStatus struct {
	Table       string `json:"table" yaml:"table"`
	Status      string `json:"status" yaml:"status"`
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch [table...]",
		Short: "Compile many tables concurrently and register the plans",
		Long: `Compile tables of the dataset in parallel under one run id.

With no tables, every table in the dataset is compiled. A table that fails
does not stop the others. With a registry, every plan and failure is
recorded against the run.

Example:
  deid batch -c deid.cue --registry deid.db
  deid batch -d raw --workers 4 person observation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args, cmd)
		},
	}

	cmd.Flags().Int("workers", 0, "tables compiled at once (default: number of CPUs)")
	cmd.Flags().String("registry", "", "SQLite registry file recording the run")
	addCompileFlags(cmd)

	return cmd
}

func runBatch(opts *BatchOptions, tables []string, cmd *cobra.Command) error {
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

	engineOpts := []engine.EngineOption{
		engine.WithWorkers(opts.workers()),
		engine.WithLogger(opts.log),
	}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if path := firstNonEmpty(opts.viper.GetString("registry"), opts.config.Registry); path != "" {
		st, err := store.Open(path)
		if err != nil {
			return outputCommandError(formatter, ErrCodeRegistry, err)
		}
		defer st.Close()
		engineOpts = append(engineOpts, engine.WithRegistry(st))
	}

	e := engine.New(c, engineOpts...)
	report, err := e.Run(ctx, dataset, tables, opts.compilerOptions())
	if err != nil {
		return outputCommandError(formatter, codeFor(err), err)
	}

	result := BatchResult{
		RunID:     report.RunID,
		Dataset:   report.Dataset,
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
		Tables:    make([]TableStatus, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		result.Tables = append(result.Tables, statusOf(res))
	}

	if formatter.Structured() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, ts := range result.Tables {
			if ts.Status == "ok" {
				fmt.Fprintf(formatter.Writer, "%s %s.%s %s\n", markOK, dataset, ts.Table, ts.Fingerprint)
			} else {
				fmt.Fprintf(formatter.Writer, "%s %s.%s [%s] %s\n", markFail, dataset, ts.Table, ts.Kind, ts.Error)
			}
		}
		fmt.Fprintf(formatter.Writer, "run %s: %d succeeded, %d failed\n", result.RunID, result.Succeeded, result.Failed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d table(s) failed", result.Failed))
	}
	return nil
}

func statusOf(res engine.TableResult) TableStatus {
	if res.Err != nil {
		return TableStatus{
			Table:  res.Table,
			Status: "failed",
			Kind:   compiler.ErrorKind(res.Err),
			Error:  res.Err.Error(),
		}
	}
	return TableStatus{Table: res.Table, Status: "ok", Fingerprint: res.Plan.Fingerprint}
}

// workers resolves the worker count from flags, environment and config.
func (o *RootOptions) workers() int {
	if n := o.viper.GetInt("workers"); n > 0 {
		return n
	}
	return o.config.Workers
}
