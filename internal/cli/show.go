package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	RunID string
}

// RunView is the structured rendering of a registered run.
type RunView struct {
	Run      store.Run          `json:"run" yaml:"run"`
	Plans    []store.PlanRecord `json:"plans" yaml:"plans"`
	Failures []store.Failure    `json:"failures" yaml:"failures"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [table]",
		Short: "Show registered plans",
		Long: `Show plans recorded in the registry.

With a table, prints the most recent plan registered for it. Without one,
prints every plan and failure of a run: the one named by --run, or the most
recent run.

Example:
  deid show --registry deid.db -d raw person
  deid show --registry deid.db --run 0190a1b2-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args, cmd)
		},
	}

	cmd.Flags().String("registry", "", "SQLite registry file")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: most recent run)")

	return cmd
}

func runShow(opts *ShowOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	if len(args) == 1 && opts.RunID != "" {
		return outputCommandError(formatter, ErrCodeUsage, errors.New("--run cannot be combined with a table"))
	}

	path := firstNonEmpty(opts.viper.GetString("registry"), opts.config.Registry)
	if path == "" {
		return outputCommandError(formatter, ErrCodeUsage, errors.New("no registry: pass --registry or set registry in the config file"))
	}
	st, err := store.Open(path)
	if err != nil {
		return outputCommandError(formatter, ErrCodeRegistry, err)
	}
	defer st.Close()

	if len(args) == 1 {
		dataset, err := opts.dataset()
		if err != nil {
			return outputCommandError(formatter, ErrCodeUsage, err)
		}
		rec, err := st.LatestPlan(ctx, ir.TableKey{Dataset: dataset, Table: args[0]})
		if err != nil {
			return showError(formatter, err)
		}
		if formatter.Structured() {
			return formatter.Success(rec)
		}
		printPlanRecord(formatter, rec)
		return nil
	}

	view, err := loadRun(ctx, st, opts.RunID)
	if err != nil {
		return showError(formatter, err)
	}
	if formatter.Structured() {
		return formatter.Success(view)
	}

	r := view.Run
	fmt.Fprintf(formatter.Writer, "run %s (%s) started %s\n", r.ID, r.Dataset, r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))
	for _, rec := range view.Plans {
		fmt.Fprintf(formatter.Writer, "%s %s %s\n", markOK, rec.Key, rec.Fingerprint)
	}
	for _, f := range view.Failures {
		fmt.Fprintf(formatter.Writer, "%s %s [%s] %s\n", markFail, f.Key, f.Kind, f.Message)
	}
	return nil
}

// loadRun reads a run with its plans and failures. An empty id selects the
// most recent run.
func loadRun(ctx context.Context, st *store.Store, runID string) (RunView, error) {
	var (
		view RunView
		err  error
	)
	if runID == "" {
		view.Run, err = st.LatestRun(ctx)
		if err != nil {
			return RunView{}, err
		}
	} else {
		runs, err := st.Runs(ctx)
		if err != nil {
			return RunView{}, err
		}
		found := false
		for _, r := range runs {
			if r.ID == runID {
				view.Run, found = r, true
				break
			}
		}
		if !found {
			return RunView{}, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
		}
	}

	if view.Plans, err = st.Plans(ctx, view.Run.ID); err != nil {
		return RunView{}, err
	}
	if view.Failures, err = st.Failures(ctx, view.Run.ID); err != nil {
		return RunView{}, err
	}
	return view, nil
}

func printPlanRecord(formatter *OutputFormatter, rec store.PlanRecord) {
	policies := "passthrough"
	if len(rec.Policies) > 0 {
		policies = fmt.Sprint(rec.Policies)
	}
	fmt.Fprintf(formatter.Writer, "-- %s: %s\n", rec.Key, policies)
	fmt.Fprintf(formatter.Writer, "-- run %s, fingerprint %s\n", rec.RunID, rec.Fingerprint)
	fmt.Fprintf(formatter.Writer, "%s;\n", rec.SQL)
}

// showError reports a registry read error. A missing row is exit code 1;
// anything else is a command error.
func showError(formatter *OutputFormatter, err error) error {
	code := codeFor(err)
	_ = formatter.Error(code, err.Error(), nil)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, "show", err)
	}
	if code == ErrCodeGeneric {
		code = ErrCodeRegistry
	}
	return WrapExitError(ExitCommandError, code, err)
}
