package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTables(rootOpts, cmd)
		},
	}
}

func runTables(opts *RootOptions, cmd *cobra.Command) error {
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

	tables, err := c.Tables(ctx, dataset)
	if err != nil {
		return outputCommandError(formatter, codeFor(err), err)
	}

	if formatter.Structured() {
		return formatter.Success(tables)
	}
	for _, t := range tables {
		fmt.Fprintln(formatter.Writer, t)
	}
	return nil
}
