package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/config"
)

// ConfigCheck is the structured result of config validate.
type ConfigCheck struct {
	File   string                     `json:"file" yaml:"file"`
	Valid  bool                       `json:"valid" yaml:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config file",
		Long: `Validate a config file against the schema and check its compiler options.

Exit codes:
  0  valid
  1  compiler options are invalid
  2  file unreadable or rejected by the schema`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(opts, args[0], cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return outputCommandError(formatter, ErrCodeConfig, err)
	}

	check := ConfigCheck{File: path, Errors: cfg.Check()}
	check.Valid = len(check.Errors) == 0

	if formatter.Structured() {
		if err := formatter.Success(check); err != nil {
			return err
		}
	} else if check.Valid {
		fmt.Fprintf(formatter.Writer, "%s %s is valid\n", markOK, path)
	} else {
		for _, e := range check.Errors {
			fmt.Fprintf(formatter.Writer, "%s %s\n", markFail, e.Error())
		}
	}

	if !check.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d invalid option(s)", path, len(check.Errors)))
	}
	return nil
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective compiler options",
		Long: `Print the compiler options the compile and batch commands would use:
defaults, overridden by the config file, overridden by flags and DEID_*
environment variables. Text output is YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			effective := opts.compilerOptions().WithDefaults()
			if formatter.Structured() {
				return formatter.Success(effective)
			}
			enc := yaml.NewEncoder(formatter.Writer)
			enc.SetIndent(2)
			if err := enc.Encode(effective); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	addCompileFlags(cmd)
	return cmd
}
