package cli

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/config"
	"github.com/all-of-us/cdr-deid/internal/engine"
	"github.com/all-of-us/cdr-deid/internal/ir"
)

// EnvPrefix prefixes environment variables that stand in for flags, e.g.
// DEID_DATASET or DEID_LOG_LEVEL.
const EnvPrefix = "DEID"

// RootOptions holds global flags and the state shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	ConfigFile string
	Dataset    string
	LogLevel   string
	LogFile    string

	// OpenBackend opens the warehouse. Defaults to OpenWarehouse.
	OpenBackend BackendFunc

	// RunIDs overrides the batch run id generator.
	RunIDs engine.RunIDGenerator

	viper  *viper.Viper
	config *config.Config
	log    *logrus.Logger
}

// NewRootCommand creates the root command for the deid CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts, letting
// callers inject a warehouse backend.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deid",
		Short: "Compile de-identification plans for an OMOP warehouse",
		Long: `deid compiles, for each table of a raw OMOP/PPI dataset, a BigQuery query
that suppresses identifying fields, shifts dates relative to each person's
consent date and generalizes rare demographic answers.

Settings come from a CUE, YAML or JSON config file (--config); flags and
DEID_* environment variables override it.`,
		Version:       ir.CompilerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (.cue, .yaml, .json)")
	cmd.PersistentFlags().StringVarP(&opts.Dataset, "dataset", "d", "", "raw dataset to read")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "write logs to a rotated file")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// setup layers flags and environment over the config file and builds the
// logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "binding flags", err)
	}
	o.viper = v

	o.Format = v.GetString("format")
	o.Verbose = v.GetBool("verbose")
	o.ConfigFile = v.GetString("config")
	o.Dataset = v.GetString("dataset")
	o.LogLevel = v.GetString("log-level")
	o.LogFile = v.GetString("log-file")

	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, "invalid format "+o.Format+": must be one of "+strings.Join(ValidFormats, ", "))
	}

	cfg := &config.Config{}
	if o.ConfigFile != "" {
		loaded, err := config.Load(o.ConfigFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "loading config", err)
		}
		cfg = loaded
	}
	if o.Dataset != "" {
		cfg.Dataset = o.Dataset
	}
	o.config = cfg

	level := firstNonEmpty(o.LogLevel, cfg.Log.Level)
	if level == "" && o.Verbose {
		level = "debug"
	}
	log, err := newLogger(cmd.ErrOrStderr(), level, firstNonEmpty(o.LogFile, cfg.Log.File))
	if err != nil {
		return WrapExitError(ExitCommandError, "configuring logging", err)
	}
	o.log = log
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// dataset returns the dataset to read, failing when none is configured.
func (o *RootOptions) dataset() (string, error) {
	if o.config.Dataset == "" {
		return "", NewExitError(ExitCommandError, "no dataset: pass --dataset or set dataset in the config file")
	}
	return o.config.Dataset, nil
}

// openCompiler opens the warehouse and wraps it in a compiler. The
// returned func closes the warehouse.
func (o *RootOptions) openCompiler(ctx context.Context) (*compiler.Compiler, func(), error) {
	open := o.OpenBackend
	if open == nil {
		open = OpenWarehouse
	}
	b, err := open(ctx, o.config)
	if err != nil {
		return nil, nil, err
	}
	c := compiler.New(b.Schema, b.Catalog, compiler.WithLogger(o.log))
	closeFn := func() {
		if b.Close != nil {
			if err := b.Close(); err != nil {
				o.log.WithError(err).Warn("closing warehouse")
			}
		}
	}
	return c, closeFn, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
