package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Rebalancy/agent-contracts/internal/engine"
	"github.com/Rebalancy/agent-contracts/internal/signer"
	"github.com/Rebalancy/agent-contracts/internal/store"
)

// EnvPrefix prefixes every environment variable the CLI reads, e.g.
// REBALANCER_DB or REBALANCER_KEY_PATH.
const EnvPrefix = "REBALANCER"

// RootOptions holds global flags for all commands.
//
// Every field can also be set in the --config file or through the
// environment; flags given on the command line win.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigFile string
	Timeout    time.Duration
	KeyPath    string
	KeyVersion uint32

	// Logger is built in PersistentPreRunE from Verbose.
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rebalancer CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "rebalancer",
		Short: "Rebalance orchestration engine",
		Long: `Inspect and administer the rebalancer's state: the active session,
activity logs, cached signatures, workers, approved code identities and
chain configuration. Scenarios can be run against an in-memory engine.

Flags may also be set in a config file (--config) or through
REBALANCER_* environment variables, e.g. REBALANCER_DB=./rebalancer.db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v, cmd, opts); err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.Database, "db", "rebalancer.db", "path to SQLite database")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (yaml, json or toml)")
	flags.DurationVar(&opts.Timeout, "timeout", engine.DefaultOperationsTimeout, "operations timeout")
	flags.StringVar(&opts.KeyPath, "key-path", signer.DefaultKeyPath, "signing key path")
	flags.Uint32Var(&opts.KeyVersion, "key-version", signer.DefaultKeyVersion, "signing key version")

	cmd.AddCommand(NewChainsCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewRevokeCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewTxsCommand(opts))
	cmd.AddCommand(NewSignatureCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewCalldataCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// loadConfig layers the config file and environment under the flags and
// writes the merged values back into opts.
func loadConfig(v *viper.Viper, cmd *cobra.Command, opts *RootOptions) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return fmt.Errorf("config file %s not found", opts.ConfigFile)
			}
			return fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore opens the database named by --db.
func openStore(opts *RootOptions) (*store.Store, error) {
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
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
