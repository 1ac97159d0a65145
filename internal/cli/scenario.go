package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rebalancy/agent-contracts/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter string // scenario name glob
	Trace  bool   // print each scenario's trace
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run scenarios against an in-memory engine",
		Long: `Run scenario files against a fresh in-memory engine each. Directories
are searched recursively for .yaml and .yml files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing paths, bad filter)

Examples:
  rebalancer scenario ./scenarios
  rebalancer scenario ./scenarios --filter "lending_*"
  rebalancer scenario ./scenarios/happy_path.yaml --trace`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name glob")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the trace of each scenario")
	return cmd
}

func runScenarios(ctx context.Context, opts *ScenarioOptions, args []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	paths, err := collectScenarios(args, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result, err := harness.RunSuite(ctx, paths, opts.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario run interrupted", err)
	}

	if opts.Trace {
		if err := printTraces(cmd.ErrOrStderr(), paths, opts); err != nil {
			return err
		}
	}

	err = newFormatter(opts.RootOptions, cmd).Success(result, func(w io.Writer) error {
		if result.Total == 0 {
			_, err := fmt.Fprintln(w, "No scenarios found.")
			return err
		}
		failed := make(map[string]string, len(result.Failures))
		for _, f := range result.Failures {
			failed[f.ScenarioPath] = f.Error
		}
		for _, p := range paths {
			if msg, ok := failed[p]; ok {
				fmt.Fprintf(w, "FAIL %s\n  %s\n", p, msg)
			} else {
				fmt.Fprintf(w, "ok   %s\n", p)
			}
		}
		_, err := fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
		return err
	})
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// collectScenarios expands args into scenario files, keeping those whose
// base name (without extension) matches filter.
func collectScenarios(args []string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := harness.FindScenarios(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}

	if filter == "" {
		return paths, nil
	}
	kept := paths[:0]
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if ok, _ := filepath.Match(filter, name); ok {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// printTraces reruns each loadable scenario and writes its canonical trace.
func printTraces(w io.Writer, paths []string, opts *ScenarioOptions) error {
	for _, p := range paths {
		s, err := harness.LoadScenario(p)
		if err != nil {
			continue
		}
		res, err := harness.RunWithLogger(s, opts.Logger)
		if err != nil {
			continue
		}
		out, err := harness.RenderTrace(s.Name, res.Trace)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render trace", err)
		}
		if _, err := w.Write(out); err != nil {
			return err
		}
	}
	return nil
}
