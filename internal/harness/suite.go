package harness

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents one scenario that failed to load, run or pass.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// FindScenarios returns the .yaml and .yml files under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan scenarios in %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// RunSuite loads and runs every scenario in paths.
//
// A scenario that fails to load or run is a failure of the suite, not an
// error; the returned error is reserved for ctx cancellation.
func RunSuite(ctx context.Context, paths []string, logger *slog.Logger) (*SuiteResult, error) {
	result := &SuiteResult{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		fail := func(msg string) {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{ScenarioPath: path, Error: msg})
		}

		scenario, err := LoadScenario(path)
		if err != nil {
			fail(fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := RunWithLogger(scenario, logger)
		if err != nil {
			fail(fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		if !runResult.Pass {
			fail(strings.Join(runResult.Errors, "; "))
			continue
		}
		result.Passed++
	}

	return result, nil
}
