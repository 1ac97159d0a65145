package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/Rebalancy/agent-contracts/internal/canon"
)

// RenderTrace renders a trace as canonical JSON lines: a header object
// naming the scenario, then one object per event. Empty optional fields
// are omitted.
func RenderTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer

	header, err := canon.Marshal(map[string]any{"scenario": scenarioName})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, event := range trace {
		line, err := canon.Marshal(eventMap(event))
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func eventMap(e TraceEvent) map[string]any {
	m := map[string]any{
		"seq":     e.Seq,
		"action":  e.Action,
		"outcome": e.Outcome,
	}
	optional := map[string]string{
		"label":      e.Label,
		"caller":     e.Caller,
		"flow":       e.Flow,
		"step":       e.Step,
		"request_id": e.RequestID,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	if e.Nonce != nil {
		m["nonce"] = *e.Nonce
	}
	return m
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := RenderTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
