package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func uint64p(v uint64) *uint64 { return &v }

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name: "minimal",
		Steps: []Step{
			{
				Action:           ActionStart,
				Flow:             "lending_to_lending",
				SourceChain:      1,
				DestinationChain: 8453,
				Amount:           int64p(10),
				Expect:           &Expect{Nonce: uint64p(0)},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Action: ActionStart, Outcome: OutcomeOK},
			{Type: AssertFinalState, Table: "sessions", Expect: map[string]any{"flow": "lending_to_lending"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "lending_to_lending", result.Trace[0].Flow)
	assert.Equal(t, uint64(0), *result.Trace[0].Nonce)
}

func TestRun_RequestProducesCompletion(t *testing.T) {
	scenario := &Scenario{
		Name: "request",
		Steps: []Step{
			{Action: ActionStart, Flow: "lending_to_vault", SourceChain: 1, DestinationChain: 8453, Amount: int64p(5)},
			{Action: ActionRequest, Step: "lending_withdraw", Args: map[string]any{"amount": 5}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "request:lending_withdraw", result.Trace[1].Key())
	assert.Equal(t, "req-1", result.Trace[1].RequestID)
	assert.Equal(t, "complete:lending_withdraw", result.Trace[2].Key())
	assert.Equal(t, OutcomeOK, result.Trace[2].Outcome)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	scenario := &Scenario{
		Name: "unexpected",
		Steps: []Step{
			{Action: ActionAbort},
			{Action: ActionAbort, Expect: &Expect{Error: "NO_ACTIVE_SESSION"}},
			{Action: ActionStart, Flow: "lending_to_vault", SourceChain: 1, DestinationChain: 8453, Amount: int64p(1),
				Expect: &Expect{Nonce: uint64p(4)}},
			{Action: ActionCompleteSession, Amount: int64p(1), Expect: &Expect{Error: "NO_ACTIVE_SESSION"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "step 0 (abort): unexpected NO_ACTIVE_SESSION", result.Errors[0])
	assert.Equal(t, "step 2 (start): expected nonce 4, got 0", result.Errors[1])
	assert.Equal(t, "step 3 (complete_session): expected NO_ACTIVE_SESSION, got ok", result.Errors[2])
}

func TestRun_FailedAssertionsReported(t *testing.T) {
	scenario := &Scenario{
		Name:  "assertions",
		Steps: []Step{{Action: ActionAbort, Expect: &Expect{Error: "NO_ACTIVE_SESSION"}}},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Action: ActionAbort, Count: 2},
			{Type: AssertLogSteps, Nonce: 0, Steps: []string{"bridge_burn"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "trace_count")
	assert.Contains(t, result.Errors[1], "log_steps")
}

func TestRun_UnknownLabelAborts(t *testing.T) {
	// Scenarios built in code skip validation, so the run itself catches it.
	_, err := Run(&Scenario{Name: "ghost", Steps: []Step{{Action: ActionRelease, Label: "ghost"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `label "ghost" has no pending request`)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/signer_failure_retry.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := RenderTrace(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := RenderTrace(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	scenario := &Scenario{
		Name: "fresh",
		Steps: []Step{
			{Action: ActionStart, Flow: "vault_to_lending", SourceChain: 1, DestinationChain: 8453, Amount: int64p(1),
				Expect: &Expect{Nonce: uint64p(0)}},
		},
	}

	for i := 0; i < 2; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, result.Errors)
	}
}

func TestRun_CustomChainsAndWorkers(t *testing.T) {
	scenario := &Scenario{
		Name:    "custom",
		Chains:  []uint64{10, 42161},
		Workers: []string{"ops.near"},
		Steps: []Step{
			{Action: ActionStart, Flow: "lending_to_lending", SourceChain: 1, DestinationChain: 10, Amount: int64p(1),
				Expect: &Expect{Error: "UNSUPPORTED_CHAIN"}},
			{Action: ActionStart, Flow: "lending_to_lending", SourceChain: 42161, DestinationChain: 10, Amount: int64p(1)},
			{Action: ActionAbort, Caller: "agent.near", Expect: &Expect{Error: "WORKER_NOT_REGISTERED"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalState, Table: "workers", Where: map[string]any{"identity": "ops.near"},
				Expect: map[string]any{"checksum": "sha256:scenario"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with testdata/golden.
func TestScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}
