package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rebalancy/agent-contracts/internal/domain"
)

// Scenario is a scripted run of the engine: workers and chains to set up,
// a list of actions against the engine, and assertions over the resulting
// trace and database.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Chains are the chain ids given a configuration before the run.
	// Default: 1 and 8453.
	Chains []uint64 `yaml:"chains,omitempty"`

	// Workers are registered with an approved code identity before the run.
	// Default: agent.near.
	Workers []string `yaml:"workers,omitempty"`

	// Timeout overrides the operations timeout (Go duration syntax).
	Timeout string `yaml:"timeout,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action against the engine.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Caller defaults to the first worker.
	Caller string `yaml:"caller,omitempty"`

	// Label names a signature request so later release, fail and
	// malform steps can refer to it.
	Label string `yaml:"label,omitempty"`

	// Start.
	Flow             string `yaml:"flow,omitempty"`
	SourceChain      uint64 `yaml:"source_chain,omitempty"`
	DestinationChain uint64 `yaml:"destination_chain,omitempty"`

	// Start and complete_session.
	Amount *int64 `yaml:"amount,omitempty"`

	// Request.
	Step    string         `yaml:"step,omitempty"`
	Args    map[string]any `yaml:"args,omitempty"`
	TxNonce uint64         `yaml:"tx_nonce,omitempty"`
	ChainID uint64         `yaml:"chain_id,omitempty"`
	Hold    bool           `yaml:"hold,omitempty"`

	// Snapshot.
	Snapshot map[string]any `yaml:"snapshot,omitempty"`

	// Advance.
	Duration string `yaml:"duration,omitempty"`

	// Register, approve and revoke. Names an app compose document; the
	// default one is used when empty.
	Compose string `yaml:"compose,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect states the expected outcome of a step.
type Expect struct {
	// Error is the expected reason code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Nonce is the expected session nonce returned by start,
	// complete_session and abort.
	Nonce *uint64 `yaml:"nonce,omitempty"`
}

// Step actions.
const (
	ActionStart           = "start"
	ActionRequest         = "request"
	ActionRelease         = "release"
	ActionFail            = "fail"
	ActionMalform         = "malform"
	ActionCompleteSession = "complete_session"
	ActionAbort           = "abort"
	ActionAdvance         = "advance"
	ActionSnapshot        = "snapshot"
	ActionRegister        = "register"
	ActionApprove         = "approve"
	ActionRevoke          = "revoke"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with action (and step, outcome) exists
	// - "trace_order": event keys appear in order
	// - "trace_count": an event key appears exactly Count times
	// - "final_state": query a table and compare one row
	// - "log_steps": the activity log of Nonce holds payloads for Steps, in order
	// - "rejections": the engine counted Count rejections with reason Outcome
	Type string `yaml:"type"`

	Action  string `yaml:"action,omitempty"`
	Step    string `yaml:"step,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Events are event keys ("action" or "action:step") for trace_order.
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Nonce and Steps drive log_steps.
	Nonce uint64   `yaml:"nonce,omitempty"`
	Steps []string `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertLogSteps      = "log_steps"
	AssertRejections    = "rejections"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, labels); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step, labels map[string]bool) error {
	switch s.Action {
	case ActionStart:
		if _, err := domain.ParseFlow(s.Flow); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if s.Amount == nil {
			return fmt.Errorf("steps[%d]: amount is required for start", index)
		}
	case ActionRequest:
		if _, err := domain.ParseStep(s.Step); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if s.Hold && s.Label == "" {
			return fmt.Errorf("steps[%d]: a held request needs a label", index)
		}
		if s.Label != "" {
			if labels[s.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", index, s.Label)
			}
			labels[s.Label] = true
		}
	case ActionRelease, ActionFail, ActionMalform:
		if !labels[s.Label] {
			return fmt.Errorf("steps[%d]: %s refers to unknown label %q", index, s.Action, s.Label)
		}
	case ActionCompleteSession:
		if s.Amount == nil {
			return fmt.Errorf("steps[%d]: amount is required for complete_session", index)
		}
	case ActionAdvance:
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", index, err)
		}
	case ActionSnapshot:
		if len(s.Snapshot) == 0 {
			return fmt.Errorf("steps[%d]: snapshot fields are required", index)
		}
	case ActionAbort, ActionRegister, ActionApprove, ActionRevoke:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRejections:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for rejections", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rejections", index)
		}
	case AssertLogSteps:
		for _, s := range a.Steps {
			if _, err := domain.ParseStep(s); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
