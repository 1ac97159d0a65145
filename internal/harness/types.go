package harness

// TraceEvent records one step of a scenario run and its outcome.
//
// Only deterministic fields are recorded: no hashes, timestamps or
// signatures, so traces are stable across runs and machines.
type TraceEvent struct {
	Seq       int64   `json:"seq"`
	Action    string  `json:"action"`
	Label     string  `json:"label,omitempty"`
	Caller    string  `json:"caller,omitempty"`
	Flow      string  `json:"flow,omitempty"`
	Step      string  `json:"step,omitempty"`
	Nonce     *uint64 `json:"nonce,omitempty"`
	RequestID string  `json:"request_id,omitempty"`

	// Outcome is "ok" or the rejection's reason code.
	Outcome string `json:"outcome"`
}

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// Key identifies the event for trace_order and trace_count: the action,
// or "action:step" when a step is involved.
func (e TraceEvent) Key() string {
	if e.Step == "" {
		return e.Action
	}
	return e.Action + ":" + e.Step
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per step, plus one per applied completion.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
