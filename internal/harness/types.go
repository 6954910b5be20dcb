package harness

// Step actions recorded in the trace.
const (
	ActionPoke     = "poke"
	ActionComplete = "complete"
)

// TraceEvent records what the sensor did on one step.
type TraceEvent struct {
	Step              int    `json:"step"`
	Action            string `json:"action"`
	ElapsedSeconds    int64  `json:"elapsed_seconds"`
	KeyCount          int    `json:"key_count"`
	Outcome           string `json:"outcome"`
	InactivitySeconds int64  `json:"inactivity_seconds"`
	Error             string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause matched.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation mismatches. Empty if Pass is true.
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

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Final returns the last trace event, or false if nothing ran.
func (r *Result) Final() (TraceEvent, bool) {
	if len(r.Trace) == 0 {
		return TraceEvent{}, false
	}
	return r.Trace[len(r.Trace)-1], true
}
