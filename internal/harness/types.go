package harness

// Trace event types.
const (
	EventStep    = "step"
	EventRequest = "request"
)

// TraceEvent is one entry in a scenario trace: either a flow step with its
// outcome, or a request the network saw during that step.
type TraceEvent struct {
	Type    string         `json:"type"`
	Seq     int64          `json:"seq"`
	Op      string         `json:"op,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome map[string]any `json:"outcome,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace holds steps and network requests in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends a flow step.
func (r *Result) AddStepTrace(op string, args, outcome map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventStep,
		Seq:     seq,
		Op:      op,
		Args:    args,
		Outcome: outcome,
	})
}

// AddRequestTrace appends a network request.
func (r *Result) AddRequestTrace(args map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type: EventRequest,
		Seq:  seq,
		Args: args,
	})
}

// Requests returns the request events in order.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventRequest {
			out = append(out, e)
		}
	}
	return out
}
