package harness

import (
	"github.com/roach88/xchange/internal/model"
)

// Outcome values for steps that did not fail with a ProtocolError.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TraceEvent records what one flow step did.
type TraceEvent struct {
	Step    int    `json:"step"`
	Op      string `json:"op"`
	Domain  string `json:"domain"`
	Outcome string `json:"outcome"`

	// Delivered counts frames handed to the engine (deliver) or discarded
	// (drop).
	Delivered int `json:"delivered,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds one entry per flow step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Events is the final event log of each domain.
	Events map[string][]model.Event `json:"events"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Events: make(map[string][]model.Event),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
