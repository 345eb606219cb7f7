package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/xchange/internal/model"
)

// TraceSnapshot captures the step outcomes and per-domain event logs of a
// scenario run. Event tokens are left out so snapshots compare across
// token generators.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Events       map[string][]model.Event
}

// toCanonicalMap converts the snapshot for model.MarshalCanonical, which
// only handles primitives, maps and slices.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"step":    ev.Step,
			"op":      ev.Op,
			"domain":  ev.Domain,
			"outcome": ev.Outcome,
		}
		if ev.Delivered != 0 {
			m["delivered"] = ev.Delivered
		}
		steps[i] = m
	}

	domains := make([]string, 0, len(s.Events))
	for d := range s.Events {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	events := make(map[string]any, len(domains))
	for _, d := range domains {
		log := make([]any, len(s.Events[d]))
		for i, ev := range s.Events[d] {
			log[i] = ev.CanonicalMap()
		}
		events[d] = log
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"events":        events,
	}
}

// Snapshot renders result as canonical JSON for golden comparison.
func Snapshot(name string, result *Result) ([]byte, error) {
	s := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Events:       result.Events,
	}
	return model.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if execution fails. A snapshot mismatch fails t through
// goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
