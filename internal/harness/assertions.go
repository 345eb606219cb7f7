package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/xchange/internal/model"
)

// AssertionContext gives assertions access to the engines of a run.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// AssertionError is returned when an assertion fails.
// It includes the domain's event log to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Domain   string        // Domain the assertion ran against
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Events   []model.Event // Event log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s on %s\n", e.Type, e.Domain)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nEvents:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s device=%s client=%s peer=%s %s\n",
				ev.Seq, ev.Kind, ev.Device, ev.Client, ev.Peer, ev.Detail)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	domain := actx.Harness.domainOf(a.Domain)
	events := result.Events[string(domain)]

	switch a.Type {
	case AssertEventContains:
		return assertEventContains(domain, events, a)
	case AssertEventOrder:
		return assertEventOrder(domain, events, a)
	case AssertEventCount:
		return assertEventCount(domain, events, a)
	case AssertBalance:
		return assertBalance(actx, domain, a)
	case AssertDevice:
		return assertDevice(actx, domain, a)
	case AssertOrder:
		return assertOrder(actx, domain, a)
	case AssertPending:
		if got := actx.Harness.bus.Pending(domain); got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Domain:   string(domain),
				Expected: fmt.Sprintf("%d frames waiting", a.Count),
				Actual:   fmt.Sprintf("%d frames waiting", got),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func eventMatches(ev model.Event, a Assertion) bool {
	if string(ev.Kind) != a.Kind {
		return false
	}
	if a.Device != "" && string(ev.Device) != a.Device {
		return false
	}
	if a.Client != "" && string(ev.Client) != a.Client {
		return false
	}
	return true
}

// assertEventContains checks that some event matches kind and the optional
// device and client filters.
func assertEventContains(domain model.DomainID, events []model.Event, a Assertion) error {
	for _, ev := range events {
		if eventMatches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Domain:   string(domain),
		Expected: fmt.Sprintf("event %s (device=%q client=%q)", a.Kind, a.Device, a.Client),
		Actual:   "not found in event log",
		Events:   events,
	}
}

// assertEventOrder checks that the first occurrence of each kind appears in
// the given order. Intervening events are allowed.
func assertEventOrder(domain model.DomainID, events []model.Event, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range events {
		if _, seen := positions[string(ev.Kind)]; !seen {
			positions[string(ev.Kind)] = i + 1 // 1-indexed for readability
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     a.Type,
				Domain:   string(domain),
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Events:   events,
			}
		}
	}
	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     a.Type,
				Domain:   string(domain),
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Events: events,
			}
		}
	}
	return nil
}

// assertEventCount checks that exactly Count events match.
func assertEventCount(domain model.DomainID, events []model.Event, a Assertion) error {
	count := 0
	for _, ev := range events {
		if eventMatches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Domain:   string(domain),
			Expected: fmt.Sprintf("%s appears %d times", a.Kind, a.Count),
			Actual:   fmt.Sprintf("%s appears %d times", a.Kind, count),
			Events:   events,
		}
	}
	return nil
}

// assertBalance compares free and reserved funds of an account.
func assertBalance(actx *AssertionContext, domain model.DomainID, a Assertion) error {
	b, err := actx.Harness.nodes[domain].Balance(actx.Ctx, model.AccountID(a.Account))
	if err != nil {
		return err
	}
	actual := map[string]any{"free": b.Free, "reserved": b.Reserved}
	return compareFields(a, domain, actual)
}

// assertDevice compares a device profile. The "exists" key checks presence.
func assertDevice(actx *AssertionContext, domain model.DomainID, a Assertion) error {
	p, ok, err := actx.Harness.nodes[domain].Device(actx.Ctx, model.AccountID(a.Account))
	if err != nil {
		return err
	}
	actual := map[string]any{"exists": ok}
	if ok {
		actual["state"] = p.State.String()
		actual["home"] = string(p.HomeDomain)
		actual["penalty"] = p.Penalty
		actual["work_duration"] = p.WorkDuration
	}
	return compareFields(a, domain, actual)
}

// assertOrder checks presence and fields of the order held by a device.
func assertOrder(actx *AssertionContext, domain model.DomainID, a Assertion) error {
	o, ok, err := actx.Harness.nodes[domain].Order(actx.Ctx, model.AccountID(a.Account))
	if err != nil {
		return err
	}
	if a.Exists != nil && *a.Exists != ok {
		return &AssertionError{
			Type:     a.Type,
			Domain:   string(domain),
			Expected: fmt.Sprintf("order on %s exists=%t", a.Account, *a.Exists),
			Actual:   fmt.Sprintf("exists=%t", ok),
		}
	}
	if len(a.Expect) == 0 {
		return nil
	}
	actual := map[string]any{"exists": ok}
	if ok {
		actual["client"] = string(o.Client)
		actual["client_domain"] = string(o.ClientDomain)
		actual["fee"] = o.Fee
		actual["deadline"] = o.Deadline
		actual["payload"] = hex.EncodeToString(o.Payload)
	}
	return compareFields(a, domain, actual)
}

// compareFields checks every expected key against actual (subset match).
// Numbers compare as uint64; strings compare case-insensitively for state
// names only.
func compareFields(a Assertion, domain model.DomainID, actual map[string]any) error {
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		want := a.Expect[k]
		got, ok := actual[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: no such field", k))
			continue
		}
		if !valueEqual(k, want, got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %v, got %v", k, want, got))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Domain:   string(domain),
		Expected: fmt.Sprintf("%s %v", a.Account, a.Expect),
		Actual:   strings.Join(mismatches, "; "),
	}
}

func valueEqual(key string, want, got any) bool {
	switch g := got.(type) {
	case uint64:
		w, err := toUint(key, want)
		return err == nil && w == g
	case bool:
		w, ok := want.(bool)
		return ok && w == g
	case string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		if key == "state" {
			return strings.EqualFold(w, g)
		}
		return w == g
	}
	return false
}
