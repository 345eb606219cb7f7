package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a set of domains, setup
// steps that must succeed, a flow whose outcomes are checked, and
// assertions over the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Domains lists the participating domains. The first is the default
	// for steps and assertions that omit one.
	Domains []string `yaml:"domains"`

	// Start is the initial time in milliseconds.
	Start uint64 `yaml:"start"`

	// AutoAccept lists, per domain, devices whose orders are accepted on
	// arrival.
	AutoAccept map[string][]string `yaml:"auto_accept,omitempty"`

	// Setup establishes initial state. Any failure aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence. Each step's outcome is compared with its
	// expect clause.
	Flow []Step `yaml:"flow"`

	// Assertions validate the event logs and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one protocol call or world action.
type Step struct {
	Op     string         `yaml:"op"`
	Domain string         `yaml:"domain,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`
	Expect *ExpectClause  `yaml:"expect,omitempty"`
}

// ExpectClause names the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or an error kind such as "ILLEGAL_STATE".
	Case string `yaml:"case"`
}

// Assertion validates an event log or final state of one domain.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Domain defaults to the scenario's first domain.
	Domain string `yaml:"domain,omitempty"`

	// Kind, Device and Client filter events (event_contains, event_count).
	Kind   string `yaml:"kind,omitempty"`
	Device string `yaml:"device,omitempty"`
	Client string `yaml:"client,omitempty"`

	// Kinds is the expected relative order (event_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of matches (event_count, pending).
	Count int `yaml:"count,omitempty"`

	// Account selects the ledger account or device (balance, device,
	// order).
	Account string `yaml:"account,omitempty"`

	// Exists states whether the order is expected (order).
	Exists *bool `yaml:"exists,omitempty"`

	// Expect holds field values to compare; a subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertBalance       = "balance"
	AssertDevice        = "device"
	AssertOrder         = "order"
	AssertPending       = "pending"
)

// Step op constants.
const (
	OpRegister       = "register"
	OpRegisterRemote = "register_remote"
	OpSetState       = "set_state"
	OpSubmit         = "submit"
	OpCancel         = "cancel"
	OpAccept         = "accept"
	OpReject         = "reject"
	OpDone           = "done"
	OpCloseAccount   = "close_account"
	OpDeposit        = "deposit"
	OpAdvance        = "advance"
	OpDeliver        = "deliver"
	OpDrop           = "drop"
	OpUnreachable    = "unreachable"
)

var knownOps = map[string]bool{
	OpRegister: true, OpRegisterRemote: true, OpSetState: true, OpSubmit: true,
	OpCancel: true, OpAccept: true, OpReject: true, OpDone: true,
	OpCloseAccount: true, OpDeposit: true, OpAdvance: true, OpDeliver: true,
	OpDrop: true, OpUnreachable: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml/.yml files directly under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Domains) == 0 {
		return fmt.Errorf("domains list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	domains := make(map[string]bool, len(s.Domains))
	for i, d := range s.Domains {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("domains[%d]: blank domain", i)
		}
		if domains[d] {
			return fmt.Errorf("domains[%d]: duplicate domain %q", i, d)
		}
		domains[d] = true
	}
	for d := range s.AutoAccept {
		if !domains[d] {
			return fmt.Errorf("auto_accept: unknown domain %q", d)
		}
	}

	checkStep := func(section string, i int, step Step) error {
		if step.Op == "" {
			return fmt.Errorf("%s[%d]: op is required", section, i)
		}
		if !knownOps[step.Op] {
			return fmt.Errorf("%s[%d]: unknown op %q", section, i, step.Op)
		}
		if step.Domain != "" && !domains[step.Domain] {
			return fmt.Errorf("%s[%d]: unknown domain %q", section, i, step.Domain)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("%s[%d].expect: case is required", section, i)
		}
		return nil
	}
	for i, step := range s.Setup {
		if err := checkStep("setup", i, step); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := checkStep("flow", i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if a.Domain != "" && !domains[a.Domain] {
			return fmt.Errorf("assertions[%d]: unknown domain %q", i, a.Domain)
		}
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_contains", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertBalance, AssertDevice:
		if a.Account == "" {
			return fmt.Errorf("assertions[%d]: account is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertOrder:
		if a.Account == "" {
			return fmt.Errorf("assertions[%d]: account is required for order", index)
		}
		if a.Exists == nil && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: exists or expect is required for order", index)
		}
	case AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
