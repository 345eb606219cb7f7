package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/engine"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/store"
	"github.com/roach88/xchange/internal/testutil"
)

// Harness holds the engines of one scenario run.
type Harness struct {
	domains []model.DomainID
	nodes   map[model.DomainID]*engine.Engine
	bus     *channel.Bus
	clock   *testutil.ManualTime
	logger  *slog.Logger
}

// Run executes a scenario in fresh in-memory stores and returns the result.
//
// Execution flow:
//  1. Create one engine per domain on a shared bus and time source
//  2. Execute setup steps (any failure aborts)
//  3. Execute flow steps, comparing outcomes with expect clauses
//  4. Collect every domain's event log
//  5. Evaluate assertions
//
// The returned error covers malformed steps and infrastructure failures; a
// scenario whose expectations do not hold returns a Result with Pass false.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Setup {
		res, err := h.execute(ctx, step)
		if err == nil {
			err = res.err
		}
		if err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
	}

	for i, step := range scenario.Flow {
		res, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow step %d (%s): %w", i, step.Op, err)
		}
		callErr := res.err
		outcome := outcomeOf(callErr)
		result.Trace = append(result.Trace, TraceEvent{
			Step:      i,
			Op:        step.Op,
			Domain:    string(h.domainOf(step.Domain)),
			Outcome:   outcome,
			Delivered: res.moved,
		})

		want := OutcomeOK
		if step.Expect != nil {
			want = step.Expect.Case
		}
		if outcome != want {
			msg := fmt.Sprintf("flow[%d] %s on %s: expected %s, got %s", i, step.Op, h.domainOf(step.Domain), want, outcome)
			if callErr != nil {
				msg += " (" + callErr.Error() + ")"
			}
			result.AddError(msg)
		}
		h.logger.Debug("flow step completed",
			"step", i,
			"op", step.Op,
			"outcome", outcome,
		)
	}

	for _, d := range h.domains {
		events, err := h.nodes[d].Events(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("read events of %s: %w", d, err)
		}
		result.Events[string(d)] = events
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		nodes:  make(map[model.DomainID]*engine.Engine, len(scenario.Domains)),
		bus:    channel.NewBus(),
		clock:  testutil.NewManualTime(scenario.Start),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, raw := range scenario.Domains {
		d, err := model.ParseDomainID(raw)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", raw, err)
		}
		var auto []model.AccountID
		for _, a := range scenario.AutoAccept[raw] {
			id, err := model.ParseAccountID(a)
			if err != nil {
				return nil, fmt.Errorf("auto_accept %q: %w", a, err)
			}
			auto = append(auto, id)
		}
		e, err := engine.New(ctx, d, store.NewMemory(), h.bus.Endpoint(d),
			engine.WithTimeSource(h.clock),
			engine.WithTokenGenerator(testutil.NewSequenceTokens(string(d))),
			engine.WithAcceptPolicy(engine.NewAutoAccept(auto...)),
			engine.WithLogger(h.logger),
		)
		if err != nil {
			return nil, err
		}
		h.domains = append(h.domains, d)
		h.nodes[d] = e
	}
	return h, nil
}

func (h *Harness) domainOf(raw string) model.DomainID {
	if raw == "" {
		return h.domains[0]
	}
	return model.DomainID(raw)
}

// stepResult is what a step did: the frames it moved and the error the
// engine reported, which becomes the step's outcome.
type stepResult struct {
	moved int
	err   error
}

// execute runs one step. The returned error is reserved for malformed
// steps; engine failures are carried in stepResult.
func (h *Harness) execute(ctx context.Context, step Step) (stepResult, error) {
	domain := h.domainOf(step.Domain)
	e := h.nodes[domain]
	a := args(step.Args)

	switch step.Op {
	case OpAdvance:
		ms, err := a.uint("ms")
		if err != nil {
			return stepResult{}, err
		}
		h.clock.Advance(ms)
		return stepResult{}, nil

	case OpDeliver:
		var (
			n     int
			first error
		)
		for {
			d, ok := h.bus.Pop(domain)
			if !ok {
				return stepResult{moved: n, err: first}, nil
			}
			n++
			if err := e.HandleInbound(ctx, d); err != nil && first == nil {
				first = err
			}
		}

	case OpDrop:
		return stepResult{moved: len(h.bus.Drain(domain))}, nil

	case OpUnreachable:
		v, err := a.boolOr("value", true)
		if err != nil {
			return stepResult{}, err
		}
		h.bus.SetUnreachable(domain, v)
		return stepResult{}, nil
	}

	call, err := h.protocolCall(e, step.Op, a)
	if err != nil {
		return stepResult{}, err
	}
	return stepResult{err: call(ctx)}, nil
}

// protocolCall parses the arguments of a protocol step and returns the
// engine call to make.
func (h *Harness) protocolCall(e *engine.Engine, op string, a args) (func(context.Context) error, error) {
	switch op {
	case OpRegister:
		device, penalty, wd, err := a.deviceProfile()
		if err != nil {
			return nil, err
		}
		on, err := a.boolOr("on", true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.Register(ctx, device, penalty, wd, on) }, nil

	case OpRegisterRemote:
		device, penalty, wd, err := a.deviceProfile()
		if err != nil {
			return nil, err
		}
		home, err := a.str("home")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return e.RegisterRemote(ctx, device, model.DomainID(home), penalty, wd)
		}, nil

	case OpSetState:
		device, err := a.account("device")
		if err != nil {
			return nil, err
		}
		on, err := a.boolOr("on", true)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.SetState(ctx, device, on) }, nil

	case OpSubmit:
		client, err := a.account("client")
		if err != nil {
			return nil, err
		}
		device, err := a.account("device")
		if err != nil {
			return nil, err
		}
		fee, err := a.uint("fee")
		if err != nil {
			return nil, err
		}
		deadline, err := a.uint("deadline")
		if err != nil {
			return nil, err
		}
		var payload []byte
		if raw, ok := a["payload"]; ok {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("payload: expected hex string, got %T", raw)
			}
			if payload, err = hex.DecodeString(s); err != nil {
				return nil, fmt.Errorf("payload: %w", err)
			}
		}
		d := model.OrderDescriptor{Deadline: deadline, Payload: payload, Fee: fee, Device: device}
		return func(ctx context.Context) error { return e.Submit(ctx, client, d) }, nil

	case OpCancel:
		client, err := a.account("client")
		if err != nil {
			return nil, err
		}
		device, err := a.account("device")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.Cancel(ctx, client, device) }, nil

	case OpAccept, OpReject, OpDone:
		device, err := a.account("device")
		if err != nil {
			return nil, err
		}
		on, err := a.boolOr("on", true)
		if err != nil {
			return nil, err
		}
		switch op {
		case OpAccept:
			return func(ctx context.Context) error { return e.Accept(ctx, device, false, on) }, nil
		case OpReject:
			return func(ctx context.Context) error { return e.Accept(ctx, device, true, on) }, nil
		default:
			return func(ctx context.Context) error { return e.Done(ctx, device, on) }, nil
		}

	case OpCloseAccount:
		account, err := a.account("account")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.AccountClosed(ctx, account) }, nil

	case OpDeposit:
		account, err := a.account("account")
		if err != nil {
			return nil, err
		}
		amount, err := a.uint("amount")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return e.Deposit(ctx, account, amount) }, nil
	}
	return nil, fmt.Errorf("unknown op %q", op)
}

// outcomeOf maps an engine error onto the scenario vocabulary.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := engine.KindOf(err); kind != "" {
		return string(kind)
	}
	return OutcomeError
}

// args wraps YAML-decoded step arguments.
type args map[string]any

func (a args) str(key string) (string, error) {
	raw, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", key, raw)
	}
	return s, nil
}

func (a args) account(key string) (model.AccountID, error) {
	s, err := a.str(key)
	if err != nil {
		return "", err
	}
	id, err := model.ParseAccountID(s)
	if err != nil {
		return "", fmt.Errorf("argument %q: %w", key, err)
	}
	return id, nil
}

func (a args) uint(key string) (uint64, error) {
	raw, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	return toUint(key, raw)
}

func (a args) boolOr(key string, def bool) (bool, error) {
	raw, ok := a[key]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("argument %q: expected bool, got %T", key, raw)
	}
	return b, nil
}

func (a args) deviceProfile() (model.AccountID, model.Amount, model.Duration, error) {
	device, err := a.account("device")
	if err != nil {
		return "", 0, 0, err
	}
	penalty, err := a.uint("penalty")
	if err != nil {
		return "", 0, 0, err
	}
	wd, err := a.uint("work_duration")
	if err != nil {
		return "", 0, 0, err
	}
	return device, penalty, wd, nil
}

// toUint converts a YAML number. yaml.v3 yields int for most integers and
// uint64 for values above MaxInt64.
func toUint(key string, raw any) (uint64, error) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("argument %q: negative value %d", key, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("argument %q: negative value %d", key, v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, fmt.Errorf("argument %q: expected non-negative integer, got %T", key, raw)
	}
}
