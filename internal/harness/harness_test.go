package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xchange/internal/model"
)

func runYAML(t *testing.T, doc string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	return result
}

func TestScenarioFilesPass(t *testing.T) {
	paths, err := FindScenarios("testdata")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Flow))
		})
	}
}

func TestLocalFailuresOutcomes(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "local_failures.yaml"))
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	outcomes := make([]string, len(result.Trace))
	for i, ev := range result.Trace {
		outcomes[i] = ev.Outcome
	}
	assert.Equal(t, []string{
		"BAD_ORDER_DETAILS", "DEVICE_LOW_BAIL", "ok", "PROHIBITED", "ok", "OVERDUE", "ok", "ILLEGAL_STATE",
	}, outcomes)

	// Failed transitions leave no events and no seq gaps.
	events := result.Events["home"]
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	require.Len(t, events, 3)
	assert.Equal(t, model.EventReject, events[2].Kind)
	assert.Equal(t, "Ready", events[2].Detail)
}

func TestMismatchedExpectationFails(t *testing.T) {
	result := runYAML(t, `
name: wrong
description: expects success from a call that fails
domains: [home]
flow:
  - op: accept
    args: {device: ghost}
  - op: done
    args: {device: ghost}
    expect: {case: NO_DEVICE}
assertions:
  - type: pending
    count: 0
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] accept on home: expected ok, got NO_DEVICE")
	assert.Equal(t, "NO_DEVICE", result.Trace[1].Outcome)
}

func TestSetupFailureAborts(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad-setup
description: setup must succeed
domains: [home]
setup:
  - op: accept
    args: {device: ghost}
flow:
  - op: advance
    args: {ms: 1}
assertions:
  - type: pending
`))
	require.NoError(t, err)
	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0 (accept)")
}

func TestMalformedArgumentsAbort(t *testing.T) {
	tests := map[string]string{
		"missing fee":   `{op: submit, args: {client: c, device: d, deadline: 10}}`,
		"negative fee":  `{op: submit, args: {client: c, device: d, fee: -1, deadline: 10}}`,
		"bad payload":   `{op: submit, args: {client: c, device: d, fee: 1, deadline: 10, payload: zz}}`,
		"string amount": `{op: deposit, args: {account: a, amount: "ten"}}`,
		"blank account": `{op: deposit, args: {account: " ", amount: 1}}`,
		"bool as text":  `{op: set_state, args: {device: d, on: "yes"}}`,
	}
	for name, step := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := ParseScenario([]byte(`
name: malformed
description: malformed step
domains: [home]
flow:
  - ` + step + `
assertions:
  - type: pending
`))
			require.NoError(t, err)
			_, err = Run(context.Background(), s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "flow step 0")
		})
	}
}

const twoDomainSetup = `
domains: [alpha, beta]
start: 1000
setup:
  - op: deposit
    domain: alpha
    args: {account: cli, amount: 500}
  - op: deposit
    domain: beta
    args: {account: printer, amount: 1000}
  - op: register
    domain: beta
    args: {device: printer, penalty: 200, work_duration: 100}
  - op: register_remote
    domain: alpha
    args: {device: printer, home: beta, penalty: 200, work_duration: 100}
`

func TestDroppedAcceptLeavesMirrorBusy(t *testing.T) {
	result := runYAML(t, `
name: lost-accept
description: beta auto-accepts but the OrderAccept never reaches alpha
auto_accept: {beta: [printer]}
`+twoDomainSetup+`
flow:
  - op: submit
    domain: alpha
    args: {client: cli, device: printer, fee: 50, deadline: 5000}
  - op: deliver
    domain: beta
  - op: drop
    domain: alpha
  - op: deliver
    domain: alpha
assertions:
  - type: device
    domain: alpha
    account: printer
    expect: {state: Busy}
  - type: device
    domain: beta
    account: printer
    expect: {state: Accepted}
  - type: order
    domain: alpha
    account: printer
    expect: {client: cli, client_domain: alpha, fee: 50, deadline: 5000, payload: ""}
  - type: event_order
    domain: beta
    kinds: [NewOrder, Accept, MessageReceived]
`)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Trace[1].Delivered)
	assert.Equal(t, 1, result.Trace[2].Delivered)
	assert.Equal(t, 0, result.Trace[3].Delivered)
}

func TestUnreachableDestinationRecordsSendFailure(t *testing.T) {
	result := runYAML(t, `
name: unreachable
description: the NewOrder cannot be sent but the submit stays committed
`+twoDomainSetup+`
flow:
  - op: unreachable
    domain: beta
    args: {value: true}
  - op: submit
    domain: alpha
    args: {client: cli, device: printer, fee: 50, deadline: 5000}
assertions:
  - type: event_order
    domain: alpha
    kinds: [NewOrder, SendFailed]
  - type: pending
    domain: beta
    count: 0
  - type: order
    domain: alpha
    account: printer
    exists: true
  - type: balance
    domain: alpha
    account: cli
    expect: {free: 450, reserved: 50}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestDeliverReportsInboundError(t *testing.T) {
	result := runYAML(t, `
name: crossed
description: alpha cancels while beta's OrderAccept is in flight
`+twoDomainSetup+`
flow:
  - op: submit
    domain: alpha
    args: {client: cli, device: printer, fee: 50, deadline: 2000}
  - op: deliver
    domain: beta
  - op: accept
    domain: beta
    args: {device: printer}
  - op: advance
    args: {ms: 1000}
  - op: cancel
    domain: alpha
    args: {client: cli, device: printer}
  - op: deliver
    domain: alpha
    expect: {case: NO_ORDER}
  - op: deliver
    domain: beta
assertions:
  - type: device
    domain: alpha
    account: printer
    expect: {state: Ready}
  - type: balance
    domain: alpha
    account: cli
    expect: {free: 500, reserved: 0}
  - type: balance
    domain: beta
    account: printer
    expect: {free: 800, reserved: 0}
  - type: balance
    domain: beta
    account: "sibl:alpha"
    expect: {free: 200}
  - type: event_count
    domain: alpha
    kind: MessageReceived
    count: 0
  - type: pending
    domain: alpha
  - type: pending
    domain: beta
`)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Trace[5].Delivered)
	assert.Equal(t, "NO_ORDER", result.Trace[5].Outcome)
	assert.Equal(t, 1, result.Trace[6].Delivered)
}
