// Package harness runs YAML conformance scenarios against real engines.
//
// A scenario names one or more domains. Each domain gets its own engine and
// in-memory store, and all domains share one in-process channel.Bus and one
// manual time source. Cross-domain frames wait on the bus until a "deliver"
// step hands them to the destination engine, so a scenario controls exactly
// when (and whether) each message arrives.
//
// # Steps
//
// Protocol steps call the engine of step.domain (the first domain when
// omitted):
//
//	register        device, penalty, work_duration, on
//	register_remote device, home, penalty, work_duration
//	set_state       device, on
//	submit          client, device, fee, deadline, payload (hex)
//	cancel          client, device
//	accept          device, on
//	reject          device, on
//	done            device, on
//	close_account   account
//	deposit         account, amount
//
// World steps drive the environment:
//
//	advance      ms              move the shared time source forward
//	deliver                      apply every frame waiting for domain
//	drop                         discard every frame waiting for domain
//	unreachable  value (bool)    make sends to domain fail
//
// Every flow step records an outcome: "ok", or the ProtocolError kind
// (e.g. "OVERDUE"). A step without expect must succeed.
//
// # Determinism
//
// Trace tokens come from testutil.SequenceTokens and time from
// testutil.ManualTime, so two runs of the same scenario produce identical
// event logs. RunWithGolden compares those logs against
// testdata/golden/<name>.golden.
package harness
