// Package engine implements the order/device escrow protocol for one domain.
//
// The engine owns three things: the device state machine, the escrow
// arithmetic applied at each transition, and the cross-domain message
// dispatch that keeps a client's domain and a device's domain in step.
//
// ARCHITECTURE:
//
// Serialized transitions:
// Every operation (a local call or an inbound message) runs as one atomic
// transition under the engine mutex and inside one store transaction.
// Either the whole transition commits (device state, order, escrow, events)
// or nothing does.
//
// Outbound messages:
// Frames are encoded inside the transaction and handed to the channel only
// after commit. A send failure never undoes the transition; it is logged,
// counted, and recorded as a SendFailed event. There is no retry.
//
// Inbound messages:
// Deliveries are queued FIFO and applied one at a time by Run (or
// ProcessPending). A delivery that fails to decode or to apply is dropped
// without any state change.
//
// CRITICAL PATTERNS:
//
// Penalty follows the deadline, fee follows the outcome:
// settlement at now < deadline returns the device's penalty; at
// now >= deadline the penalty goes to the client. Reject and cancel return
// the client's fee; done pays it to the device.
//
// One domain, own accounts only:
// a domain reserves and releases funds only for parties it hosts. A remote
// party is represented on the local ledger by its domain's sovereign account.
//
// Logical clock:
// events are stamped from Clock; wall time is used only for deadlines.
package engine
