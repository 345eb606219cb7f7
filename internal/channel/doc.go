// Package channel moves encoded protocol frames between domains.
//
// Delivery is best-effort: a frame may be lost, and frames from different
// senders may interleave in any order. Frames from one sender to one
// destination arrive in send order, at most once.
//
// Bus is an in-process channel for tests and simulation. Spool is a
// directory-backed channel for separately running domain nodes sharing a
// filesystem. MapLimiter throttles inbound deliveries per sender.
package channel
