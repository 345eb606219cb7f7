// Package store holds the persistent state of one domain node.
//
// A domain owns four keyed collections, always mutated together inside one
// transaction:
//   - devices:  device account -> DeviceProfile
//   - orders:   device account -> Order (absent = no active order)
//   - accounts: account -> Balance{Free, Reserved}
//   - events:   append-only log keyed by logical seq
//
// Two backends implement Backend with identical semantics: SQLite (durable,
// used by the CLI) and Memory (tests, harness, simulation).
//
// # Critical Patterns
//
// Atomic transitions: Update runs fn inside one transaction. If fn returns an
// error, nothing it wrote is visible afterwards. The engine relies on this
// for "a failed call never partially escrows funds".
//
// Ledger contract: balances move only through Deposit, Reserve, Unreserve
// and TransferReserved. Reserve fails ErrInsufficientBalance; Unreserve and
// TransferReserved fail ErrInsufficientReserved. Amounts are never negative.
//
// Logical ordering: events are ordered by seq only, never by wall time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
