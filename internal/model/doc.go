// Package model provides the core protocol types for xchange.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal. This keeps the data model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - amounts and moments are uint64
//   - Identifiers (accounts, domains) are NFC-normalized at parse time
//   - All JSON tags use snake_case
//   - Event ordering uses the logical seq, never wall-clock timestamps
package model
