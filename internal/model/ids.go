package model

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyID is returned when an account or domain identifier is blank.
var ErrEmptyID = errors.New("model: empty identifier")

// AccountID identifies an account on a domain ledger. Devices and clients are
// both plain accounts; the role is determined by the operation.
type AccountID string

// DomainID identifies an independent ledger/state partition.
type DomainID string

// sovereignPrefix marks accounts that stand in for a whole remote domain on
// the local ledger.
const sovereignPrefix = "sibl:"

// ParseAccountID trims and NFC-normalizes raw so that visually identical
// identifiers map to the same storage key.
func ParseAccountID(raw string) (AccountID, error) {
	s := normalizeID(raw)
	if s == "" {
		return "", ErrEmptyID
	}
	return AccountID(s), nil
}

// ParseDomainID trims and NFC-normalizes raw.
func ParseDomainID(raw string) (DomainID, error) {
	s := normalizeID(raw)
	if s == "" {
		return "", ErrEmptyID
	}
	return DomainID(s), nil
}

func normalizeID(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// SovereignAccount returns the account that represents domain d on a foreign
// ledger. Cross-domain escrow settles into this account.
func SovereignAccount(d DomainID) AccountID {
	return AccountID(sovereignPrefix + string(d))
}

// IsSovereign reports whether a is a domain sovereign account.
func (a AccountID) IsSovereign() bool {
	return strings.HasPrefix(string(a), sovereignPrefix)
}

// Canonical reports whether a is non-empty and already in the form
// ParseAccountID produces.
func (a AccountID) Canonical() bool {
	return a != "" && normalizeID(string(a)) == string(a)
}

func (a AccountID) String() string { return string(a) }

func (d DomainID) String() string { return string(d) }
