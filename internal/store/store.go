package store

import (
	"context"
	"errors"

	"github.com/roach88/xchange/internal/model"
)

var (
	// ErrInsufficientBalance is returned by Reserve when free funds are short.
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	// ErrInsufficientReserved is returned when releasing more than is reserved.
	ErrInsufficientReserved = errors.New("store: insufficient reserved balance")
	// ErrAmountOverflow is returned when a credit would overflow an Amount.
	ErrAmountOverflow = errors.New("store: amount overflow")
)

// Tx is the view of domain state inside one transaction. Implementations are
// not safe for use outside the Update/View callback that produced them.
type Tx interface {
	Device(account model.AccountID) (model.DeviceProfile, bool, error)
	PutDevice(account model.AccountID, profile model.DeviceProfile) error
	DeleteDevice(account model.AccountID) error

	Order(device model.AccountID) (model.Order, bool, error)
	PutOrder(device model.AccountID, order model.Order) error
	DeleteOrder(device model.AccountID) error

	Balance(account model.AccountID) (model.Balance, error)
	CanReserve(account model.AccountID, amount model.Amount) (bool, error)
	Reserve(account model.AccountID, amount model.Amount) error
	Unreserve(account model.AccountID, amount model.Amount) error
	TransferReserved(from, to model.AccountID, amount model.Amount) error
	Deposit(account model.AccountID, amount model.Amount) error

	AppendEvent(ev model.Event) error
}

// Backend is a transactional domain state store.
type Backend interface {
	// Update runs fn in a read-write transaction, committing only when fn
	// returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a transaction that is always rolled back.
	View(ctx context.Context, fn func(Tx) error) error
	// Events returns events with seq > since in seq order.
	Events(ctx context.Context, since int64) ([]model.Event, error)
	// LastSeq returns the highest event seq, or 0 for an empty log.
	LastSeq(ctx context.Context) (int64, error)
	Close() error
}

// ledger arithmetic shared by both backends.

func reserve(b model.Balance, amount model.Amount) (model.Balance, error) {
	if b.Free < amount {
		return b, ErrInsufficientBalance
	}
	if b.Reserved > ^model.Amount(0)-amount {
		return b, ErrAmountOverflow
	}
	b.Free -= amount
	b.Reserved += amount
	return b, nil
}

func unreserve(b model.Balance, amount model.Amount) (model.Balance, error) {
	if b.Reserved < amount {
		return b, ErrInsufficientReserved
	}
	if b.Free > ^model.Amount(0)-amount {
		return b, ErrAmountOverflow
	}
	b.Reserved -= amount
	b.Free += amount
	return b, nil
}

func credit(b model.Balance, amount model.Amount) (model.Balance, error) {
	if b.Free > ^model.Amount(0)-amount {
		return b, ErrAmountOverflow
	}
	b.Free += amount
	return b, nil
}

func debitReserved(b model.Balance, amount model.Amount) (model.Balance, error) {
	if b.Reserved < amount {
		return b, ErrInsufficientReserved
	}
	b.Reserved -= amount
	return b, nil
}
