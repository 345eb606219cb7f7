package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/store"
)

type outcome int

const (
	outcomeReject outcome = iota
	outcomeDone
)

// Escrow movement labels.
const (
	moveReserve   = "reserve"
	moveUnreserve = "unreserve"
	moveTransfer  = "transfer"
)

// settle resolves the escrow this domain holds for order.
//
// Fee (only when the client is local): returned on reject, paid on done to
// the device, or to the device domain's sovereign account when the device
// is remote.
//
// Penalty (only when the device is local): returned when now < deadline,
// otherwise paid to the client, or to the client domain's sovereign account
// when the client is remote.
//
// CRITICAL: any ledger failure here aborts the whole transition.
func (t *txn) settle(device model.AccountID, dev model.DeviceProfile, order model.Order, oc outcome) error {
	self := t.e.domain
	devLocal := dev.HomeDomain == self
	cliLocal := order.ClientDomain == self

	if cliLocal {
		switch oc {
		case outcomeReject:
			if err := t.unreserve(order.Client, order.Fee); err != nil {
				return err
			}
		case outcomeDone:
			payee := device
			if !devLocal {
				payee = model.SovereignAccount(dev.HomeDomain)
			}
			if err := t.transfer(order.Client, payee, order.Fee); err != nil {
				return err
			}
		}
	}

	if devLocal {
		if !order.Overdue(t.now) {
			return t.unreserve(device, dev.Penalty)
		}
		payee := order.Client
		if !cliLocal {
			payee = model.SovereignAccount(order.ClientDomain)
		}
		return t.transfer(device, payee, dev.Penalty)
	}
	return nil
}

// reserve escrows amount from account for an order on device. A short
// balance is DeviceLowBail.
func (t *txn) reserve(device, account model.AccountID, amount model.Amount) error {
	if err := t.Reserve(account, amount); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return newError(KindDeviceLowBail, device, "%s cannot reserve %d", account, amount)
		}
		return fmt.Errorf("reserve %d from %s: %w", amount, account, err)
	}
	t.moves = append(t.moves, escrowMove{moveReserve, amount})
	return nil
}

func (t *txn) unreserve(account model.AccountID, amount model.Amount) error {
	if err := t.Unreserve(account, amount); err != nil {
		return fmt.Errorf("unreserve %d for %s: %w", amount, account, err)
	}
	t.moves = append(t.moves, escrowMove{moveUnreserve, amount})
	return nil
}

func (t *txn) transfer(from, to model.AccountID, amount model.Amount) error {
	if err := t.TransferReserved(from, to, amount); err != nil {
		return fmt.Errorf("transfer %d reserved from %s to %s: %w", amount, from, to, err)
	}
	t.moves = append(t.moves, escrowMove{moveTransfer, amount})
	return nil
}
