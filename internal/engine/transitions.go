package engine

import (
	"context"
	"fmt"

	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/wire"
)

// Operation names used for errors, logs and metrics.
const (
	opRegister       = "register"
	opRegisterRemote = "register_remote"
	opSetState       = "set_state"
	opSubmit         = "submit"
	opCancel         = "cancel"
	opAccept         = "accept"
	opReject         = "reject"
	opDone           = "done"
	opAccountClosed  = "account_closed"
	opDeposit        = "deposit"
)

// Register creates or replaces the profile of a local device. It fails
// DeviceExists while the device holds an order.
func (e *Engine) Register(ctx context.Context, device model.AccountID, penalty model.Amount, workDuration model.Duration, onoff bool) error {
	return e.run(ctx, opRegister, func(t *txn) error {
		if _, ok, err := t.Order(device); err != nil {
			return err
		} else if ok {
			return newError(KindDeviceExists, device, "device holds an active order")
		}
		profile := model.DeviceProfile{
			Penalty:      penalty,
			WorkDuration: workDuration,
			HomeDomain:   t.e.domain,
			State:        model.OnOff(onoff),
		}
		if err := t.PutDevice(device, profile); err != nil {
			return err
		}
		return t.emit(model.EventNewDevice, device, "", "", profile.State.String())
	})
}

// RegisterRemote records a mirror of a device hosted by home so local
// clients can submit to it. The mirror starts Ready. Re-registering a mirror
// without an active order refreshes it; a local device is never replaced.
func (e *Engine) RegisterRemote(ctx context.Context, device model.AccountID, home model.DomainID, penalty model.Amount, workDuration model.Duration) error {
	return e.run(ctx, opRegisterRemote, func(t *txn) error {
		if home == "" || home == t.e.domain {
			return newError(KindProhibited, device, "remote home domain must differ from %s", t.e.domain)
		}
		if _, ok, err := t.Order(device); err != nil {
			return err
		} else if ok {
			return newError(KindDeviceExists, device, "device holds an active order")
		}
		if existing, ok, err := t.Device(device); err != nil {
			return err
		} else if ok && existing.HomeDomain == t.e.domain {
			return newError(KindDeviceExists, device, "device is hosted by %s", t.e.domain)
		}
		profile := model.DeviceProfile{
			Penalty:      penalty,
			WorkDuration: workDuration,
			HomeDomain:   home,
			State:        model.StateReady,
		}
		if err := t.PutDevice(device, profile); err != nil {
			return err
		}
		return t.emit(model.EventNewDevice, device, "", home, profile.State.String())
	})
}

// SetState switches a local device between Ready and Off. Only
// (off, Ready|Off) -> Off and (on, Off) -> Ready are legal.
func (e *Engine) SetState(ctx context.Context, device model.AccountID, onoff bool) error {
	return e.run(ctx, opSetState, func(t *txn) error {
		dev, err := t.localDevice(device)
		if err != nil {
			return err
		}
		var next model.DeviceState
		switch {
		case !onoff && (dev.State == model.StateReady || dev.State == model.StateOff):
			next = model.StateOff
		case onoff && dev.State == model.StateOff:
			next = model.StateReady
		default:
			return newError(KindIllegalState, device, "cannot switch %s device %s", dev.State, onOffWord(onoff))
		}
		dev.State = next
		if err := t.PutDevice(device, dev); err != nil {
			return err
		}
		return t.emit(model.EventStateChanged, device, "", "", next.String())
	})
}

// Submit places an order from a local client. The device may be local or a
// remote mirror; for a mirror the order is forwarded as NewOrder.
func (e *Engine) Submit(ctx context.Context, client model.AccountID, d model.OrderDescriptor) error {
	return e.run(ctx, opSubmit, func(t *txn) error {
		return t.submit(client, t.e.domain, d)
	})
}

// Cancel withdraws an overdue order on behalf of its client. The device
// returns to Ready unless it is in Timewait.
func (e *Engine) Cancel(ctx context.Context, client model.AccountID, device model.AccountID) error {
	return e.run(ctx, opCancel, func(t *txn) error {
		order, ok, err := t.Order(device)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNoOrder, device, "no active order")
		}
		if !order.Overdue(t.now) {
			return newError(KindProhibited, device, "order not overdue until %d", order.Deadline)
		}
		if order.Client != client || order.ClientDomain != t.e.domain {
			return newError(KindProhibited, device, "caller is not the order's client")
		}
		dev, ok, err := t.Device(device)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNoDevice, device, "device not registered")
		}
		return t.reject(device, dev, &order, model.StateReady, true, true)
	})
}

// Accept is the device's combined accept/reject entry. With reject set the
// order is rejected and the device moves to Ready or Off per onoff;
// otherwise the Busy device accepts its order.
func (e *Engine) Accept(ctx context.Context, device model.AccountID, reject bool, onoff bool) error {
	op := opAccept
	if reject {
		op = opReject
	}
	return e.run(ctx, op, func(t *txn) error {
		dev, err := t.localDevice(device)
		if err != nil {
			return err
		}
		order, hasOrder, err := t.Order(device)
		if err != nil {
			return err
		}

		if reject {
			if dev.State != model.StateBusy && dev.State != model.StateAccepted {
				return newError(KindIllegalState, device, "cannot reject in state %s", dev.State)
			}
			var pending *model.Order
			if hasOrder {
				pending = &order
			}
			return t.reject(device, dev, pending, model.OnOff(onoff), onoff, true)
		}

		if dev.State != model.StateBusy {
			return newError(KindIllegalState, device, "cannot accept in state %s", dev.State)
		}
		if !hasOrder {
			return newError(KindNoOrder, device, "no active order")
		}
		if order.Overdue(t.now) {
			return newError(KindOverdue, device, "deadline %d passed at %d", order.Deadline, t.now)
		}
		return t.accept(device, dev, order, true)
	})
}

// Done completes the accepted order. Payment goes to the device; the
// penalty follows the deadline.
func (e *Engine) Done(ctx context.Context, device model.AccountID, onoff bool) error {
	return e.run(ctx, opDone, func(t *txn) error {
		dev, err := t.localDevice(device)
		if err != nil {
			return err
		}
		if dev.State != model.StateAccepted {
			return newError(KindIllegalState, device, "cannot complete in state %s", dev.State)
		}
		order, ok, err := t.Order(device)
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNoOrder, device, "no active order")
		}
		return t.done(device, dev, order, onoff, true)
	})
}

// AccountClosed handles the ledger closing account. An Off device is
// removed; any other local device enters Timewait. Accounts that are not
// local devices are ignored.
func (e *Engine) AccountClosed(ctx context.Context, account model.AccountID) error {
	return e.run(ctx, opAccountClosed, func(t *txn) error {
		dev, ok, err := t.Device(account)
		if err != nil {
			return err
		}
		if !ok || dev.HomeDomain != t.e.domain {
			return nil
		}
		if dev.State == model.StateOff {
			if err := t.DeleteDevice(account); err != nil {
				return err
			}
			return t.emit(model.EventDeviceClosed, account, "", "", "removed")
		}
		dev.State = model.StateTimewait
		if err := t.PutDevice(account, dev); err != nil {
			return err
		}
		return t.emit(model.EventDeviceClosed, account, "", "", model.StateTimewait.String())
	})
}

// Deposit credits free funds to account. It stands in for the external
// ledger's funding path.
func (e *Engine) Deposit(ctx context.Context, account model.AccountID, amount model.Amount) error {
	return e.run(ctx, opDeposit, func(t *txn) error {
		return t.Deposit(account, amount)
	})
}

// localDevice loads a device hosted by this domain. Mirrors of remote
// devices cannot be driven by local calls.
func (t *txn) localDevice(device model.AccountID) (model.DeviceProfile, error) {
	dev, ok, err := t.Device(device)
	if err != nil {
		return model.DeviceProfile{}, err
	}
	if !ok {
		return model.DeviceProfile{}, newError(KindNoDevice, device, "device not registered")
	}
	if dev.HomeDomain != t.e.domain {
		return model.DeviceProfile{}, newError(KindProhibited, device, "device is hosted by %s", dev.HomeDomain)
	}
	return dev, nil
}

// counterpart returns the domain on the other side of the order.
func (t *txn) counterpart(dev model.DeviceProfile, order model.Order) model.DomainID {
	if dev.HomeDomain == t.e.domain {
		return order.ClientDomain
	}
	return dev.HomeDomain
}

// submit runs the order-received transition for a local submit (clientDomain
// is self) or an inbound NewOrder (clientDomain is the sender).
func (t *txn) submit(client model.AccountID, clientDomain model.DomainID, d model.OrderDescriptor) error {
	device := d.Device
	self := t.e.domain

	if !client.Canonical() || !device.Canonical() {
		return newError(KindBadOrderDetails, device, "client and device must be trimmed NFC identifiers")
	}

	if t.now >= d.Deadline {
		return newError(KindOverdue, device, "deadline %d is not after %d", d.Deadline, t.now)
	}
	if _, ok, err := t.Order(device); err != nil {
		return err
	} else if ok {
		return newError(KindIllegalState, device, "device already holds an order")
	}
	dev, ok, err := t.Device(device)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindNoDevice, device, "device not registered")
	}
	if dev.State != model.StateReady {
		return newError(KindIllegalState, device, "device is %s", dev.State)
	}
	if d.Deadline-t.now < dev.WorkDuration {
		return newError(KindBadOrderDetails, device, "deadline %d leaves less than %d after %d", d.Deadline, dev.WorkDuration, t.now)
	}

	devLocal := dev.HomeDomain == self
	cliLocal := clientDomain == self
	if !devLocal && !cliLocal {
		return newError(KindProhibited, device, "neither party is hosted by %s", self)
	}

	order := model.NewOrder(d, client, clientDomain)

	next := model.StateBusy
	if devLocal {
		state, ok := t.e.policy.OnReceived(device, order)
		if !ok || (state != model.StateBusy && state != model.StateAccepted) {
			return newError(KindIllegalState, device, "order refused by accept policy")
		}
		next = state
	}

	if cliLocal {
		can, err := t.CanReserve(client, order.Fee)
		if err != nil {
			return err
		}
		if !can {
			return newError(KindDeviceLowBail, device, "client %s cannot cover fee %d", client, order.Fee)
		}
	}
	if devLocal {
		if err := t.reserve(device, device, dev.Penalty); err != nil {
			return err
		}
	}
	if cliLocal {
		if err := t.reserve(device, client, order.Fee); err != nil {
			return err
		}
	}

	if err := t.PutOrder(device, order); err != nil {
		return err
	}
	dev.State = model.StateBusy
	if err := t.PutDevice(device, dev); err != nil {
		return err
	}

	var peer model.DomainID
	if remote := t.counterpart(dev, order); remote != self {
		peer = remote
	}
	if err := t.emit(model.EventNewOrder, device, client, peer, fmt.Sprintf("fee=%d deadline=%d", order.Fee, order.Deadline)); err != nil {
		return err
	}

	if !devLocal {
		if err := t.send(dev.HomeDomain, wire.NewOrder{Client: client, Order: order.Descriptor(device)}); err != nil {
			return err
		}
	}
	if next == model.StateAccepted {
		return t.accept(device, dev, order, true)
	}
	return nil
}

// accept moves the device to Accepted and tells a remote client domain.
func (t *txn) accept(device model.AccountID, dev model.DeviceProfile, order model.Order, notify bool) error {
	dev.State = model.StateAccepted
	if err := t.PutDevice(device, dev); err != nil {
		return err
	}
	peer := t.remotePeer(dev, order)
	if err := t.emit(model.EventAccept, device, order.Client, peer, ""); err != nil {
		return err
	}
	if notify && peer != "" {
		return t.send(peer, wire.OrderAccept{Client: order.Client, Device: device})
	}
	return nil
}

// reject settles and removes the order (if any) and moves the device to
// next. A device in Timewait stays there. resume is carried to the remote
// side.
func (t *txn) reject(device model.AccountID, dev model.DeviceProfile, order *model.Order, next model.DeviceState, resume bool, notify bool) error {
	var (
		client model.AccountID
		peer   model.DomainID
	)
	if order != nil {
		if err := t.settle(device, dev, *order, outcomeReject); err != nil {
			return err
		}
		if err := t.DeleteOrder(device); err != nil {
			return err
		}
		client = order.Client
		peer = t.remotePeer(dev, *order)
	}

	if dev.State != model.StateTimewait {
		dev.State = next
	}
	if err := t.PutDevice(device, dev); err != nil {
		return err
	}
	if err := t.emit(model.EventReject, device, client, peer, dev.State.String()); err != nil {
		return err
	}
	if notify && peer != "" {
		return t.send(peer, wire.OrderReject{Client: client, Device: device, Resume: resume})
	}
	return nil
}

// done settles the completed order and moves the device to Ready or Off.
func (t *txn) done(device model.AccountID, dev model.DeviceProfile, order model.Order, onoff bool, notify bool) error {
	if err := t.settle(device, dev, order, outcomeDone); err != nil {
		return err
	}
	if err := t.DeleteOrder(device); err != nil {
		return err
	}
	dev.State = model.OnOff(onoff)
	if err := t.PutDevice(device, dev); err != nil {
		return err
	}
	peer := t.remotePeer(dev, order)
	if err := t.emit(model.EventDone, device, order.Client, peer, dev.State.String()); err != nil {
		return err
	}
	if notify && peer != "" {
		return t.send(peer, wire.OrderDone{Client: order.Client, Device: device, Resume: onoff})
	}
	return nil
}

// remotePeer returns the counterpart domain, or "" when it is this domain.
func (t *txn) remotePeer(dev model.DeviceProfile, order model.Order) model.DomainID {
	if peer := t.counterpart(dev, order); peer != t.e.domain {
		return peer
	}
	return ""
}

func onOffWord(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
