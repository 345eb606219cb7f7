package engine

import (
	"context"
	"fmt"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/wire"
)

// HandleInbound decodes and applies one delivery. Any error means the
// delivery was dropped with no state change; the error is logged and
// returned for callers that care.
//
// Message-driven transitions check routing consistency only: the sender
// must be the order's counterpart domain and the message's client must be
// the order's client. Authority and deadline checks were made by the
// sending domain.
func (e *Engine) HandleInbound(ctx context.Context, d channel.Delivery) error {
	msg, err := wire.Decode(d.Payload)
	if err != nil {
		e.metrics.Inbound("unknown", "decode_error")
		e.logger.Error("inbound decode failed",
			"sender", d.Sender,
			"seq", d.SeqHint,
			"error", err,
		)
		return fmt.Errorf("decode delivery from %s: %w", d.Sender, err)
	}

	tag := msg.Tag().String()
	op := "inbound." + tag
	err = e.run(ctx, op, func(t *txn) error {
		if d.Sender == "" || d.Sender == t.e.domain {
			return newError(KindProhibited, "", "sender %q is not a remote domain", d.Sender)
		}
		if err := t.applyMessage(d.Sender, msg); err != nil {
			return err
		}
		client, device := msg.Parties()
		return t.emit(model.EventMessageReceived, device, client, d.Sender, tag)
	})
	if err != nil {
		e.metrics.Inbound(tag, "dropped")
		client, device := msg.Parties()
		e.logger.Warn("inbound message dropped",
			"tag", tag,
			"sender", d.Sender,
			"seq", d.SeqHint,
			"device", device,
			"client", client,
			"error", err,
		)
		return err
	}
	e.metrics.Inbound(tag, "applied")
	return nil
}

func (t *txn) applyMessage(sender model.DomainID, msg wire.Message) error {
	switch m := msg.(type) {
	case wire.NewOrder:
		dev, ok, err := t.Device(m.Order.Device)
		if err != nil {
			return err
		}
		if ok && dev.HomeDomain != t.e.domain {
			return newError(KindProhibited, m.Order.Device, "device is not hosted by %s", t.e.domain)
		}
		// A missing device falls through to NoDevice inside submit.
		return t.submit(m.Client, sender, m.Order)

	case wire.OrderAccept:
		dev, order, err := t.routed(sender, m.Client, m.Device, false)
		if err != nil {
			return err
		}
		if dev.State != model.StateBusy {
			return newError(KindIllegalState, m.Device, "cannot accept in state %s", dev.State)
		}
		return t.accept(m.Device, dev, order, false)

	case wire.OrderReject:
		dev, order, err := t.routed(sender, m.Client, m.Device, true)
		if err != nil {
			return err
		}
		if !dev.State.HoldsOrder() {
			return newError(KindIllegalState, m.Device, "cannot reject in state %s", dev.State)
		}
		return t.reject(m.Device, dev, &order, model.OnOff(m.Resume), m.Resume, false)

	case wire.OrderDone:
		dev, order, err := t.routed(sender, m.Client, m.Device, false)
		if err != nil {
			return err
		}
		if dev.State != model.StateAccepted {
			return newError(KindIllegalState, m.Device, "cannot complete in state %s", dev.State)
		}
		return t.done(m.Device, dev, order, m.Resume, false)
	}
	return fmt.Errorf("unhandled message %T", msg)
}

// routed loads the order a message refers to and checks it came from the
// order's counterpart. Accept and Done only ever travel from a device's
// domain to the client's, so they require a remote device; Reject travels
// both ways.
func (t *txn) routed(sender model.DomainID, client, device model.AccountID, bothWays bool) (model.DeviceProfile, model.Order, error) {
	order, ok, err := t.Order(device)
	if err != nil {
		return model.DeviceProfile{}, model.Order{}, err
	}
	if !ok {
		return model.DeviceProfile{}, model.Order{}, newError(KindNoOrder, device, "no active order")
	}
	dev, ok, err := t.Device(device)
	if err != nil {
		return model.DeviceProfile{}, model.Order{}, err
	}
	if !ok {
		return model.DeviceProfile{}, model.Order{}, newError(KindNoDevice, device, "device not registered")
	}
	if !bothWays && dev.HomeDomain == t.e.domain {
		return model.DeviceProfile{}, model.Order{}, newError(KindProhibited, device, "only the device's domain reports this outcome")
	}
	if want := t.counterpart(dev, order); sender != want {
		return model.DeviceProfile{}, model.Order{}, newError(KindProhibited, device, "sender %s is not counterpart %s", sender, want)
	}
	if client != order.Client {
		return model.DeviceProfile{}, model.Order{}, newError(KindProhibited, device, "client %s does not own the order", client)
	}
	return dev, order, nil
}
