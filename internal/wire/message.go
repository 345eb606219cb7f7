package wire

import (
	"fmt"

	"github.com/roach88/xchange/internal/model"
)

// Tag identifies a message variant on the wire.
type Tag uint16

const (
	TagNewOrder    Tag = 1
	TagOrderAccept Tag = 2
	TagOrderReject Tag = 3
	TagOrderDone   Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagNewOrder:
		return "NewOrder"
	case TagOrderAccept:
		return "OrderAccept"
	case TagOrderReject:
		return "OrderReject"
	case TagOrderDone:
		return "OrderDone"
	default:
		return fmt.Sprintf("Tag(%d)", uint16(t))
	}
}

// Known reports whether t is a variant this version understands.
func (t Tag) Known() bool {
	_, ok := requirements[t]
	return ok
}

// Field IDs. IDs are shared across variants; a variant uses a subset.
const (
	FieldClient   uint16 = 1
	FieldDevice   uint16 = 2
	FieldDeadline uint16 = 3
	FieldPayload  uint16 = 4
	FieldFee      uint16 = 5
	FieldResume   uint16 = 6
)

// Message is the closed set of cross-domain protocol messages.
// Only types in this package implement it.
type Message interface {
	Tag() Tag
	// Parties returns the client and device the message concerns.
	Parties() (client, device model.AccountID)
	isMessage()
}

// NewOrder carries a client submission to the device's home domain.
type NewOrder struct {
	Client model.AccountID
	Order  model.OrderDescriptor
}

// OrderAccept tells the client domain the device accepted.
type OrderAccept struct {
	Client model.AccountID
	Device model.AccountID
}

// OrderReject tells the counterparty the order was rejected or cancelled.
// Resume selects the device's next state: Ready when true, Off when false.
type OrderReject struct {
	Client model.AccountID
	Device model.AccountID
	Resume bool
}

// OrderDone tells the client domain the device finished the work.
type OrderDone struct {
	Client model.AccountID
	Device model.AccountID
	Resume bool
}

func (NewOrder) Tag() Tag    { return TagNewOrder }
func (OrderAccept) Tag() Tag { return TagOrderAccept }
func (OrderReject) Tag() Tag { return TagOrderReject }
func (OrderDone) Tag() Tag   { return TagOrderDone }

func (m NewOrder) Parties() (model.AccountID, model.AccountID)    { return m.Client, m.Order.Device }
func (m OrderAccept) Parties() (model.AccountID, model.AccountID) { return m.Client, m.Device }
func (m OrderReject) Parties() (model.AccountID, model.AccountID) { return m.Client, m.Device }
func (m OrderDone) Parties() (model.AccountID, model.AccountID)   { return m.Client, m.Device }

func (NewOrder) isMessage()    {}
func (OrderAccept) isMessage() {}
func (OrderReject) isMessage() {}
func (OrderDone) isMessage()   {}
