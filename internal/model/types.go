package model

import (
	"fmt"
	"strings"
)

// Amount is a balance in the ledger's smallest unit.
type Amount = uint64

// Moment is a point in time in milliseconds from the time source epoch.
type Moment = uint64

// Duration is a span of Moments.
type Duration = uint64

// DeviceState is the lifecycle state of a registered device.
type DeviceState uint8

const (
	// StateOff means the device is registered but not taking orders.
	StateOff DeviceState = iota
	// StateReady means the device accepts new orders.
	StateReady
	// StateBusy means the device holds an order it has not yet accepted.
	StateBusy
	// StateAccepted means the device has accepted its order.
	StateAccepted
	// StateTimewait means the device account was closed mid-order. Terminal
	// until the device registers again.
	StateTimewait
)

var deviceStateNames = [...]string{"Off", "Ready", "Busy", "Accepted", "Timewait"}

func (s DeviceState) String() string {
	if int(s) < len(deviceStateNames) {
		return deviceStateNames[s]
	}
	return fmt.Sprintf("DeviceState(%d)", uint8(s))
}

// ParseDeviceState parses a case-insensitive state name.
func ParseDeviceState(raw string) (DeviceState, error) {
	for i, name := range deviceStateNames {
		if strings.EqualFold(strings.TrimSpace(raw), name) {
			return DeviceState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown device state %q", raw)
}

// HoldsOrder reports whether an order may be attached to a device in state s.
func (s DeviceState) HoldsOrder() bool {
	return s == StateBusy || s == StateAccepted || s == StateTimewait
}

// OnOff maps the onoff flag used by register/setState/done/reject.
func OnOff(on bool) DeviceState {
	if on {
		return StateReady
	}
	return StateOff
}

// DeviceProfile is the registry record for one device account.
type DeviceProfile struct {
	Penalty      Amount      `json:"penalty"`
	WorkDuration Duration    `json:"work_duration"`
	HomeDomain   DomainID    `json:"home_domain"`
	State        DeviceState `json:"state"`
}

// OrderDescriptor is the client-facing order shape. The target device is
// embedded; the client is the authenticated caller (or the message sender).
type OrderDescriptor struct {
	Deadline Moment    `json:"deadline"`
	Payload  []byte    `json:"payload"`
	Fee      Amount    `json:"fee"`
	Device   AccountID `json:"device"`
}

// Order is the stored order, keyed by device account.
type Order struct {
	Deadline     Moment    `json:"deadline"`
	Payload      []byte    `json:"payload"`
	Fee          Amount    `json:"fee"`
	Client       AccountID `json:"client"`
	ClientDomain DomainID  `json:"client_domain"`
}

// NewOrder builds the stored order for descriptor d submitted by client.
func NewOrder(d OrderDescriptor, client AccountID, clientDomain DomainID) Order {
	return Order{
		Deadline:     d.Deadline,
		Payload:      append([]byte(nil), d.Payload...),
		Fee:          d.Fee,
		Client:       client,
		ClientDomain: clientDomain,
	}
}

// Descriptor converts the stored order back to its descriptor for device.
func (o Order) Descriptor(device AccountID) OrderDescriptor {
	return OrderDescriptor{
		Deadline: o.Deadline,
		Payload:  append([]byte(nil), o.Payload...),
		Fee:      o.Fee,
		Device:   device,
	}
}

// Overdue reports whether now is at or past the order deadline.
func (o Order) Overdue(now Moment) bool {
	return now >= o.Deadline
}

// Balance is one account's ledger position.
type Balance struct {
	Free     Amount `json:"free"`
	Reserved Amount `json:"reserved"`
}
