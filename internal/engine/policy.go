package engine

import (
	"github.com/roach88/xchange/internal/model"
)

// AcceptPolicy decides the state a local device enters when an order
// arrives. It returns StateBusy (wait for the device to accept) or
// StateAccepted (accept immediately); ok=false refuses the order, which
// fails the submission with IllegalState.
type AcceptPolicy interface {
	OnReceived(device model.AccountID, order model.Order) (model.DeviceState, bool)
}

// ManualAccept leaves every order Busy until the device accepts it.
type ManualAccept struct{}

// OnReceived implements AcceptPolicy.
func (ManualAccept) OnReceived(model.AccountID, model.Order) (model.DeviceState, bool) {
	return model.StateBusy, true
}

// AutoAccept accepts orders immediately for the listed devices and leaves
// all others Busy.
type AutoAccept struct {
	devices map[model.AccountID]struct{}
}

// NewAutoAccept returns a policy auto-accepting for devices.
func NewAutoAccept(devices ...model.AccountID) AutoAccept {
	set := make(map[model.AccountID]struct{}, len(devices))
	for _, d := range devices {
		set[d] = struct{}{}
	}
	return AutoAccept{devices: set}
}

// OnReceived implements AcceptPolicy.
func (a AutoAccept) OnReceived(device model.AccountID, _ model.Order) (model.DeviceState, bool) {
	if _, ok := a.devices[device]; ok {
		return model.StateAccepted, true
	}
	return model.StateBusy, true
}

// PolicyFunc adapts a function to AcceptPolicy.
type PolicyFunc func(device model.AccountID, order model.Order) (model.DeviceState, bool)

// OnReceived implements AcceptPolicy.
func (f PolicyFunc) OnReceived(device model.AccountID, order model.Order) (model.DeviceState, bool) {
	return f(device, order)
}
