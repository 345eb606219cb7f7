package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/xchange/internal/model"
)

// ErrorKind categorizes protocol failures.
type ErrorKind string

const (
	KindNoDevice               ErrorKind = "NO_DEVICE"
	KindNoOrder                ErrorKind = "NO_ORDER"
	KindDeviceExists           ErrorKind = "DEVICE_EXISTS"
	KindOrderExists            ErrorKind = "ORDER_EXISTS"
	KindIllegalState           ErrorKind = "ILLEGAL_STATE"
	KindOverdue                ErrorKind = "OVERDUE"
	KindBadOrderDetails        ErrorKind = "BAD_ORDER_DETAILS"
	KindDeviceLowBail          ErrorKind = "DEVICE_LOW_BAIL"
	KindProhibited             ErrorKind = "PROHIBITED"
	KindCannotReachDestination ErrorKind = "CANNOT_REACH_DESTINATION"
)

// Sentinels for errors.Is. A *ProtocolError matches the sentinel of its Kind.
var (
	ErrNoDevice               = &ProtocolError{Kind: KindNoDevice}
	ErrNoOrder                = &ProtocolError{Kind: KindNoOrder}
	ErrDeviceExists           = &ProtocolError{Kind: KindDeviceExists}
	ErrOrderExists            = &ProtocolError{Kind: KindOrderExists}
	ErrIllegalState           = &ProtocolError{Kind: KindIllegalState}
	ErrOverdue                = &ProtocolError{Kind: KindOverdue}
	ErrBadOrderDetails        = &ProtocolError{Kind: KindBadOrderDetails}
	ErrDeviceLowBail          = &ProtocolError{Kind: KindDeviceLowBail}
	ErrProhibited             = &ProtocolError{Kind: KindProhibited}
	ErrCannotReachDestination = &ProtocolError{Kind: KindCannotReachDestination}
)

// ProtocolError is a rejected transition. Nothing was mutated.
type ProtocolError struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Op is the operation that failed (e.g. "submit", "inbound.OrderDone").
	Op string

	// Device is the device account the operation targeted, if any.
	Device model.AccountID

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Op != "" && e.Device != "" {
		return fmt.Sprintf("%s (op=%s, device=%s)", msg, e.Op, e.Device)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	return msg
}

// Is matches any *ProtocolError of the same Kind.
func (e *ProtocolError) Is(target error) bool {
	var pe *ProtocolError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Kind == e.Kind
}

// IsKind reports whether err is a ProtocolError of kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// KindOf returns the kind of a ProtocolError, or "" for other errors.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newError(kind ErrorKind, device model.AccountID, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Kind:    kind,
		Device:  device,
		Message: fmt.Sprintf(format, args...),
	}
}
