package channel

import (
	"context"
	"errors"

	"github.com/roach88/xchange/internal/model"
)

// ErrUnreachable reports that the destination domain cannot be addressed.
var ErrUnreachable = errors.New("channel: destination unreachable")

// Delivery is one inbound frame.
type Delivery struct {
	Sender  model.DomainID
	SeqHint uint64
	Payload []byte
}

// Sender hands a frame to the transport for dest. A nil error means the
// transport accepted the frame, not that it will arrive.
type Sender interface {
	Send(ctx context.Context, dest model.DomainID, payload []byte) error
}

// Receiver returns the deliveries waiting for the local domain, removing
// them from the transport.
type Receiver interface {
	Receive(ctx context.Context) ([]Delivery, error)
}
