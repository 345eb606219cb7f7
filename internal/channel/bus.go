package channel

import (
	"context"
	"sync"

	"github.com/roach88/xchange/internal/model"
)

// Bus is an in-process message channel between domains. Frames wait in a
// per-destination inbox until the destination pops them, which lets tests
// decide exactly when (and whether) each frame is delivered.
type Bus struct {
	mu          sync.Mutex
	inbox       map[model.DomainID][]Delivery
	seq         map[route]uint64
	unreachable map[model.DomainID]bool
	known       map[model.DomainID]bool
}

type route struct {
	from, to model.DomainID
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		inbox:       make(map[model.DomainID][]Delivery),
		seq:         make(map[route]uint64),
		unreachable: make(map[model.DomainID]bool),
		known:       make(map[model.DomainID]bool),
	}
}

// Endpoint returns the Sender/Receiver for domain and makes it addressable.
func (b *Bus) Endpoint(domain model.DomainID) *Endpoint {
	b.mu.Lock()
	b.known[domain] = true
	b.mu.Unlock()
	return &Endpoint{bus: b, self: domain}
}

// SetUnreachable makes sends to domain fail with ErrUnreachable.
func (b *Bus) SetUnreachable(domain model.DomainID, unreachable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unreachable[domain] = unreachable
}

func (b *Bus) send(from, to model.DomainID, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known[to] || b.unreachable[to] {
		return ErrUnreachable
	}
	r := route{from: from, to: to}
	b.seq[r]++
	b.inbox[to] = append(b.inbox[to], Delivery{
		Sender:  from,
		SeqHint: b.seq[r],
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// Pending returns the number of frames waiting for domain.
func (b *Bus) Pending(domain model.DomainID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inbox[domain])
}

// Pop removes and returns the oldest frame waiting for domain.
func (b *Bus) Pop(domain model.DomainID) (Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.inbox[domain]
	if len(q) == 0 {
		return Delivery{}, false
	}
	d := q[0]
	q[0] = Delivery{}
	b.inbox[domain] = q[1:]
	return d, true
}

// Drain removes and returns every frame waiting for domain, oldest first.
func (b *Bus) Drain(domain model.DomainID) []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.inbox[domain]
	delete(b.inbox, domain)
	return out
}

// Endpoint is one domain's attachment to a Bus.
type Endpoint struct {
	bus  *Bus
	self model.DomainID
}

var (
	_ Sender   = (*Endpoint)(nil)
	_ Receiver = (*Endpoint)(nil)
)

// Domain returns the endpoint's own domain.
func (e *Endpoint) Domain() model.DomainID { return e.self }

// Send queues payload for dest.
func (e *Endpoint) Send(ctx context.Context, dest model.DomainID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.bus.send(e.self, dest, payload)
}

// Receive drains the endpoint's inbox.
func (e *Endpoint) Receive(ctx context.Context) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.bus.Drain(e.self), nil
}
