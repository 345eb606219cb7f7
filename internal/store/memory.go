package store

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/roach88/xchange/internal/model"
)

// Memory is an in-process Backend with the same transactional semantics as
// SQLite. Update works on a copy and swaps it in only on success.
type Memory struct {
	mu    sync.RWMutex
	state memState
}

var _ Backend = (*Memory)(nil)

type memState struct {
	devices  map[model.AccountID]model.DeviceProfile
	orders   map[model.AccountID]model.Order
	accounts map[model.AccountID]model.Balance
	events   []model.Event
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: memState{
		devices:  map[model.AccountID]model.DeviceProfile{},
		orders:   map[model.AccountID]model.Order{},
		accounts: map[model.AccountID]model.Balance{},
	}}
}

// clone copies the keyed maps. Events are append-only, so the working copy
// shares the backing array and is truncated by length on rollback.
func (s memState) clone() memState {
	return memState{
		devices:  maps.Clone(s.devices),
		orders:   maps.Clone(s.orders),
		accounts: maps.Clone(s.accounts),
		events:   s.events[:len(s.events):len(s.events)],
	}
}

func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := &memTx{state: m.state.clone()}
	if err := fn(work); err != nil {
		return err
	}
	m.state = work.state
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{state: m.state.clone()})
}

func (m *Memory) Events(ctx context.Context, since int64) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Event{}
	for _, ev := range m.state.events {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) LastSeq(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n := len(m.state.events); n > 0 {
		return m.state.events[n-1].Seq, nil
	}
	return 0, nil
}

func (m *Memory) Close() error { return nil }

type memTx struct {
	state memState
}

func (t *memTx) Device(account model.AccountID) (model.DeviceProfile, bool, error) {
	p, ok := t.state.devices[account]
	return p, ok, nil
}

func (t *memTx) PutDevice(account model.AccountID, p model.DeviceProfile) error {
	t.state.devices[account] = p
	return nil
}

func (t *memTx) DeleteDevice(account model.AccountID) error {
	delete(t.state.devices, account)
	return nil
}

func (t *memTx) Order(device model.AccountID) (model.Order, bool, error) {
	o, ok := t.state.orders[device]
	if !ok {
		return model.Order{}, false, nil
	}
	o.Payload = append([]byte(nil), o.Payload...)
	return o, true, nil
}

func (t *memTx) PutOrder(device model.AccountID, o model.Order) error {
	o.Payload = append([]byte(nil), o.Payload...)
	t.state.orders[device] = o
	return nil
}

func (t *memTx) DeleteOrder(device model.AccountID) error {
	delete(t.state.orders, device)
	return nil
}

func (t *memTx) Balance(account model.AccountID) (model.Balance, error) {
	return t.state.accounts[account], nil
}

func (t *memTx) apply(account model.AccountID, op func(model.Balance) (model.Balance, error)) error {
	next, err := op(t.state.accounts[account])
	if err != nil {
		return fmt.Errorf("%s: %w", account, err)
	}
	t.state.accounts[account] = next
	return nil
}

func (t *memTx) CanReserve(account model.AccountID, amount model.Amount) (bool, error) {
	return t.state.accounts[account].Free >= amount, nil
}

func (t *memTx) Reserve(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return reserve(b, amount) })
}

func (t *memTx) Unreserve(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return unreserve(b, amount) })
}

func (t *memTx) TransferReserved(from, to model.AccountID, amount model.Amount) error {
	if from == to {
		return t.Unreserve(from, amount)
	}
	if err := t.apply(from, func(b model.Balance) (model.Balance, error) { return debitReserved(b, amount) }); err != nil {
		return err
	}
	return t.apply(to, func(b model.Balance) (model.Balance, error) { return credit(b, amount) })
}

func (t *memTx) Deposit(account model.AccountID, amount model.Amount) error {
	return t.apply(account, func(b model.Balance) (model.Balance, error) { return credit(b, amount) })
}

func (t *memTx) AppendEvent(ev model.Event) error {
	if n := len(t.state.events); n > 0 && t.state.events[n-1].Seq >= ev.Seq {
		return fmt.Errorf("append event %d: seq not increasing", ev.Seq)
	}
	t.state.events = append(t.state.events, ev)
	return nil
}
