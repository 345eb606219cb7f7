package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/store"
	"github.com/roach88/xchange/internal/testutil"
)

const (
	dev    model.AccountID = "dev"
	client model.AccountID = "cli"
)

// node is one domain under test.
type node struct {
	e     *Engine
	store store.Backend
	rec   *fakeRecorder
}

func newNode(t *testing.T, domain model.DomainID, clock *testutil.ManualTime, sender channel.Sender, opts ...Option) *node {
	t.Helper()
	st := store.NewMemory()
	return newNodeWithStore(t, domain, st, clock, sender, opts...)
}

func newNodeWithStore(t *testing.T, domain model.DomainID, st store.Backend, clock *testutil.ManualTime, sender channel.Sender, opts ...Option) *node {
	t.Helper()
	rec := newFakeRecorder()
	base := []Option{
		WithTimeSource(clock),
		WithTokenGenerator(testutil.NewSequenceTokens(string(domain))),
		WithRecorder(rec),
	}
	e, err := New(context.Background(), domain, st, sender, append(base, opts...)...)
	require.NoError(t, err)
	return &node{e: e, store: st, rec: rec}
}

func openSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// localNode is a single-domain setup with funded device and client.
func localNode(t *testing.T, now model.Moment, opts ...Option) (*node, *testutil.ManualTime) {
	t.Helper()
	clock := testutil.NewManualTime(now)
	n := newNode(t, "home", clock, nil, opts...)
	ctx := context.Background()
	require.NoError(t, n.e.Deposit(ctx, dev, 1000))
	require.NoError(t, n.e.Deposit(ctx, client, 500))
	return n, clock
}

func (n *node) balance(t *testing.T, account model.AccountID) model.Balance {
	t.Helper()
	b, err := n.e.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (n *node) device(t *testing.T, account model.AccountID) model.DeviceProfile {
	t.Helper()
	p, ok, err := n.e.Device(context.Background(), account)
	require.NoError(t, err)
	require.True(t, ok, "device %s not found", account)
	return p
}

func (n *node) hasDevice(t *testing.T, account model.AccountID) bool {
	t.Helper()
	_, ok, err := n.e.Device(context.Background(), account)
	require.NoError(t, err)
	return ok
}

func (n *node) order(t *testing.T, device model.AccountID) (model.Order, bool) {
	t.Helper()
	o, ok, err := n.e.Order(context.Background(), device)
	require.NoError(t, err)
	return o, ok
}

func (n *node) kinds(t *testing.T) []model.EventKind {
	t.Helper()
	evs, err := n.e.Events(context.Background(), 0)
	require.NoError(t, err)
	out := make([]model.EventKind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind)
	}
	return out
}

// force writes device state directly, bypassing the engine.
func (n *node) force(t *testing.T, device model.AccountID, p model.DeviceProfile, order *model.Order) {
	t.Helper()
	require.NoError(t, n.store.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.PutDevice(device, p); err != nil {
			return err
		}
		if order == nil {
			return tx.DeleteOrder(device)
		}
		return tx.PutOrder(device, *order)
	}))
}

// deliver moves every pending bus frame for n's domain through its engine
// and returns the per-delivery errors.
func deliver(t *testing.T, bus *channel.Bus, n *node) []error {
	t.Helper()
	var errs []error
	for _, d := range bus.Drain(n.e.Domain()) {
		errs = append(errs, n.e.HandleInbound(context.Background(), d))
	}
	return errs
}

type fakeRecorder struct {
	mu          sync.Mutex
	transitions map[string]int
	escrow      map[string]model.Amount
	outbound    map[string]int
	inbound     map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		transitions: map[string]int{},
		escrow:      map[string]model.Amount{},
		outbound:    map[string]int{},
		inbound:     map[string]int{},
	}
}

func (r *fakeRecorder) Transition(op, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[op+"/"+result]++
}

func (r *fakeRecorder) Escrow(movement string, amount model.Amount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escrow[movement] += amount
}

func (r *fakeRecorder) Outbound(tag, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound[tag+"/"+result]++
}

func (r *fakeRecorder) Inbound(tag, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound[tag+"/"+result]++
}

func (r *fakeRecorder) count(m map[string]int, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m[key]
}
