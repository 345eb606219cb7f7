package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/testutil"
)

func TestRunAppliesQueuedDeliveries(t *testing.T) {
	ctx := context.Background()
	p := newPair(t)
	require.NoError(t, p.cli.e.Submit(ctx, client, descriptor(1020, 50)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.dev.e.Run(runCtx) }()

	for _, d := range p.bus.Drain("beta") {
		require.True(t, p.dev.e.Enqueue(d))
	}
	require.Eventually(t, func() bool {
		_, ok, err := p.dev.e.Order(ctx, dev)
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)

	p.dev.e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.False(t, p.dev.e.Enqueue(channel.Delivery{Sender: "alpha"}), "stopped engine refuses deliveries")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n := newNode(t, "alpha", testutil.NewManualTime(0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCancelledRunLeavesBacklogForProcessPending(t *testing.T) {
	ctx := context.Background()
	p := newPair(t)
	require.NoError(t, p.cli.e.Submit(ctx, client, descriptor(1020, 50)))
	for _, d := range p.bus.Drain("beta") {
		require.True(t, p.dev.e.Enqueue(d))
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := p.dev.e.Run(runCtx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, p.dev.e.QueueLen(), "cancelled Run must not consume the backlog")
	assert.True(t, p.dev.e.Enqueue(channel.Delivery{Sender: "alpha", Payload: []byte{0xff}}), "queue stays open until Stop")

	p.dev.e.Stop()
	assert.Equal(t, 1, p.dev.e.ProcessPending(ctx))
	o, ok, err := p.dev.e.Order(ctx, dev)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, client, o.Client)
}

func TestProcessPendingDropsFailures(t *testing.T) {
	ctx := context.Background()
	p := newPair(t)
	require.NoError(t, p.cli.e.Submit(ctx, client, descriptor(1020, 50)))

	d, ok := p.bus.Pop("beta")
	require.True(t, ok)
	require.True(t, p.dev.e.Enqueue(channel.Delivery{Sender: "alpha", SeqHint: 9, Payload: []byte{0xff}}))
	require.True(t, p.dev.e.Enqueue(d))
	assert.Equal(t, 2, p.dev.e.QueueLen())

	assert.Equal(t, 1, p.dev.e.ProcessPending(ctx))
	assert.Zero(t, p.dev.e.QueueLen())
	assert.Equal(t, model.StateBusy, p.dev.device(t, dev).State)
}

func TestEnqueueRateLimited(t *testing.T) {
	limiter := channel.NewMapLimiter(0.001, 1, time.Minute)
	n := newNode(t, "beta", testutil.NewManualTime(0), nil, WithInboundLimiter(limiter))

	assert.True(t, n.e.Enqueue(channel.Delivery{Sender: "alpha"}))
	assert.False(t, n.e.Enqueue(channel.Delivery{Sender: "alpha"}))
	assert.True(t, n.e.Enqueue(channel.Delivery{Sender: "gamma"}))
	assert.Equal(t, 2, n.e.QueueLen())
	assert.Equal(t, 1, n.rec.count(n.rec.inbound, "unknown/rate_limited"))
}

func TestDeliveryQueueFIFO(t *testing.T) {
	q := newDeliveryQueue()
	for i := uint64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(channel.Delivery{Sender: "a", SeqHint: i}))
	}
	for i := uint64(1); i <= 3; i++ {
		d, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, d.SeqHint)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	closed := newDeliveryQueue()
	closed.Close()
	closed.Close()
	assert.True(t, closed.Closed())
	assert.False(t, closed.Enqueue(channel.Delivery{}))
	_, open := <-closed.Wait()
	assert.False(t, open)
}

func TestClock(t *testing.T) {
	c := NewClockAt(10)
	assert.Equal(t, int64(11), c.Next())
	assert.Equal(t, int64(12), c.Next())
	mark := c.Current()
	c.Next()
	c.Rewind(mark)
	assert.Equal(t, int64(12), c.Current())
	assert.Equal(t, int64(0), NewClock().Current())
}

func TestTimeSources(t *testing.T) {
	assert.Equal(t, model.Moment(42), FixedTime(42).Now())
	assert.NotZero(t, SystemTime{}.Now())
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestProtocolError(t *testing.T) {
	err := error(&ProtocolError{Kind: KindOverdue, Op: "accept", Device: "d", Message: "late"})
	assert.Equal(t, "OVERDUE: late (op=accept, device=d)", err.Error())
	assert.ErrorIs(t, err, ErrOverdue)
	assert.NotErrorIs(t, err, ErrNoOrder)

	wrapped := errors.Join(errors.New("ctx"), err)
	assert.True(t, IsKind(wrapped, KindOverdue))
	assert.Equal(t, KindOverdue, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))

	assert.Equal(t, "NO_ORDER (op=done)", (&ProtocolError{Kind: KindNoOrder, Op: "done"}).Error())
	assert.Equal(t, "PROHIBITED", ErrProhibited.Error())
}

func TestRunOpFilledIn(t *testing.T) {
	n, _ := localNode(t, 1000)
	err := n.e.Done(context.Background(), dev, true)
	var pe *ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "done", pe.Op)
	assert.Equal(t, model.AccountID(dev), pe.Device)
}
