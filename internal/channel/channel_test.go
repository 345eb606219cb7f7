package channel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInSendOrder(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a := bus.Endpoint("a")
	bus.Endpoint("b")
	c := bus.Endpoint("c")

	require.NoError(t, a.Send(ctx, "b", []byte("a1")))
	require.NoError(t, c.Send(ctx, "b", []byte("c1")))
	require.NoError(t, a.Send(ctx, "b", []byte("a2")))
	assert.Equal(t, 3, bus.Pending("b"))

	got := bus.Drain("b")
	require.Len(t, got, 3)
	assert.Equal(t, Delivery{Sender: "a", SeqHint: 1, Payload: []byte("a1")}, got[0])
	assert.Equal(t, Delivery{Sender: "c", SeqHint: 1, Payload: []byte("c1")}, got[1])
	assert.Equal(t, Delivery{Sender: "a", SeqHint: 2, Payload: []byte("a2")}, got[2])
	assert.Zero(t, bus.Pending("b"))
}

func TestBusUnknownAndUnreachable(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a := bus.Endpoint("a")

	assert.ErrorIs(t, a.Send(ctx, "nowhere", []byte("x")), ErrUnreachable)

	bus.Endpoint("b")
	bus.SetUnreachable("b", true)
	assert.ErrorIs(t, a.Send(ctx, "b", []byte("x")), ErrUnreachable)
	assert.Zero(t, bus.Pending("b"))

	bus.SetUnreachable("b", false)
	assert.NoError(t, a.Send(ctx, "b", []byte("x")))
}

func TestBusPopAndReceive(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	a := bus.Endpoint("a")
	b := bus.Endpoint("b")

	require.NoError(t, a.Send(ctx, "b", []byte("1")))
	require.NoError(t, a.Send(ctx, "b", []byte("2")))

	first, ok := bus.Pop("b")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), first.Payload)

	rest, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("2"), rest[0].Payload)

	_, ok = bus.Pop("b")
	assert.False(t, ok)
}

func TestBusCopiesPayload(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint("a")
	bus.Endpoint("b")
	buf := []byte("abc")
	require.NoError(t, a.Send(context.Background(), "b", buf))
	buf[0] = 'x'
	d, _ := bus.Pop("b")
	assert.Equal(t, []byte("abc"), d.Payload)
}

func TestSpoolRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	a, err := OpenSpool(root, "alpha")
	require.NoError(t, err)
	b, err := OpenSpool(root, "beta.net")
	require.NoError(t, err)

	require.NoError(t, a.Send(ctx, "beta.net", []byte("one")))
	require.NoError(t, a.Send(ctx, "beta.net", []byte("two")))

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Delivery{Sender: "alpha", SeqHint: 1, Payload: []byte("one")}, got[0])
	assert.Equal(t, Delivery{Sender: "alpha", SeqHint: 2, Payload: []byte("two")}, got[1])

	again, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestSpoolUnreachableWithoutInbox(t *testing.T) {
	a, err := OpenSpool(t.TempDir(), "alpha")
	require.NoError(t, err)
	err = a.Send(context.Background(), "ghost", []byte("x"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSpoolIgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	b, err := OpenSpool(root, "beta")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.inbox("beta"), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.inbox("beta"), "bad.frame"), []byte("x"), 0o644))

	got, err := b.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenSpoolRequiresRoot(t *testing.T) {
	_, err := OpenSpool("", "alpha")
	assert.Error(t, err)
}

func TestMapLimiter(t *testing.T) {
	l := NewMapLimiter(1, 2, time.Minute)
	require.NotNil(t, l)
	now := time.Unix(1000, 0)

	assert.True(t, l.Allow("a", now))
	assert.True(t, l.Allow("a", now))
	assert.False(t, l.Allow("a", now))
	assert.True(t, l.Allow("b", now), "buckets are per key")
	assert.True(t, l.Allow("a", now.Add(time.Second)), "refills at rate")
	assert.Equal(t, 2, l.Len())
}

func TestMapLimiterDisabled(t *testing.T) {
	var l *MapLimiter = NewMapLimiter(0, 1, 0)
	assert.Nil(t, l)
	assert.True(t, l.Allow("a", time.Now()))
	assert.Zero(t, l.Len())
}
