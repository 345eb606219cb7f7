package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xchange/internal/model"
)

// createTestStore opens a SQLite store in a temp directory.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn once per Backend implementation.
func backends(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, createTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

var errAbort = errors.New("abort")

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Update(context.Background(), func(tx Tx) error {
		return tx.Deposit("alice", 10)
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.View(context.Background(), func(tx Tx) error {
		b, err := tx.Balance("alice")
		require.NoError(t, err)
		assert.Equal(t, model.Balance{Free: 10}, b)
		return nil
	}))
}

func TestDeviceAndOrderCRUD(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		profile := model.DeviceProfile{Penalty: 100, WorkDuration: 10, HomeDomain: "a", State: model.StateBusy}
		order := model.Order{Deadline: 20, Payload: []byte{1, 2}, Fee: 50, Client: "c", ClientDomain: "b"}

		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.PutDevice("d", profile))
			return tx.PutOrder("d", order)
		}))

		require.NoError(t, b.View(ctx, func(tx Tx) error {
			got, ok, err := tx.Device("d")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, profile, got)

			o, ok, err := tx.Order("d")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, order, o)

			_, ok, err = tx.Device("missing")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))

		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.DeleteOrder("d"))
			return tx.DeleteDevice("d")
		}))
		require.NoError(t, b.View(ctx, func(tx Tx) error {
			_, ok, _ := tx.Device("d")
			assert.False(t, ok)
			_, ok, _ = tx.Order("d")
			assert.False(t, ok)
			return nil
		}))
	})
}

func TestLargeAmountsRoundTrip(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		big := ^model.Amount(0) - 1
		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.PutDevice("d", model.DeviceProfile{Penalty: big, WorkDuration: big, State: model.StateReady}))
			return tx.Deposit("rich", big)
		}))
		require.NoError(t, b.View(ctx, func(tx Tx) error {
			p, _, err := tx.Device("d")
			require.NoError(t, err)
			assert.Equal(t, big, p.Penalty)
			bal, err := tx.Balance("rich")
			require.NoError(t, err)
			assert.Equal(t, big, bal.Free)
			return nil
		}))
	})
}

func TestUpdateRollsBackOnError(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(tx Tx) error { return tx.Deposit("alice", 100) }))

		err := b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.Reserve("alice", 40))
			require.NoError(t, tx.PutDevice("d", model.DeviceProfile{State: model.StateReady}))
			require.NoError(t, tx.AppendEvent(model.Event{Seq: 1, Kind: model.EventNewDevice, Device: "d"}))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, b.View(ctx, func(tx Tx) error {
			bal, err := tx.Balance("alice")
			require.NoError(t, err)
			assert.Equal(t, model.Balance{Free: 100}, bal)
			_, ok, err := tx.Device("d")
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
		seq, err := b.LastSeq(ctx)
		require.NoError(t, err)
		assert.Zero(t, seq)
	})
}

func TestLedgerOperations(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.Deposit("client", 100))
			require.NoError(t, tx.Deposit("device", 200))

			ok, err := tx.CanReserve("client", 100)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = tx.CanReserve("client", 101)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, tx.Reserve("client", 50))
			require.NoError(t, tx.Reserve("device", 100))
			require.NoError(t, tx.TransferReserved("client", "device", 50))
			return tx.Unreserve("device", 100)
		}))

		require.NoError(t, b.View(ctx, func(tx Tx) error {
			c, _ := tx.Balance("client")
			d, _ := tx.Balance("device")
			assert.Equal(t, model.Balance{Free: 50}, c)
			assert.Equal(t, model.Balance{Free: 250}, d)
			return nil
		}))
	})
}

func TestLedgerErrors(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(tx Tx) error { return tx.Deposit("a", 10) }))

		err := b.Update(ctx, func(tx Tx) error { return tx.Reserve("a", 11) })
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		err = b.Update(ctx, func(tx Tx) error { return tx.Unreserve("a", 1) })
		assert.ErrorIs(t, err, ErrInsufficientReserved)

		err = b.Update(ctx, func(tx Tx) error { return tx.TransferReserved("a", "b", 1) })
		assert.ErrorIs(t, err, ErrInsufficientReserved)

		err = b.Update(ctx, func(tx Tx) error { return tx.Deposit("a", ^model.Amount(0)) })
		assert.ErrorIs(t, err, ErrAmountOverflow)

		require.NoError(t, b.View(ctx, func(tx Tx) error {
			bal, _ := tx.Balance("a")
			assert.Equal(t, model.Balance{Free: 10}, bal)
			return nil
		}))
	})
}

func TestTransferReservedToSelf(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.Deposit("a", 10))
			require.NoError(t, tx.Reserve("a", 10))
			return tx.TransferReserved("a", "a", 10)
		}))
		require.NoError(t, b.View(ctx, func(tx Tx) error {
			bal, _ := tx.Balance("a")
			assert.Equal(t, model.Balance{Free: 10}, bal)
			return nil
		}))
	})
}

func TestEventsOrderedBySeq(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.AppendEvent(model.Event{Seq: 1, Kind: model.EventNewDevice, Device: "d"}))
			return tx.AppendEvent(model.Event{Seq: 2, Kind: model.EventNewOrder, Device: "d", Client: "c", Peer: "b", Token: "t1", Detail: "fee=5"})
		}))
		require.NoError(t, b.Update(ctx, func(tx Tx) error {
			return tx.AppendEvent(model.Event{Seq: 3, Kind: model.EventAccept, Device: "d"})
		}))

		all, err := b.Events(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].Seq, all[1].Seq, all[2].Seq})
		assert.Equal(t, model.Event{Seq: 2, Kind: model.EventNewOrder, Device: "d", Client: "c", Peer: "b", Token: "t1", Detail: "fee=5"}, all[1])

		tail, err := b.Events(ctx, 2)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, model.EventAccept, tail[0].Kind)

		last, err := b.LastSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), last)
	})
}

func TestEventsEmptyIsNotNil(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		evs, err := b.Events(context.Background(), 0)
		require.NoError(t, err)
		assert.NotNil(t, evs)
		assert.Empty(t, evs)
	})
}

func TestCancelledContext(t *testing.T) {
	backends(t, func(t *testing.T, b Backend) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := b.Update(ctx, func(tx Tx) error { return tx.Deposit("a", 1) })
		assert.Error(t, err)
	})
}
