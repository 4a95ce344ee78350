// Package storagetest holds the behaviour every storage.Store must share.
// Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

// Run exercises a fresh store returned by open for every sub-test.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("EnvelopeCRUD", func(t *testing.T) { testEnvelopeCRUD(t, open(t)) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, open(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascade(t, open(t)) })
	t.Run("NamesFollowEnvelope", func(t *testing.T) { testNames(t, open(t)) })
	t.Run("TransactionRows", func(t *testing.T) { testTransactionRows(t, open(t)) })
	t.Run("LockEnvelopes", func(t *testing.T) { testLock(t, open(t)) })
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func insert(t *testing.T, s storage.Store, name, budget string) core.Envelope {
	t.Helper()
	var out core.Envelope
	err := s.Update(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.InsertEnvelope(context.Background(), core.Envelope{Name: name, Budget: dec(budget), Spent: decimal.Zero})
		return err
	})
	require.NoError(t, err)
	return out
}

func get(t *testing.T, s storage.Store, id int64) (core.Envelope, error) {
	t.Helper()
	var out core.Envelope
	err := s.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.GetEnvelope(context.Background(), id)
		return err
	})
	return out, err
}

func testEnvelopeCRUD(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "groceries", "100.50")
	b := insert(t, s, "rent", "900")

	assert.NotZero(t, a.ID)
	assert.Greater(t, b.ID, a.ID)
	assert.Equal(t, int64(1), a.Version)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := get(t, s, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Name)
	assert.True(t, got.Budget.Equal(dec("100.50")))

	err = s.Update(ctx, func(tx storage.Tx) error {
		got.Spent = dec("20.25")
		_, err := tx.UpdateEnvelope(ctx, got)
		return err
	})
	require.NoError(t, err)

	got, err = get(t, s, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Spent.Equal(dec("20.25")))
	assert.Equal(t, int64(2), got.Version)

	var list []core.Envelope
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		var err error
		list, err = tx.ListEnvelopes(ctx)
		return err
	}))
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error { return tx.DeleteEnvelope(ctx, a.ID) }))
	_, err = get(t, s, a.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.Update(ctx, func(tx storage.Tx) error { return tx.DeleteEnvelope(ctx, a.ID) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "a", "10")

	stale := a
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		a.Name = "renamed"
		_, err := tx.UpdateEnvelope(ctx, a)
		return err
	}))

	err := s.Update(ctx, func(tx storage.Tx) error {
		stale.Budget = dec("99")
		_, err := tx.UpdateEnvelope(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := get(t, s, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.Budget.Equal(dec("10")))

	missing := core.Envelope{ID: 9999, Version: 1}
	err = s.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.UpdateEnvelope(ctx, missing)
		return err
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "a", "10")
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx storage.Tx) error {
		a.Spent = dec("5")
		if _, err := tx.UpdateEnvelope(ctx, a); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, core.Transaction{Name: "x", Amount: dec("5"), EnvelopeID: a.ID, EnvelopeName: a.Name}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := get(t, s, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Spent.IsZero())
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		list, err := tx.ListTransactions(ctx, a.ID)
		assert.Empty(t, list)
		return err
	}))
}

func testCascade(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "a", "100")
	b := insert(t, s, "b", "50")

	var t1, t2 core.Transaction
	var tr core.Transfer
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		var err error
		if t1, err = tx.InsertTransaction(ctx, core.Transaction{Name: "x", Amount: dec("1"), EnvelopeID: a.ID, EnvelopeName: a.Name}); err != nil {
			return err
		}
		if t2, err = tx.InsertTransaction(ctx, core.Transaction{Name: "y", Amount: dec("2"), EnvelopeID: a.ID, EnvelopeName: a.Name}); err != nil {
			return err
		}
		tr, err = tx.InsertTransfer(ctx, core.Transfer{Amount: dec("3"), FromID: a.ID, ToID: b.ID, FromName: a.Name, ToName: b.Name})
		return err
	}))

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error { return tx.DeleteEnvelope(ctx, a.ID) }))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetTransaction(ctx, t1.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = tx.GetTransaction(ctx, t2.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = tx.GetTransfer(ctx, tr.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		transfers, err := tx.ListTransfers(ctx)
		assert.Empty(t, transfers)
		return err
	}))

	got, err := get(t, s, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
}

func testNames(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "before", "100")
	b := insert(t, s, "other", "100")

	var tr core.Transfer
	var tn core.Transaction
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		var err error
		if tr, err = tx.InsertTransfer(ctx, core.Transfer{Amount: dec("1"), FromID: a.ID, ToID: b.ID, FromName: a.Name, ToName: b.Name}); err != nil {
			return err
		}
		tn, err = tx.InsertTransaction(ctx, core.Transaction{Name: "x", Amount: dec("1"), EnvelopeID: a.ID, EnvelopeName: a.Name})
		return err
	}))

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		a.Name = "after"
		_, err := tx.UpdateEnvelope(ctx, a)
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		got, err := tx.GetTransfer(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", got.FromName)
		assert.Equal(t, "other", got.ToName)
		assert.True(t, got.Amount.Equal(dec("1")))

		gotTx, err := tx.GetTransaction(ctx, tn.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", gotTx.EnvelopeName)
		return nil
	}))
}

func testTransactionRows(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "a", "100")
	b := insert(t, s, "b", "100")

	var tn core.Transaction
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		var err error
		if tn, err = tx.InsertTransaction(ctx, core.Transaction{Name: "coffee", Amount: dec("3.5"), EnvelopeID: a.ID, EnvelopeName: a.Name}); err != nil {
			return err
		}
		_, err = tx.InsertTransaction(ctx, core.Transaction{Name: "tea", Amount: dec("2"), EnvelopeID: a.ID, EnvelopeName: a.Name})
		return err
	}))

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		tn.Name = "espresso"
		tn.EnvelopeID = b.ID
		tn.EnvelopeName = b.Name
		_, err := tx.UpdateTransaction(ctx, tn)
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		inA, err := tx.ListTransactions(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, inA, 1)
		assert.Equal(t, "tea", inA[0].Name)

		inB, err := tx.ListTransactions(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, inB, 1)
		assert.Equal(t, "espresso", inB[0].Name)
		assert.Equal(t, "b", inB[0].EnvelopeName)
		return nil
	}))

	var n int64
	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.DeleteTransactionsByEnvelope(ctx, a.ID)
		return err
	}))
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error { return tx.DeleteTransaction(ctx, tn.ID) }))
	err := s.Update(ctx, func(tx storage.Tx) error { return tx.DeleteTransaction(ctx, tn.ID) })
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testLock(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := insert(t, s, "a", "1")
	b := insert(t, s, "b", "2")

	require.NoError(t, s.Update(ctx, func(tx storage.Tx) error {
		got, err := tx.LockEnvelopes(ctx, b.ID, a.ID, b.ID, 4242)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "a", got[a.ID].Name)
		assert.Equal(t, "b", got[b.ID].Name)
		_, ok := got[4242]
		assert.False(t, ok)
		return nil
	}))
}
