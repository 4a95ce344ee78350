package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
	"envelopes/internal/storage"
	"envelopes/internal/storage/memory"
)

func ptr[T any](v T) *T { return &v }

func TestEnvelopeCreateValidation(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		tests := []struct {
			name string
			in   core.NewEnvelope
		}{
			{"spent over budget", core.NewEnvelope{Name: "x", Budget: dec("10"), Spent: dec("11")}},
			{"negative budget", core.NewEnvelope{Name: "x", Budget: dec("-1")}},
			{"negative spent", core.NewEnvelope{Name: "x", Budget: dec("1"), Spent: dec("-1")}},
			{"blank name", core.NewEnvelope{Name: " ", Budget: dec("1")}},
		}
		for _, tt := range tests {
			_, err := svc.Envelopes.Create(ctx, tt.in)
			assert.ErrorIs(t, err, core.ErrInvalidArgument, tt.name)
		}

		list, err := svc.Envelopes.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		e := mustEnvelope(t, svc, "  trimmed  ", "10", "10")
		assert.Equal(t, "trimmed", e.Name)
		assert.False(t, e.CreatedAt.IsZero())
	})
}

func TestEnvelopeUpdate(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, pub *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "40")

		got, err := svc.Envelopes.Update(ctx, a.ID, core.EnvelopePatch{Name: ptr("Groceries")})
		require.NoError(t, err)
		assert.Equal(t, "Groceries", got.Name)
		assertDec(t, "100", got.Budget)
		assertDec(t, "40", got.Spent)

		got, err = svc.Envelopes.Update(ctx, a.ID, core.EnvelopePatch{Budget: ptr(dec("50")), Spent: ptr(dec("50"))})
		require.NoError(t, err)
		assertDec(t, "50", got.Budget)
		assertDec(t, "50", got.Spent)

		before := mustGet(t, svc, a.ID)
		rejections := []struct {
			name  string
			patch core.EnvelopePatch
			code  error
		}{
			{"spent over budget", core.EnvelopePatch{Spent: ptr(dec("51"))}, core.ErrConstraintViolation},
			{"budget under spent", core.EnvelopePatch{Budget: ptr(dec("49"))}, core.ErrConstraintViolation},
			{"negative spent", core.EnvelopePatch{Spent: ptr(dec("-1"))}, core.ErrConstraintViolation},
			{"negative budget", core.EnvelopePatch{Budget: ptr(dec("-1"))}, core.ErrInvalidArgument},
			{"blank name", core.EnvelopePatch{Name: ptr(""), Spent: ptr(dec("1"))}, core.ErrInvalidArgument},
			{"name with bad spent", core.EnvelopePatch{Name: ptr("renamed"), Spent: ptr(dec("80"))}, core.ErrConstraintViolation},
		}
		for _, tt := range rejections {
			_, err := svc.Envelopes.Update(ctx, a.ID, tt.patch)
			assert.ErrorIs(t, err, tt.code, tt.name)
			assertUnchanged(t, before, mustGet(t, svc, a.ID))
		}

		got, err = svc.Envelopes.Update(ctx, a.ID, core.EnvelopePatch{})
		require.NoError(t, err)
		assert.Equal(t, before.Version, got.Version)

		_, err = svc.Envelopes.Update(ctx, 404, core.EnvelopePatch{Name: ptr("x")})
		assert.ErrorIs(t, err, core.ErrNotFound)

		updates := 0
		for _, k := range pub.kinds() {
			if k == core.EventEnvelopeUpdated {
				updates++
			}
		}
		assert.Equal(t, 2, updates)
	})
}

func TestTransactionUpdateSameEnvelope(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		tn, err := svc.Transactions.Create(ctx, a.ID, dec("40"), "groceries")
		require.NoError(t, err)

		got, err := svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Amount: ptr(dec("70"))})
		require.NoError(t, err)
		assertDec(t, "70", got.Amount)
		assert.Equal(t, "groceries", got.Name)
		assertDec(t, "70", mustGet(t, svc, a.ID).Spent)

		got, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Amount: ptr(dec("10")), Name: ptr("market")})
		require.NoError(t, err)
		assert.Equal(t, "market", got.Name)
		assertDec(t, "10", mustGet(t, svc, a.ID).Spent)

		before := mustGet(t, svc, a.ID)
		_, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Amount: ptr(dec("101"))})
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		assertUnchanged(t, before, mustGet(t, svc, a.ID))

		stored, err := svc.Transactions.Get(ctx, tn.ID)
		require.NoError(t, err)
		assertDec(t, "10", stored.Amount)
		assert.Equal(t, "market", stored.Name)

		_, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Amount: ptr(dec("0"))})
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Name: ptr(" ")})
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transactions.Update(ctx, 404, core.TransactionPatch{Name: ptr("x")})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestTransactionUpdateRefreshesDate(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(memory.New(), Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	a := mustEnvelope(t, svc, "A", "100", "0")
	tn, err := svc.Transactions.Create(ctx, a.ID, dec("5"), "x")
	require.NoError(t, err)
	assert.True(t, tn.Date.Equal(clock))

	clock = clock.Add(48 * time.Hour)
	got, err := svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{Name: ptr("y")})
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(clock))
}

func TestTransactionMoveEnvelope(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, pub *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "50", "20")
		tn, err := svc.Transactions.Create(ctx, a.ID, dec("40"), "dinner")
		require.NoError(t, err)

		got, err := svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{EnvelopeID: ptr(b.ID), Amount: ptr(dec("30"))})
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.EnvelopeID)
		assert.Equal(t, "B", got.EnvelopeName)
		assertDec(t, "0", mustGet(t, svc, a.ID).Spent)
		assertDec(t, "50", mustGet(t, svc, b.ID).Spent)

		list, err := svc.Transactions.List(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, tn.ID, list[0].ID)

		beforeA, beforeB := mustGet(t, svc, a.ID), mustGet(t, svc, b.ID)
		c := mustEnvelope(t, svc, "C", "10", "0")
		_, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{EnvelopeID: ptr(c.ID)})
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		var le *core.Error
		require.ErrorAs(t, err, &le)
		assert.Equal(t, c.ID, le.EnvelopeID)
		assertUnchanged(t, beforeA, mustGet(t, svc, a.ID))
		assertUnchanged(t, beforeB, mustGet(t, svc, b.ID))
		assertUnchanged(t, c, mustGet(t, svc, c.ID))

		_, err = svc.Transactions.Update(ctx, tn.ID, core.TransactionPatch{EnvelopeID: ptr(int64(404))})
		assert.ErrorIs(t, err, core.ErrNotFound)

		last := pub.events[len(pub.events)-1]
		assert.Equal(t, core.EventEnvelopeCreated, last.Kind)
		for _, ev := range pub.events {
			if ev.Kind == core.EventTransactionUpdated {
				assert.Equal(t, []int64{a.ID, b.ID}, ev.EnvelopeIDs)
			}
		}
	})
}

func TestTransactionDeleteRejectsNegativeSpent(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		tn, err := svc.Transactions.Create(ctx, a.ID, dec("30"), "x")
		require.NoError(t, err)

		_, err = svc.Envelopes.Update(ctx, a.ID, core.EnvelopePatch{Spent: ptr(dec("10"))})
		require.NoError(t, err)

		before := mustGet(t, svc, a.ID)
		err = svc.Transactions.Delete(ctx, tn.ID)
		require.ErrorIs(t, err, core.ErrConstraintViolation)
		assertUnchanged(t, before, mustGet(t, svc, a.ID))

		_, err = svc.Transactions.Get(ctx, tn.ID)
		assert.NoError(t, err)
	})
}

func TestTransactionDeleteAll(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, pub *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "5")
		b := mustEnvelope(t, svc, "B", "100", "0")

		for _, amt := range []string{"10", "20.5", "4.5"} {
			_, err := svc.Transactions.Create(ctx, a.ID, dec(amt), "spend")
			require.NoError(t, err)
		}
		other, err := svc.Transactions.Create(ctx, b.ID, dec("7"), "other")
		require.NoError(t, err)
		assertDec(t, "40", mustGet(t, svc, a.ID).Spent)

		deleted, err := svc.Transactions.DeleteAll(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, deleted, 3)
		assertDec(t, "5", mustGet(t, svc, a.ID).Spent)

		list, err := svc.Transactions.List(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
		_, err = svc.Transactions.Get(ctx, other.ID)
		assert.NoError(t, err)

		deleted, err = svc.Transactions.DeleteAll(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, deleted)
		assert.NotNil(t, deleted)

		_, err = svc.Transactions.DeleteAll(ctx, 404)
		assert.ErrorIs(t, err, core.ErrNotFound)

		all := 0
		for _, k := range pub.kinds() {
			if k == core.EventTransactionsDeletedAll {
				all++
			}
		}
		assert.Equal(t, 1, all)
	})
}

func TestTransactionScopedGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "100", "0")
		tn, err := svc.Transactions.Create(ctx, a.ID, dec("1"), "x")
		require.NoError(t, err)

		got, err := svc.Transactions.GetInEnvelope(ctx, a.ID, tn.ID)
		require.NoError(t, err)
		assert.Equal(t, tn.ID, got.ID)

		_, err = svc.Transactions.GetInEnvelope(ctx, b.ID, tn.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = svc.Transactions.GetInEnvelope(ctx, 404, tn.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestEnvelopeRenameShowsInHistory(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "100", "0")
		tr, err := svc.Transfers.Create(ctx, a.ID, b.ID, dec("1"))
		require.NoError(t, err)

		_, err = svc.Envelopes.Update(ctx, a.ID, core.EnvelopePatch{Name: ptr("Savings")})
		require.NoError(t, err)

		got, err := svc.Transfers.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, "Savings", got.FromName)
	})
}

// conflictingStore fails the first n Updates with a storage conflict.
type conflictingStore struct {
	storage.Store
	remaining int
	calls     int
}

func (s *conflictingStore) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.calls++
	if s.remaining > 0 {
		s.remaining--
		return fmt.Errorf("begin: %w", storage.ErrConflict)
	}
	return s.Store.Update(ctx, fn)
}

func TestRunnerRetriesConflicts(t *testing.T) {
	store := &conflictingStore{Store: memory.New(), remaining: 2}
	svc := New(store, Options{MaxAttempts: 3, Backoff: time.Millisecond})

	e, err := svc.Envelopes.Create(context.Background(), core.NewEnvelope{Name: "A", Budget: dec("1")})
	require.NoError(t, err)
	assert.NotZero(t, e.ID)
	assert.Equal(t, 3, store.calls)
}

func TestRunnerGivesUp(t *testing.T) {
	store := &conflictingStore{Store: memory.New(), remaining: 10}
	svc := New(store, Options{MaxAttempts: 2, Backoff: time.Millisecond})

	_, err := svc.Envelopes.Create(context.Background(), core.NewEnvelope{Name: "A", Budget: dec("1")})
	require.ErrorIs(t, err, storage.ErrConflict)
	assert.Contains(t, err.Error(), "gave up after 2 attempts")
	assert.Equal(t, 2, store.calls)
}

func TestRunnerDoesNotRetryDomainErrors(t *testing.T) {
	store := &conflictingStore{Store: memory.New()}
	svc := New(store, Options{})

	_, err := svc.Transactions.Create(context.Background(), 1, dec("1"), "x")
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, store.calls)
}

func TestPublishFailureDoesNotFailCommit(t *testing.T) {
	pub := &recorder{err: errors.New("broker down")}
	svc := New(memory.New(), Options{Publisher: pub})

	e, err := svc.Envelopes.Create(context.Background(), core.NewEnvelope{Name: "A", Budget: dec("10")})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	ev := pub.events[0]
	assert.Equal(t, core.EventEnvelopeCreated, ev.Kind)
	assert.Equal(t, e.ID, ev.EntityID)
	assert.False(t, ev.OccurredAt.IsZero())
	require.NoError(t, ev.Validate())

	got, err := svc.Envelopes.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, got.Budget.Equal(decimal.NewFromInt(10)))
}
