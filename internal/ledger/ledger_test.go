package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"envelopes/internal/core"
	"envelopes/internal/storage"
	"envelopes/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

type recorder struct {
	mu     sync.Mutex
	events []core.LedgerEvent
	err    error
}

func (r *recorder) Publish(_ context.Context, ev core.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) kinds() []core.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type backend struct {
	name string
	open func(t *testing.T) storage.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T) storage.Store { return memory.New() }},
		{name: "sqlite", open: func(t *testing.T) storage.Store {
			repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { repo.Close() })
			return repo
		}},
	}
}

// eachBackend runs fn against a fresh service per store implementation.
func eachBackend(t *testing.T, fn func(t *testing.T, svc *Service, pub *recorder)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			pub := &recorder{}
			svc := New(b.open(t), Options{Publisher: pub, Backoff: time.Millisecond})
			fn(t, svc, pub)
		})
	}
}

func mustEnvelope(t *testing.T, svc *Service, name, budget, spent string) core.Envelope {
	t.Helper()
	e, err := svc.Envelopes.Create(context.Background(), core.NewEnvelope{Name: name, Budget: dec(budget), Spent: dec(spent)})
	require.NoError(t, err)
	return e
}

func mustGet(t *testing.T, svc *Service, id int64) core.Envelope {
	t.Helper()
	e, err := svc.Envelopes.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func assertUnchanged(t *testing.T, before, after core.Envelope) {
	t.Helper()
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.Version, after.Version)
	assertDec(t, before.Budget.String(), after.Budget, "budget")
	assertDec(t, before.Spent.String(), after.Spent, "spent")
}

func assertInvariant(t *testing.T, svc *Service) {
	t.Helper()
	list, err := svc.Envelopes.List(context.Background())
	require.NoError(t, err)
	for _, e := range list {
		assert.False(t, e.Spent.IsNegative(), "envelope %d spent negative", e.ID)
		assert.False(t, e.Spent.GreaterThan(e.Budget), "envelope %d overspent", e.ID)
	}
}

func TestTransferScenario(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, pub *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "50", "0")

		tr, err := svc.Transfers.Create(ctx, a.ID, b.ID, dec("30"))
		require.NoError(t, err)
		assert.Equal(t, "A", tr.FromName)
		assert.Equal(t, "B", tr.ToName)
		assertDec(t, "30", tr.Amount)

		a, b = mustGet(t, svc, a.ID), mustGet(t, svc, b.ID)
		assertDec(t, "70", a.Budget)
		assertDec(t, "80", b.Budget)
		assertDec(t, "150", a.Budget.Add(b.Budget))

		got, err := svc.Transfers.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.FromID)
		assert.Equal(t, b.ID, got.ToID)

		assert.Equal(t, []core.EventKind{
			core.EventEnvelopeCreated,
			core.EventEnvelopeCreated,
			core.EventTransferCreated,
		}, pub.kinds())
	})
}

func TestTransferRejections(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "80")
		b := mustEnvelope(t, svc, "B", "50", "0")

		_, err := svc.Transfers.Create(ctx, a.ID, b.ID, dec("30"))
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		var le *core.Error
		require.ErrorAs(t, err, &le)
		assert.Equal(t, a.ID, le.EnvelopeID)
		assert.Equal(t, "A", le.EnvelopeName)
		assert.Contains(t, err.Error(), "not enough budget in envelope named: A")

		_, err = svc.Transfers.Create(ctx, a.ID, b.ID, dec("0"))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transfers.Create(ctx, a.ID, b.ID, dec("-5"))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transfers.Create(ctx, a.ID, a.ID, dec("5"))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)

		_, err = svc.Transfers.Create(ctx, 999, b.ID, dec("5"))
		require.ErrorIs(t, err, core.ErrNotFound)
		assert.Contains(t, err.Error(), "source envelope 999")
		_, err = svc.Transfers.Create(ctx, a.ID, 999, dec("5"))
		require.ErrorIs(t, err, core.ErrNotFound)
		assert.Contains(t, err.Error(), "destination envelope 999")

		assertUnchanged(t, a, mustGet(t, svc, a.ID))
		assertUnchanged(t, b, mustGet(t, svc, b.ID))

		list, err := svc.Transfers.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestTransferDeleteKeepsBalances(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "0", "0")

		tr, err := svc.Transfers.Create(ctx, a.ID, b.ID, dec("25.50"))
		require.NoError(t, err)
		require.NoError(t, svc.Transfers.Delete(ctx, tr.ID))

		_, err = svc.Transfers.Get(ctx, tr.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, svc.Transfers.Delete(ctx, tr.ID), core.ErrNotFound)

		assertDec(t, "74.50", mustGet(t, svc, a.ID).Budget)
		assertDec(t, "25.50", mustGet(t, svc, b.ID).Budget)
	})
}

func TestConservationAcrossTransfers(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		ids := []int64{
			mustEnvelope(t, svc, "A", "100", "10").ID,
			mustEnvelope(t, svc, "B", "60", "0").ID,
			mustEnvelope(t, svc, "C", "40.25", "40").ID,
		}

		total := func() decimal.Decimal {
			list, err := svc.Envelopes.List(ctx)
			require.NoError(t, err)
			sum := decimal.Zero
			for _, e := range list {
				sum = sum.Add(e.Budget)
			}
			return sum
		}
		start := total()

		amounts := []string{"5", "12.5", "0.25", "70", "33"}
		for i, amt := range amounts {
			from, to := ids[i%3], ids[(i+1)%3]
			_, err := svc.Transfers.Create(ctx, from, to, dec(amt))
			if err != nil {
				require.ErrorIs(t, err, core.ErrInsufficientFunds)
			}
			assert.True(t, start.Equal(total()), "total drifted after transfer %d", i)
			assertInvariant(t, svc)
		}
	})
}

func TestTransactionInsufficientFunds(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, pub *recorder) {
		a := mustEnvelope(t, svc, "A", "100", "0")

		_, err := svc.Transactions.Create(context.Background(), a.ID, dec("200"), "x")
		require.ErrorIs(t, err, core.ErrInsufficientFunds)
		assertUnchanged(t, a, mustGet(t, svc, a.ID))
		assert.Equal(t, []core.EventKind{core.EventEnvelopeCreated}, pub.kinds())
	})
}

func TestTransactionRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")

		tn, err := svc.Transactions.Create(ctx, a.ID, dec("40"), "y")
		require.NoError(t, err)
		assert.Equal(t, "A", tn.EnvelopeName)
		assertDec(t, "40", mustGet(t, svc, a.ID).Spent)

		require.NoError(t, svc.Transactions.Delete(ctx, tn.ID))
		assertDec(t, "0", mustGet(t, svc, a.ID).Spent)

		assert.ErrorIs(t, svc.Transactions.Delete(ctx, tn.ID), core.ErrNotFound)
	})
}

func TestTransactionCreateValidation(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")

		_, err := svc.Transactions.Create(ctx, a.ID, dec("0"), "x")
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transactions.Create(ctx, a.ID, dec("5"), "   ")
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Transactions.Create(ctx, 404, dec("5"), "x")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = svc.Transactions.Create(ctx, a.ID, dec("100"), "all of it")
		require.NoError(t, err)
		assertDec(t, "0", mustGet(t, svc, a.ID).Available())
	})
}

func TestEnvelopeDeleteCascades(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		ctx := context.Background()
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "100", "0")

		t1, err := svc.Transactions.Create(ctx, a.ID, dec("10"), "one")
		require.NoError(t, err)
		t2, err := svc.Transactions.Create(ctx, a.ID, dec("20"), "two")
		require.NoError(t, err)
		tr, err := svc.Transfers.Create(ctx, a.ID, b.ID, dec("5"))
		require.NoError(t, err)

		require.NoError(t, svc.Envelopes.Delete(ctx, a.ID))

		_, err = svc.Envelopes.Get(ctx, a.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = svc.Transactions.Get(ctx, t1.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = svc.Transactions.Get(ctx, t2.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = svc.Transfers.Get(ctx, tr.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, svc.Transactions.Delete(ctx, t1.ID), core.ErrNotFound)

		transfers, err := svc.Transfers.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, transfers)
		_, err = svc.Transactions.List(ctx, a.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)

		assertDec(t, "105", mustGet(t, svc, b.ID).Budget)
		assert.ErrorIs(t, svc.Envelopes.Delete(ctx, a.ID), core.ErrNotFound)
	})
}

func TestConcurrentSpendsNeverOverspend(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		a := mustEnvelope(t, svc, "A", "100", "0")

		errs := runConcurrently(2, func(int) error {
			_, err := svc.Transactions.Create(context.Background(), a.ID, dec("60"), "z")
			return err
		})

		var ok, short int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, core.ErrInsufficientFunds):
				short++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, short)
		assertDec(t, "60", mustGet(t, svc, a.ID).Spent)
	})
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		a := mustEnvelope(t, svc, "A", "100", "0")
		b := mustEnvelope(t, svc, "B", "100", "0")

		errs := runConcurrently(20, func(i int) error {
			from, to := a.ID, b.ID
			if i%2 == 1 {
				from, to = b.ID, a.ID
			}
			_, err := svc.Transfers.Create(context.Background(), from, to, dec("15"))
			return err
		})
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, core.ErrInsufficientFunds)
			}
		}

		a, b = mustGet(t, svc, a.ID), mustGet(t, svc, b.ID)
		assertDec(t, "200", a.Budget.Add(b.Budget))
		assertInvariant(t, svc)
	})
}

func TestSpendStressExactlyFillsBudget(t *testing.T) {
	eachBackend(t, func(t *testing.T, svc *Service, _ *recorder) {
		a := mustEnvelope(t, svc, "A", "100", "0")

		var ok atomic.Int32
		errs := runConcurrently(20, func(i int) error {
			_, err := svc.Transactions.Create(context.Background(), a.ID, dec("10"), fmt.Sprintf("spend %d", i))
			if err == nil {
				ok.Add(1)
			}
			return err
		})
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, core.ErrInsufficientFunds)
			}
		}
		assert.Equal(t, int32(10), ok.Load())
		assertDec(t, "100", mustGet(t, svc, a.ID).Spent)

		list, err := svc.Transactions.List(context.Background(), a.ID)
		require.NoError(t, err)
		assert.Len(t, list, 10)
	})
}

// runConcurrently starts n calls together and collects every result.
func runConcurrently(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-start
			errs[i] = fn(i)
			return nil
		})
	}
	close(start)
	_ = g.Wait()
	return errs
}
