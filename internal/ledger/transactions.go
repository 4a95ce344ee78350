package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
	"envelopes/internal/log"
	"envelopes/internal/storage"
)

// TransactionEngine records spends against a single envelope and keeps the
// envelope's spent consistent through edits and deletes.
type TransactionEngine struct {
	r      *runner
	logger *log.Logger
}

// Create records a spend of amount against the envelope, which must have at
// least amount available.
func (e *TransactionEngine) Create(ctx context.Context, envelopeID int64, amount decimal.Decimal, name string) (core.Transaction, error) {
	name = strings.TrimSpace(name)
	if err := core.Positive("amount", amount); err != nil {
		return core.Transaction{}, err
	}
	if err := core.NonEmpty("name", name); err != nil {
		return core.Transaction{}, err
	}

	var created core.Transaction
	err := e.r.mutate(ctx, "create transaction", func(tx storage.Tx) error {
		env, err := lockOne(ctx, tx, "envelope", envelopeID)
		if err != nil {
			return err
		}
		if err := core.SufficientFunds(env.Available(), amount); err != nil {
			return core.WithEnvelope(err, env)
		}

		env.Spent = env.Spent.Add(amount)
		if _, err := writeEnvelopes(ctx, tx, env); err != nil {
			return err
		}

		created, err = tx.InsertTransaction(ctx, core.Transaction{
			Name:         name,
			Amount:       amount,
			Date:         e.r.now(),
			EnvelopeID:   env.ID,
			EnvelopeName: env.Name,
		})
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	e.logger.InfoContext(ctx, "Transaction created", log.NewFields().
		WithTransaction(created.ID, created.EnvelopeID, created.Amount).
		WithOperation(log.OpCreate).ToSlice()...)
	e.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventTransactionCreated,
		EntityID:    created.ID,
		EnvelopeIDs: []int64{created.EnvelopeID},
		Amount:      created.Amount,
		Name:        created.Name,
	})
	return created, nil
}

func (e *TransactionEngine) Get(ctx context.Context, id int64) (core.Transaction, error) {
	var out core.Transaction
	err := e.r.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.GetTransaction(ctx, id)
		return err
	})
	return out, err
}

// GetInEnvelope returns the transaction only if it belongs to envelopeID.
func (e *TransactionEngine) GetInEnvelope(ctx context.Context, envelopeID, id int64) (core.Transaction, error) {
	var out core.Transaction
	err := e.r.view(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetEnvelope(ctx, envelopeID); err != nil {
			return err
		}
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.EnvelopeID != envelopeID {
			return core.NotFound("transaction", id)
		}
		out = t
		return nil
	})
	return out, err
}

// List returns the transactions of an existing envelope.
func (e *TransactionEngine) List(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	var out []core.Transaction
	err := e.r.view(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetEnvelope(ctx, envelopeID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTransactions(ctx, envelopeID)
		return err
	})
	return out, err
}

// Update applies the non-nil fields of p and refreshes the date.
//
// Moving to another envelope reverses the old amount on the old envelope and
// charges the (possibly new) amount to the new one, which must have it
// available. Changing only the amount applies the difference to the same
// envelope. Any failure leaves the transaction and every envelope unchanged.
func (e *TransactionEngine) Update(ctx context.Context, id int64, p core.TransactionPatch) (core.Transaction, error) {
	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
		if err := core.NonEmpty("name", name); err != nil {
			return core.Transaction{}, err
		}
	}
	if p.Amount != nil {
		if err := core.Positive("amount", *p.Amount); err != nil {
			return core.Transaction{}, err
		}
	}

	var (
		updated core.Transaction
		before  core.Transaction
		changed bool
	)
	err := e.r.mutate(ctx, "update transaction", func(tx storage.Tx) error {
		cur, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		before = cur
		if p.IsEmpty() {
			updated, changed = cur, false
			return nil
		}

		next := cur
		if p.Name != nil {
			next.Name = name
		}
		if p.Amount != nil {
			next.Amount = *p.Amount
		}
		if p.EnvelopeID != nil {
			next.EnvelopeID = *p.EnvelopeID
		}

		var target core.Envelope
		if next.EnvelopeID != cur.EnvelopeID {
			target, err = e.move(ctx, tx, cur, next)
		} else {
			target, err = e.adjust(ctx, tx, cur, next)
		}
		if err != nil {
			return err
		}

		next.EnvelopeName = target.Name
		next.Date = e.r.now()
		updated, err = tx.UpdateTransaction(ctx, next)
		changed = true
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	if changed {
		e.logger.InfoContext(ctx, "Transaction updated", log.NewFields().
			WithTransaction(updated.ID, updated.EnvelopeID, updated.Amount).
			WithOperation(log.OpUpdate).ToSlice()...)
		e.r.emit(ctx, core.LedgerEvent{
			Kind:        core.EventTransactionUpdated,
			EntityID:    updated.ID,
			EnvelopeIDs: envelopeIDs(before.EnvelopeID, updated.EnvelopeID),
			Amount:      updated.Amount,
			Name:        updated.Name,
		})
	}
	return updated, nil
}

// move reverses cur on its envelope and charges next to a different one.
func (e *TransactionEngine) move(ctx context.Context, tx storage.Tx, cur, next core.Transaction) (core.Envelope, error) {
	locked, err := tx.LockEnvelopes(ctx, cur.EnvelopeID, next.EnvelopeID)
	if err != nil {
		return core.Envelope{}, err
	}
	from, ok := locked[cur.EnvelopeID]
	if !ok {
		return core.Envelope{}, core.NotFound("envelope", cur.EnvelopeID)
	}
	to, ok := locked[next.EnvelopeID]
	if !ok {
		return core.Envelope{}, core.NotFound("envelope", next.EnvelopeID)
	}

	from.Spent = from.Spent.Sub(cur.Amount)
	if err := core.WithinBudget(from.Spent, from.Budget); err != nil {
		return core.Envelope{}, core.WithEnvelope(err, from)
	}
	if err := core.SufficientFunds(to.Available(), next.Amount); err != nil {
		return core.Envelope{}, core.WithEnvelope(err, to)
	}
	to.Spent = to.Spent.Add(next.Amount)

	saved, err := writeEnvelopes(ctx, tx, from, to)
	if err != nil {
		return core.Envelope{}, err
	}
	return saved[to.ID], nil
}

// adjust applies the amount difference to the transaction's own envelope.
func (e *TransactionEngine) adjust(ctx context.Context, tx storage.Tx, cur, next core.Transaction) (core.Envelope, error) {
	env, err := lockOne(ctx, tx, "envelope", cur.EnvelopeID)
	if err != nil {
		return core.Envelope{}, err
	}

	delta := next.Amount.Sub(cur.Amount)
	if delta.IsZero() {
		return env, nil
	}
	if delta.IsPositive() {
		if err := core.SufficientFunds(env.Available(), delta); err != nil {
			return core.Envelope{}, core.WithEnvelope(err, env)
		}
	}
	env.Spent = env.Spent.Add(delta)
	if err := core.WithinBudget(env.Spent, env.Budget); err != nil {
		return core.Envelope{}, core.WithEnvelope(err, env)
	}

	saved, err := writeEnvelopes(ctx, tx, env)
	if err != nil {
		return core.Envelope{}, err
	}
	return saved[env.ID], nil
}

// Delete reverses the transaction's spend and removes it.
func (e *TransactionEngine) Delete(ctx context.Context, id int64) error {
	var deleted core.Transaction
	err := e.r.mutate(ctx, "delete transaction", func(tx storage.Tx) error {
		var err error
		if deleted, err = tx.GetTransaction(ctx, id); err != nil {
			return err
		}
		env, err := lockOne(ctx, tx, "envelope", deleted.EnvelopeID)
		if err != nil {
			return err
		}

		env.Spent = env.Spent.Sub(deleted.Amount)
		if err := core.WithinBudget(env.Spent, env.Budget); err != nil {
			return core.WithEnvelope(err, env)
		}
		if _, err := writeEnvelopes(ctx, tx, env); err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Transaction deleted", log.NewFields().
		WithTransaction(deleted.ID, deleted.EnvelopeID, deleted.Amount).
		WithOperation(log.OpDelete).ToSlice()...)
	e.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventTransactionDeleted,
		EntityID:    deleted.ID,
		EnvelopeIDs: []int64{deleted.EnvelopeID},
		Amount:      deleted.Amount,
		Name:        deleted.Name,
	})
	return nil
}

// DeleteAll reverses and removes every transaction of the envelope, returning
// the removed rows. An envelope without transactions yields an empty result.
func (e *TransactionEngine) DeleteAll(ctx context.Context, envelopeID int64) ([]core.Transaction, error) {
	var deleted []core.Transaction
	err := e.r.mutate(ctx, "delete all transactions", func(tx storage.Tx) error {
		env, err := lockOne(ctx, tx, "envelope", envelopeID)
		if err != nil {
			return err
		}
		if deleted, err = tx.ListTransactions(ctx, envelopeID); err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}

		total := decimal.Zero
		for _, t := range deleted {
			total = total.Add(t.Amount)
		}
		env.Spent = env.Spent.Sub(total)
		if err := core.WithinBudget(env.Spent, env.Budget); err != nil {
			return core.WithEnvelope(err, env)
		}
		if _, err := writeEnvelopes(ctx, tx, env); err != nil {
			return err
		}
		_, err = tx.DeleteTransactionsByEnvelope(ctx, envelopeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		deleted = []core.Transaction{}
	}

	if len(deleted) > 0 {
		total := decimal.Zero
		for _, t := range deleted {
			total = total.Add(t.Amount)
		}
		e.logger.InfoContext(ctx, "Transactions deleted", log.NewFields().
			WithTransaction(0, envelopeID, total).
			WithOperation(log.OpDeleteAll).ToSlice()...)
		e.r.emit(ctx, core.LedgerEvent{
			Kind:        core.EventTransactionsDeletedAll,
			EntityID:    envelopeID,
			EnvelopeIDs: []int64{envelopeID},
			Amount:      total,
		})
	}
	return deleted, nil
}

func envelopeIDs(ids ...int64) []int64 {
	return storage.LockOrder(ids...)
}
