package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
	"envelopes/internal/log"
	"envelopes/internal/storage"
)

// TransferEngine moves budget between two envelopes and records the move.
type TransferEngine struct {
	r      *runner
	logger *log.Logger
}

// Create moves amount from the source envelope's budget to the destination's.
// Both envelopes are locked in ascending id order, the source must have at
// least amount available, and the balances and the transfer row commit
// together or not at all.
func (e *TransferEngine) Create(ctx context.Context, fromID, toID int64, amount decimal.Decimal) (core.Transfer, error) {
	if err := core.Positive("amount", amount); err != nil {
		return core.Transfer{}, err
	}
	if fromID == toID {
		return core.Transfer{}, core.InvalidArgument("cannot transfer from envelope %d to itself", fromID)
	}

	var created core.Transfer
	err := e.r.mutate(ctx, "create transfer", func(tx storage.Tx) error {
		locked, err := tx.LockEnvelopes(ctx, fromID, toID)
		if err != nil {
			return err
		}
		from, ok := locked[fromID]
		if !ok {
			return core.NotFound("source envelope", fromID)
		}
		to, ok := locked[toID]
		if !ok {
			return core.NotFound("destination envelope", toID)
		}

		if err := core.SufficientFunds(from.Available(), amount); err != nil {
			return core.WithEnvelope(err, from)
		}

		from.Budget = from.Budget.Sub(amount)
		to.Budget = to.Budget.Add(amount)
		if _, err := writeEnvelopes(ctx, tx, from, to); err != nil {
			return err
		}

		created, err = tx.InsertTransfer(ctx, core.Transfer{
			Amount:   amount,
			Date:     e.r.now(),
			FromID:   from.ID,
			ToID:     to.ID,
			FromName: from.Name,
			ToName:   to.Name,
		})
		return err
	})
	if err != nil {
		return core.Transfer{}, err
	}

	e.logger.InfoContext(ctx, "Transfer created", log.NewFields().
		WithTransfer(created.ID, created.FromID, created.ToID, created.Amount).
		WithOperation(log.OpCreate).ToSlice()...)
	e.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventTransferCreated,
		EntityID:    created.ID,
		EnvelopeIDs: []int64{created.FromID, created.ToID},
		Amount:      created.Amount,
	})
	return created, nil
}

func (e *TransferEngine) Get(ctx context.Context, id int64) (core.Transfer, error) {
	var out core.Transfer
	err := e.r.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.GetTransfer(ctx, id)
		return err
	})
	return out, err
}

func (e *TransferEngine) List(ctx context.Context) ([]core.Transfer, error) {
	var out []core.Transfer
	err := e.r.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListTransfers(ctx)
		return err
	})
	return out, err
}

// Delete purges the transfer record. The budgets it moved stay where they are.
func (e *TransferEngine) Delete(ctx context.Context, id int64) error {
	var deleted core.Transfer
	err := e.r.mutate(ctx, "delete transfer", func(tx storage.Tx) error {
		var err error
		if deleted, err = tx.GetTransfer(ctx, id); err != nil {
			return err
		}
		return tx.DeleteTransfer(ctx, id)
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Transfer deleted", log.NewFields().
		WithTransfer(deleted.ID, deleted.FromID, deleted.ToID, deleted.Amount).
		WithOperation(log.OpDelete).ToSlice()...)
	e.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventTransferDeleted,
		EntityID:    deleted.ID,
		EnvelopeIDs: []int64{deleted.FromID, deleted.ToID},
		Amount:      deleted.Amount,
	})
	return nil
}
