package ledger

import (
	"context"
	"strings"

	"envelopes/internal/core"
	"envelopes/internal/log"
	"envelopes/internal/storage"
)

// EnvelopeStore owns envelope records and their budget/spent pair.
type EnvelopeStore struct {
	r      *runner
	logger *log.Logger
}

// Create validates and persists a new envelope.
func (s *EnvelopeStore) Create(ctx context.Context, in core.NewEnvelope) (core.Envelope, error) {
	name := strings.TrimSpace(in.Name)
	if err := core.NonEmpty("name", name); err != nil {
		return core.Envelope{}, err
	}
	if err := core.NonNegative("budget", in.Budget); err != nil {
		return core.Envelope{}, err
	}
	if err := core.NonNegative("spent", in.Spent); err != nil {
		return core.Envelope{}, err
	}
	if in.Spent.GreaterThan(in.Budget) {
		return core.Envelope{}, core.InvalidArgument("spent (%s) cannot exceed budget (%s)", in.Spent.String(), in.Budget.String())
	}

	var created core.Envelope
	err := s.r.mutate(ctx, "create envelope", func(tx storage.Tx) error {
		var err error
		created, err = tx.InsertEnvelope(ctx, core.Envelope{
			Name:      name,
			Budget:    in.Budget,
			Spent:     in.Spent,
			CreatedAt: s.r.now(),
		})
		return err
	})
	if err != nil {
		return core.Envelope{}, err
	}

	s.logger.InfoContext(ctx, "Envelope created", log.NewFields().
		WithEnvelope(created.ID, created.Name).
		WithOperation(log.OpCreate).ToSlice()...)
	s.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventEnvelopeCreated,
		EntityID:    created.ID,
		EnvelopeIDs: []int64{created.ID},
		Amount:      created.Budget,
		Name:        created.Name,
	})
	return created, nil
}

func (s *EnvelopeStore) Get(ctx context.Context, id int64) (core.Envelope, error) {
	var out core.Envelope
	err := s.r.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.GetEnvelope(ctx, id)
		return err
	})
	return out, err
}

// List returns every envelope in creation order.
func (s *EnvelopeStore) List(ctx context.Context) ([]core.Envelope, error) {
	var out []core.Envelope
	err := s.r.view(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListEnvelopes(ctx)
		return err
	})
	return out, err
}

// Update applies the non-nil fields of p. A negative budget is rejected as
// INVALID_ARGUMENT; a spent outside [0, budget] after the patch, including a
// budget lowered below the current spent, is CONSTRAINT_VIOLATION. On any
// failure the envelope is left untouched.
func (s *EnvelopeStore) Update(ctx context.Context, id int64, p core.EnvelopePatch) (core.Envelope, error) {
	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
		if err := core.NonEmpty("name", name); err != nil {
			return core.Envelope{}, err
		}
	}
	if p.Budget != nil {
		if err := core.NonNegative("budget", *p.Budget); err != nil {
			return core.Envelope{}, err
		}
	}

	var (
		updated core.Envelope
		changed bool
	)
	err := s.r.mutate(ctx, "update envelope", func(tx storage.Tx) error {
		cur, err := lockOne(ctx, tx, "envelope", id)
		if err != nil {
			return err
		}
		if p.IsEmpty() {
			updated, changed = cur, false
			return nil
		}

		next := cur
		if p.Name != nil {
			next.Name = name
		}
		if p.Budget != nil {
			next.Budget = *p.Budget
		}
		if p.Spent != nil {
			next.Spent = *p.Spent
		}
		if err := core.WithinBudget(next.Spent, next.Budget); err != nil {
			return core.WithEnvelope(err, cur)
		}

		saved, err := writeEnvelopes(ctx, tx, next)
		if err != nil {
			return err
		}
		updated, changed = saved[id], true
		return nil
	})
	if err != nil {
		return core.Envelope{}, err
	}

	if changed {
		s.logger.InfoContext(ctx, "Envelope updated", log.NewFields().
			WithEnvelope(updated.ID, updated.Name).
			WithOperation(log.OpUpdate).ToSlice()...)
		s.r.emit(ctx, core.LedgerEvent{
			Kind:        core.EventEnvelopeUpdated,
			EntityID:    updated.ID,
			EnvelopeIDs: []int64{updated.ID},
			Amount:      updated.Budget,
			Name:        updated.Name,
		})
	}
	return updated, nil
}

// Delete removes the envelope together with every transfer and transaction
// that references it. Balances of other envelopes are not compensated.
func (s *EnvelopeStore) Delete(ctx context.Context, id int64) error {
	var deleted core.Envelope
	err := s.r.mutate(ctx, "delete envelope", func(tx storage.Tx) error {
		var err error
		if deleted, err = lockOne(ctx, tx, "envelope", id); err != nil {
			return err
		}
		return tx.DeleteEnvelope(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Envelope deleted", log.NewFields().
		WithEnvelope(deleted.ID, deleted.Name).
		WithOperation(log.OpDelete).ToSlice()...)
	s.r.emit(ctx, core.LedgerEvent{
		Kind:        core.EventEnvelopeDeleted,
		EntityID:    deleted.ID,
		EnvelopeIDs: []int64{deleted.ID},
		Amount:      deleted.Budget,
		Name:        deleted.Name,
	})
	return nil
}
