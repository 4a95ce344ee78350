// Package ledger implements the envelope budget engine: envelope records,
// transfers between envelopes and spends against one envelope. Every
// mutation runs as one storage unit of work, so the funds check and the
// write it guards cannot interleave with another mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"envelopes/internal/core"
	"envelopes/internal/log"
	"envelopes/internal/storage"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 10 * time.Millisecond
)

// Publisher receives an event for every committed mutation.
type Publisher interface {
	Publish(ctx context.Context, ev core.LedgerEvent) error
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Publisher   Publisher
	Logger      *log.Logger
	Now         func() time.Time
}

// Service bundles the three ledger components over one store.
type Service struct {
	Envelopes    *EnvelopeStore
	Transfers    *TransferEngine
	Transactions *TransactionEngine
}

func New(store storage.Store, opts Options) *Service {
	r := newRunner(store, opts)
	return &Service{
		Envelopes:    &EnvelopeStore{r: r, logger: r.logger.WithComponent(log.ComponentEnvelope)},
		Transfers:    &TransferEngine{r: r, logger: r.logger.WithComponent(log.ComponentTransfer)},
		Transactions: &TransactionEngine{r: r, logger: r.logger.WithComponent(log.ComponentTransaction)},
	}
}

type runner struct {
	store       storage.Store
	maxAttempts int
	backoff     time.Duration
	pub         Publisher
	logger      *log.Logger
	now         func() time.Time
}

func newRunner(store storage.Store, opts Options) *runner {
	r := &runner{
		store:       store,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		pub:         opts.Publisher,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.backoff <= 0 {
		r.backoff = DefaultBackoff
	}
	if r.logger == nil {
		r.logger = log.Discard()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	r.logger = r.logger.WithComponent(log.ComponentLedger)
	return r
}

// mutate runs fn as one atomic unit, retrying the whole unit when the store
// reports a conflict. fn must reset anything it captures on each call.
func (r *runner) mutate(ctx context.Context, op string, fn func(tx storage.Tx) error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.store.Update(ctx, fn)
		if err == nil || !errors.Is(err, storage.ErrConflict) {
			return err
		}

		r.logger.WarnContext(ctx, "Ledger write conflicted, retrying",
			log.FieldOperation, op,
			log.FieldAttempt, attempt,
			log.FieldError, err)

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s: gave up after %d attempts: %w", op, r.maxAttempts, err)
}

func (r *runner) view(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.store.View(ctx, fn)
}

// emit publishes after commit. A publish failure never undoes the commit.
func (r *runner) emit(ctx context.Context, ev core.LedgerEvent) {
	if r.pub == nil {
		return
	}
	ev.OccurredAt = r.now()
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldOperation, log.OpPublish,
			log.FieldEventKind, string(ev.Kind),
			log.FieldError, err)
	}
}

// lockOne reads a single envelope for update. entity names the role of the
// envelope in NOT_FOUND messages.
func lockOne(ctx context.Context, tx storage.Tx, entity string, id int64) (core.Envelope, error) {
	locked, err := tx.LockEnvelopes(ctx, id)
	if err != nil {
		return core.Envelope{}, err
	}
	e, ok := locked[id]
	if !ok {
		return core.Envelope{}, core.NotFound(entity, id)
	}
	return e, nil
}

// writeEnvelopes re-checks the invariant on every envelope and writes them
// in ascending id order.
func writeEnvelopes(ctx context.Context, tx storage.Tx, envs ...core.Envelope) (map[int64]core.Envelope, error) {
	byID := make(map[int64]core.Envelope, len(envs))
	ids := make([]int64, 0, len(envs))
	for _, e := range envs {
		if err := core.WithinBudget(e.Spent, e.Budget); err != nil {
			return nil, core.WithEnvelope(err, e)
		}
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	out := make(map[int64]core.Envelope, len(envs))
	for _, id := range storage.LockOrder(ids...) {
		saved, err := tx.UpdateEnvelope(ctx, byID[id])
		if err != nil {
			return nil, err
		}
		out[id] = saved
	}
	return out, nil
}
