// Package storage defines the durable store contract the ledger runs on and
// its SQLite implementation.
package storage

import (
	"context"
	"errors"
	"sort"

	"envelopes/internal/core"
)

// ErrConflict reports that a row changed underneath an optimistic write, or
// that the database was busy. The whole unit of work can be retried.
var ErrConflict = errors.New("storage conflict")

// Store runs units of work against durable state.
type Store interface {
	// Update runs fn as one atomic unit. Writes made through tx are committed
	// only when fn returns nil; otherwise nothing is persisted.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn for reads only.
	View(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the row-level API available inside a unit of work. Missing rows are
// reported as core NOT_FOUND errors.
type Tx interface {
	GetEnvelope(ctx context.Context, id int64) (core.Envelope, error)
	ListEnvelopes(ctx context.Context) ([]core.Envelope, error)
	// LockEnvelopes reads the given envelopes for update, acquiring them in
	// ascending id order. Ids that do not exist are absent from the result.
	LockEnvelopes(ctx context.Context, ids ...int64) (map[int64]core.Envelope, error)
	InsertEnvelope(ctx context.Context, e core.Envelope) (core.Envelope, error)
	// UpdateEnvelope writes e only if the stored version still equals
	// e.Version, returning the row with its new version. ErrConflict otherwise.
	UpdateEnvelope(ctx context.Context, e core.Envelope) (core.Envelope, error)
	// DeleteEnvelope removes the envelope and every transfer and transaction
	// referencing it.
	DeleteEnvelope(ctx context.Context, id int64) error

	InsertTransfer(ctx context.Context, t core.Transfer) (core.Transfer, error)
	GetTransfer(ctx context.Context, id int64) (core.Transfer, error)
	ListTransfers(ctx context.Context) ([]core.Transfer, error)
	DeleteTransfer(ctx context.Context, id int64) error

	InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	ListTransactions(ctx context.Context, envelopeID int64) ([]core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	DeleteTransactionsByEnvelope(ctx context.Context, envelopeID int64) (int64, error)
}

// LockOrder returns ids deduplicated and sorted ascending, the order in which
// envelopes must be acquired.
func LockOrder(ids ...int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
