package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a committed ledger mutation.
type EventKind string

const (
	EventEnvelopeCreated        EventKind = "envelope.created"
	EventEnvelopeUpdated        EventKind = "envelope.updated"
	EventEnvelopeDeleted        EventKind = "envelope.deleted"
	EventTransferCreated        EventKind = "transfer.created"
	EventTransferDeleted        EventKind = "transfer.deleted"
	EventTransactionCreated     EventKind = "transaction.created"
	EventTransactionUpdated     EventKind = "transaction.updated"
	EventTransactionDeleted     EventKind = "transaction.deleted"
	EventTransactionsDeletedAll EventKind = "transactions.deleted_all"
)

// LedgerEvent describes a mutation after it has been committed.
// EnvelopeIDs lists every envelope whose row was touched.
type LedgerEvent struct {
	Kind        EventKind       `json:"kind"`
	EntityID    int64           `json:"entityId"`
	EnvelopeIDs []int64         `json:"envelopeIds"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Validate checks the minimal shape consumers rely on.
func (e LedgerEvent) Validate() error {
	switch e.Kind {
	case EventEnvelopeCreated, EventEnvelopeUpdated, EventEnvelopeDeleted,
		EventTransferCreated, EventTransferDeleted,
		EventTransactionCreated, EventTransactionUpdated, EventTransactionDeleted,
		EventTransactionsDeletedAll:
	default:
		return InvalidArgument("unknown event kind %q", e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return InvalidArgument("event time cannot be zero")
	}
	return nil
}
