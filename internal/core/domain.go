package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Envelope is a named budget bucket. Budget and Spent are owned by the
	// ledger; Version is bumped by the store on every write.
	Envelope struct {
		ID        int64           `json:"id"`
		Name      string          `json:"name"`
		Budget    decimal.Decimal `json:"budget"`
		Spent     decimal.Decimal `json:"spent"`
		CreatedAt time.Time       `json:"createdAt"`
		Version   int64           `json:"-"`
	}

	// Transfer moves budget from one envelope to another. Immutable once created.
	Transfer struct {
		ID       int64           `json:"id"`
		Amount   decimal.Decimal `json:"amount"`
		Date     time.Time       `json:"date"`
		FromID   int64           `json:"fromId"`
		ToID     int64           `json:"toId"`
		FromName string          `json:"fromName"`
		ToName   string          `json:"toName"`
	}

	// Transaction is a spend recorded against a single envelope.
	Transaction struct {
		ID           int64           `json:"id"`
		Amount       decimal.Decimal `json:"amount"`
		Date         time.Time       `json:"date"`
		EnvelopeID   int64           `json:"envelopeId"`
		EnvelopeName string          `json:"envelopeName"`
		Name         string          `json:"name"`
	}
)

// Available returns budget - spent.
func (e Envelope) Available() decimal.Decimal {
	return e.Budget.Sub(e.Spent)
}

// Validate checks the envelope invariant 0 <= spent <= budget.
func (e Envelope) Validate() error {
	if err := NonNegative("budget", e.Budget); err != nil {
		return err
	}
	if err := NonNegative("spent", e.Spent); err != nil {
		return err
	}
	return WithinBudget(e.Spent, e.Budget)
}

// NewEnvelope holds the input for creating an envelope.
type NewEnvelope struct {
	Name   string
	Budget decimal.Decimal
	Spent  decimal.Decimal
}

// EnvelopePatch is a partial update; nil fields are left unchanged.
type EnvelopePatch struct {
	Name   *string          `json:"name,omitempty"`
	Budget *decimal.Decimal `json:"budget,omitempty"`
	Spent  *decimal.Decimal `json:"spent,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p EnvelopePatch) IsEmpty() bool {
	return p.Name == nil && p.Budget == nil && p.Spent == nil
}

// TransactionPatch is a partial update; nil fields are left unchanged.
type TransactionPatch struct {
	Name       *string          `json:"name,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	EnvelopeID *int64           `json:"envelopeId,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p.Name == nil && p.Amount == nil && p.EnvelopeID == nil
}
