package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

// LedgerEventMessage is the wire form of a committed ledger mutation.
type LedgerEventMessage struct {
	MessageID   string          `json:"messageId"`
	Kind        core.EventKind  `json:"kind"`
	EntityID    int64           `json:"entityId"`
	EnvelopeIDs []int64         `json:"envelopeIds"`
	Amount      decimal.Decimal `json:"amount"`
	Name        string          `json:"name,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewLedgerEventMessage wraps ev with a fresh message id.
func NewLedgerEventMessage(ev core.LedgerEvent) *LedgerEventMessage {
	return &LedgerEventMessage{
		MessageID:   uuid.NewString(),
		Kind:        ev.Kind,
		EntityID:    ev.EntityID,
		EnvelopeIDs: ev.EnvelopeIDs,
		Amount:      ev.Amount,
		Name:        ev.Name,
		OccurredAt:  ev.OccurredAt,
		Timestamp:   time.Now().UTC(),
	}
}

// Event converts the message back to a domain event.
func (m *LedgerEventMessage) Event() core.LedgerEvent {
	return core.LedgerEvent{
		Kind:        m.Kind,
		EntityID:    m.EntityID,
		EnvelopeIDs: m.EnvelopeIDs,
		Amount:      m.Amount,
		Name:        m.Name,
		OccurredAt:  m.OccurredAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON decodes a message and checks its event shape.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Event().Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger event: %w", err)
	}
	return &msg, nil
}
