package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"envelopes/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerExporter appends committed ledger events to an external journal.
	LedgerExporter interface {
		AppendEvent(ctx context.Context, ev core.LedgerEvent) (rowRef string, err error)
	}
)

// Header is the column layout every exporter writes.
var Header = []string{"Occurred At", "Event", "Entity", "Envelopes", "Amount", "Name"}

// EventRow renders ev as one journal row in Header order.
func EventRow(ev core.LedgerEvent) []string {
	ids := make([]string, len(ev.EnvelopeIDs))
	for i, id := range ev.EnvelopeIDs {
		ids[i] = fmt.Sprint(id)
	}
	return []string{
		ev.OccurredAt.UTC().Format(time.RFC3339),
		string(ev.Kind),
		fmt.Sprint(ev.EntityID),
		strings.Join(ids, ","),
		ev.Amount.StringFixed(2),
		ev.Name,
	}
}
