package memory

import (
	"context"
	"fmt"
	"sync"

	"envelopes/internal/core"
	ports "envelopes/internal/sheets"
)

// Exporter keeps exported rows in memory. Used when no spreadsheet is
// configured and in tests.
type Exporter struct {
	mu   sync.Mutex
	rows [][]string
}

var _ ports.LedgerExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{}
}

// AppendEvent stores the event row and returns a synthetic row reference.
func (e *Exporter) AppendEvent(_ context.Context, ev core.LedgerEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, ports.EventRow(ev))
	return fmt.Sprintf("mem:%d", len(e.rows)), nil
}

// Rows returns a copy of every exported row.
func (e *Exporter) Rows() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.rows))
	for i, r := range e.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
