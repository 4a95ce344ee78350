// Package worker turns ledger event messages into journal rows.
package worker

import (
	"context"
	"fmt"
	"time"

	"envelopes/internal/amqp"
	"envelopes/internal/cache"
	"envelopes/internal/log"
	"envelopes/internal/sheets"
)

const (
	seenSize = 10_000
	seenTTL  = 24 * time.Hour
)

// ExportWorker exports every consumed ledger event exactly once per message
// id, as far as its recent-message window reaches.
type ExportWorker struct {
	exporter sheets.LedgerExporter
	seen     *cache.LRUCache[string]
	logger   *log.Logger
}

func NewExportWorker(exporter sheets.LedgerExporter, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ExportWorker{
		exporter: exporter,
		seen:     cache.NewLRUCache[string](seenSize, seenTTL),
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Seen exposes the de-duplication cache so it can be registered for cleanup.
func (w *ExportWorker) Seen() cache.Cleaner {
	return w.seen
}

// HandleEvent exports one message. A redelivered message whose id was
// already exported is acknowledged without writing a second row.
func (w *ExportWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	if msg.MessageID != "" {
		if ref, ok := w.seen.Get(msg.MessageID); ok {
			w.logger.InfoContext(ctx, "Skipping already exported event",
				"message_id", msg.MessageID,
				log.FieldSheetsRef, ref)
			return nil
		}
	}

	ev := msg.Event()
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	ref, err := w.exporter.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("export event %s: %w", ev.Kind, err)
	}
	if msg.MessageID != "" {
		w.seen.Set(msg.MessageID, ref)
	}

	w.logger.InfoContext(ctx, "Ledger event exported",
		log.FieldEventKind, string(ev.Kind),
		"entity_id", ev.EntityID,
		log.FieldSheetsRef, ref)
	return nil
}
