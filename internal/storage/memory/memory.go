// Package memory is an in-process storage.Store. One Update runs at a time;
// its writes are staged on a copy of the state and swapped in only when the
// unit of work succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"envelopes/internal/core"
	"envelopes/internal/storage"
)

var errReadOnly = errors.New("write attempted inside a read-only view")

type state struct {
	envelopes    map[int64]core.Envelope
	transfers    map[int64]core.Transfer
	transactions map[int64]core.Transaction
	nextID       map[string]int64
}

func newState() *state {
	return &state{
		envelopes:    map[int64]core.Envelope{},
		transfers:    map[int64]core.Transfer{},
		transactions: map[int64]core.Transaction{},
		nextID:       map[string]int64{},
	}
}

func (s *state) clone() *state {
	out := &state{
		envelopes:    make(map[int64]core.Envelope, len(s.envelopes)),
		transfers:    make(map[int64]core.Transfer, len(s.transfers)),
		transactions: make(map[int64]core.Transaction, len(s.transactions)),
		nextID:       make(map[string]int64, len(s.nextID)),
	}
	for k, v := range s.envelopes {
		out.envelopes[k] = v
	}
	for k, v := range s.transfers {
		out.transfers[k] = v
	}
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	for k, v := range s.nextID {
		out.nextID[k] = v
	}
	return out
}

type Store struct {
	mu     sync.RWMutex
	state  *state
	closed bool
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}

	staged := s.state.clone()
	if err := fn(&tx{st: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return fn(&tx{st: s.state, now: s.now, readOnly: true})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type tx struct {
	st       *state
	now      func() time.Time
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) next(table string) int64 {
	t.st.nextID[table]++
	return t.st.nextID[table]
}

func (t *tx) GetEnvelope(_ context.Context, id int64) (core.Envelope, error) {
	e, ok := t.st.envelopes[id]
	if !ok {
		return core.Envelope{}, core.NotFound("envelope", id)
	}
	return e, nil
}

func (t *tx) ListEnvelopes(_ context.Context) ([]core.Envelope, error) {
	out := make([]core.Envelope, 0, len(t.st.envelopes))
	for _, e := range t.st.envelopes {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) LockEnvelopes(_ context.Context, ids ...int64) (map[int64]core.Envelope, error) {
	out := make(map[int64]core.Envelope, len(ids))
	for _, id := range storage.LockOrder(ids...) {
		if e, ok := t.st.envelopes[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (t *tx) InsertEnvelope(_ context.Context, e core.Envelope) (core.Envelope, error) {
	if err := t.writable(); err != nil {
		return core.Envelope{}, err
	}
	e.ID = t.next("envelopes")
	e.Version = 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now()
	}
	t.st.envelopes[e.ID] = e
	return e, nil
}

func (t *tx) UpdateEnvelope(_ context.Context, e core.Envelope) (core.Envelope, error) {
	if err := t.writable(); err != nil {
		return core.Envelope{}, err
	}
	cur, ok := t.st.envelopes[e.ID]
	if !ok {
		return core.Envelope{}, core.NotFound("envelope", e.ID)
	}
	if cur.Version != e.Version {
		return core.Envelope{}, fmt.Errorf("update envelope %d at version %d: %w", e.ID, e.Version, storage.ErrConflict)
	}
	e.CreatedAt = cur.CreatedAt
	e.Version = cur.Version + 1
	t.st.envelopes[e.ID] = e
	return e, nil
}

func (t *tx) DeleteEnvelope(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.envelopes[id]; !ok {
		return core.NotFound("envelope", id)
	}
	delete(t.st.envelopes, id)
	for tid, tr := range t.st.transfers {
		if tr.FromID == id || tr.ToID == id {
			delete(t.st.transfers, tid)
		}
	}
	for tid, tn := range t.st.transactions {
		if tn.EnvelopeID == id {
			delete(t.st.transactions, tid)
		}
	}
	return nil
}

func (t *tx) InsertTransfer(_ context.Context, tr core.Transfer) (core.Transfer, error) {
	if err := t.writable(); err != nil {
		return core.Transfer{}, err
	}
	for _, id := range []int64{tr.FromID, tr.ToID} {
		if _, ok := t.st.envelopes[id]; !ok {
			return core.Transfer{}, core.NotFound("envelope", id)
		}
	}
	tr.ID = t.next("transfers")
	if tr.Date.IsZero() {
		tr.Date = t.now()
	}
	t.st.transfers[tr.ID] = tr
	return tr, nil
}

// transferNames replaces the stored name snapshots with current envelope names.
func (t *tx) transferNames(tr core.Transfer) core.Transfer {
	if e, ok := t.st.envelopes[tr.FromID]; ok {
		tr.FromName = e.Name
	}
	if e, ok := t.st.envelopes[tr.ToID]; ok {
		tr.ToName = e.Name
	}
	return tr
}

func (t *tx) GetTransfer(_ context.Context, id int64) (core.Transfer, error) {
	tr, ok := t.st.transfers[id]
	if !ok {
		return core.Transfer{}, core.NotFound("transfer", id)
	}
	return t.transferNames(tr), nil
}

func (t *tx) ListTransfers(_ context.Context) ([]core.Transfer, error) {
	out := make([]core.Transfer, 0, len(t.st.transfers))
	for _, tr := range t.st.transfers {
		out = append(out, t.transferNames(tr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteTransfer(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.transfers[id]; !ok {
		return core.NotFound("transfer", id)
	}
	delete(t.st.transfers, id)
	return nil
}

func (t *tx) transactionName(tn core.Transaction) core.Transaction {
	if e, ok := t.st.envelopes[tn.EnvelopeID]; ok {
		tn.EnvelopeName = e.Name
	}
	return tn
}

func (t *tx) InsertTransaction(_ context.Context, tn core.Transaction) (core.Transaction, error) {
	if err := t.writable(); err != nil {
		return core.Transaction{}, err
	}
	if _, ok := t.st.envelopes[tn.EnvelopeID]; !ok {
		return core.Transaction{}, core.NotFound("envelope", tn.EnvelopeID)
	}
	tn.ID = t.next("transactions")
	if tn.Date.IsZero() {
		tn.Date = t.now()
	}
	t.st.transactions[tn.ID] = tn
	return tn, nil
}

func (t *tx) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	tn, ok := t.st.transactions[id]
	if !ok {
		return core.Transaction{}, core.NotFound("transaction", id)
	}
	return t.transactionName(tn), nil
}

func (t *tx) ListTransactions(_ context.Context, envelopeID int64) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, tn := range t.st.transactions {
		if tn.EnvelopeID == envelopeID {
			out = append(out, t.transactionName(tn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) UpdateTransaction(_ context.Context, tn core.Transaction) (core.Transaction, error) {
	if err := t.writable(); err != nil {
		return core.Transaction{}, err
	}
	if _, ok := t.st.transactions[tn.ID]; !ok {
		return core.Transaction{}, core.NotFound("transaction", tn.ID)
	}
	if _, ok := t.st.envelopes[tn.EnvelopeID]; !ok {
		return core.Transaction{}, core.NotFound("envelope", tn.EnvelopeID)
	}
	if tn.Date.IsZero() {
		tn.Date = t.now()
	}
	t.st.transactions[tn.ID] = tn
	return tn, nil
}

func (t *tx) DeleteTransaction(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.transactions[id]; !ok {
		return core.NotFound("transaction", id)
	}
	delete(t.st.transactions, id)
	return nil
}

func (t *tx) DeleteTransactionsByEnvelope(_ context.Context, envelopeID int64) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	var n int64
	for id, tn := range t.st.transactions {
		if tn.EnvelopeID == envelopeID {
			delete(t.st.transactions, id)
			n++
		}
	}
	return n, nil
}
