package http

import (
	"net/http"

	"envelopes/internal/core"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "list transactions", err)
		return
	}
	txns, err := s.ledger.Transactions.List(r.Context(), envelopeID)
	if err != nil {
		s.fail(w, r, "list transactions", err)
		return
	}
	NewResponse().JSON(orEmpty(txns)).Write(w)
}

// handleCreateTransaction accepts {"amount": n, "name": "..."}.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}
	amount, err := p.Amount("amount")
	if err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}

	txn, err := s.ledger.Transactions.Create(r.Context(), envelopeID, amount, p.Get("name"))
	if err != nil {
		s.fail(w, r, "create transaction", err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(txn).Write(w)
}

// handleDeleteAllTransactions responds with the removed transactions.
func (s *Server) handleDeleteAllTransactions(w http.ResponseWriter, r *http.Request) {
	envelopeID, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "delete all transactions", err)
		return
	}
	removed, err := s.ledger.Transactions.DeleteAll(r.Context(), envelopeID)
	if err != nil {
		s.fail(w, r, "delete all transactions", err)
		return
	}
	NewResponse().JSON(orEmpty(removed)).Write(w)
}

// scopedTransaction loads the transaction named by the path, checking it
// belongs to the envelope in the path.
func (s *Server) scopedTransaction(r *http.Request) (core.Transaction, error) {
	envelopeID, err := pathID(r, "id")
	if err != nil {
		return core.Transaction{}, err
	}
	tid, err := pathID(r, "tid")
	if err != nil {
		return core.Transaction{}, err
	}
	return s.ledger.Transactions.GetInEnvelope(r.Context(), envelopeID, tid)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.scopedTransaction(r)
	if err != nil {
		s.fail(w, r, "get transaction", err)
		return
	}
	NewResponse().JSON(txn).Write(w)
}

// handleUpdateTransaction accepts any of {"name", "amount", "envelopeId"}.
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.scopedTransaction(r)
	if err != nil {
		s.fail(w, r, "update transaction", err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, "update transaction", err)
		return
	}

	patch := core.TransactionPatch{Name: p.OptionalString("name")}
	if patch.Amount, err = p.OptionalAmount("amount"); err != nil {
		s.fail(w, r, "update transaction", err)
		return
	}
	if patch.EnvelopeID, err = p.OptionalID("envelopeId"); err != nil {
		s.fail(w, r, "update transaction", err)
		return
	}

	updated, err := s.ledger.Transactions.Update(r.Context(), txn.ID, patch)
	if err != nil {
		s.fail(w, r, "update transaction", err)
		return
	}
	NewResponse().JSON(updated).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.scopedTransaction(r)
	if err != nil {
		s.fail(w, r, "delete transaction", err)
		return
	}
	if err := s.ledger.Transactions.Delete(r.Context(), txn.ID); err != nil {
		s.fail(w, r, "delete transaction", err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
