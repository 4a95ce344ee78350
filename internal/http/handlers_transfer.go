package http

import "net/http"

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.ledger.Transfers.List(r.Context())
	if err != nil {
		s.fail(w, r, "list transfers", err)
		return
	}
	NewResponse().JSON(orEmpty(transfers)).Write(w)
}

// handleCreateTransfer accepts {"from": id, "to": id, "amount": n}.
func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, "create transfer", err)
		return
	}
	from, err := p.ID("from")
	if err != nil {
		s.fail(w, r, "create transfer", err)
		return
	}
	to, err := p.ID("to")
	if err != nil {
		s.fail(w, r, "create transfer", err)
		return
	}
	amount, err := p.Amount("amount")
	if err != nil {
		s.fail(w, r, "create transfer", err)
		return
	}

	tr, err := s.ledger.Transfers.Create(r.Context(), from, to, amount)
	if err != nil {
		s.fail(w, r, "create transfer", err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(tr).Write(w)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "get transfer", err)
		return
	}
	tr, err := s.ledger.Transfers.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get transfer", err)
		return
	}
	NewResponse().JSON(tr).Write(w)
}

func (s *Server) handleDeleteTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "delete transfer", err)
		return
	}
	if err := s.ledger.Transfers.Delete(r.Context(), id); err != nil {
		s.fail(w, r, "delete transfer", err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
