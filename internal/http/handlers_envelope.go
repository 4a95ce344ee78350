package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"envelopes/internal/core"
)

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	envs, err := s.ledger.Envelopes.List(r.Context())
	if err != nil {
		s.fail(w, r, "list envelopes", err)
		return
	}
	NewResponse().JSON(orEmpty(envs)).Write(w)
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, "create envelope", err)
		return
	}

	budget, err := p.Amount("budget")
	if err != nil {
		s.fail(w, r, "create envelope", err)
		return
	}
	spent, err := p.AmountOr("spent", decimal.Zero)
	if err != nil {
		s.fail(w, r, "create envelope", err)
		return
	}

	env, err := s.ledger.Envelopes.Create(r.Context(), core.NewEnvelope{
		Name:   p.Get("name"),
		Budget: budget,
		Spent:  spent,
	})
	if err != nil {
		s.fail(w, r, "create envelope", err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(env).Write(w)
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "get envelope", err)
		return
	}
	env, err := s.ledger.Envelopes.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get envelope", err)
		return
	}
	NewResponse().JSON(env).Write(w)
}

func (s *Server) handleUpdateEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "update envelope", err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		s.fail(w, r, "update envelope", err)
		return
	}

	patch := core.EnvelopePatch{Name: p.OptionalString("name")}
	if patch.Budget, err = p.OptionalAmount("budget"); err != nil {
		s.fail(w, r, "update envelope", err)
		return
	}
	if patch.Spent, err = p.OptionalAmount("spent"); err != nil {
		s.fail(w, r, "update envelope", err)
		return
	}

	env, err := s.ledger.Envelopes.Update(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, "update envelope", err)
		return
	}
	NewResponse().JSON(env).Write(w)
}

func (s *Server) handleDeleteEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, "delete envelope", err)
		return
	}
	if err := s.ledger.Envelopes.Delete(r.Context(), id); err != nil {
		s.fail(w, r, "delete envelope", err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
