package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envelopes/internal/core"
)

func TestResponseBuilder_JSON(t *testing.T) {
	w := httptest.NewRecorder()
	NewResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		JSON(map[string]int{"id": 4}).
		Write(w)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Test"))
	assert.JSONEq(t, `{"id":4}`, w.Body.String())
}

func TestResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NewResponse().Status(http.StatusNoContent).JSON(map[string]string{"ignored": "yes"}).Write(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NotFound("envelope", 1), http.StatusNotFound},
		{core.InvalidArgument("bad"), http.StatusBadRequest},
		{core.InsufficientFunds(core.Envelope{ID: 1, Name: "Food"}), http.StatusUnprocessableEntity},
		{core.ConstraintViolation("spent below zero"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", core.NotFound("transfer", 2)), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorResponse(core.InsufficientFunds(core.Envelope{ID: 7, Name: "Fun"})).Write(w)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrorBody{
		Error:        "not enough budget in envelope named: Fun with id: 7",
		Code:         "INSUFFICIENT_FUNDS",
		EnvelopeID:   7,
		EnvelopeName: "Fun",
	}, body)
}

func TestErrorResponse_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorResponse(errors.New("sql: connection refused at 10.0.0.3")).Write(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error","code":"INTERNAL"}`, w.Body.String())
}
