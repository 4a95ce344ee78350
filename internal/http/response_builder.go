package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"envelopes/internal/core"
)

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}

	payload, err := json.Marshal(b.body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response","code":"INTERNAL"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(payload, '\n'))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	EnvelopeID   int64  `json:"envelopeId,omitempty"`
	EnvelopeName string `json:"envelopeName,omitempty"`
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrConstraintViolation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse creates the error response for err. Messages of errors
// outside the ledger taxonomy are not exposed.
func ErrorResponse(err error) *ResponseBuilder {
	status := StatusFor(err)
	body := ErrorBody{Error: "internal error", Code: core.CodeOf(err)}
	if status != http.StatusInternalServerError {
		body.Error = err.Error()
		var le *core.Error
		if errors.As(err, &le) {
			body.Error = le.Message
			body.EnvelopeID = le.EnvelopeID
			body.EnvelopeName = le.EnvelopeName
		}
	}
	return NewResponse().Status(status).JSON(body)
}

// TooManyRequestsError creates a 429 response with a Retry-After hint.
func TooManyRequestsError() *ResponseBuilder {
	return NewResponse().
		Status(http.StatusTooManyRequests).
		Header("Retry-After", "60").
		JSON(ErrorBody{Error: "rate limit exceeded, try again later", Code: "RATE_LIMITED"})
}
