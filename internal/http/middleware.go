package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"envelopes/internal/log"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"

	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// withRequestID tags each request with an id, reusing a well-formed
// X-Request-ID from the caller.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSuspicious(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(),
				"Suspicious request",
				log.FieldClientIP, extractClientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}
		applySecurityHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// withRateLimit limits mutating requests per client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) {
			clientIP := extractClientIP(r)
			if !s.limiter.allow(clientIP) {
				log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(),
					"Rate limit exceeded",
					log.FieldClientIP, clientIP,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				TooManyRequestsError().Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// replay is a stored POST response. done is closed once the first request
// carrying the key has finished.
type replay struct {
	fingerprint [32]byte
	done        chan struct{}
	status      int
	header      http.Header
	body        []byte
}

// withIdempotency replays the stored response for a POST that repeats an
// Idempotency-Key, so a retried create is applied at most once. Reusing a
// key with a different body is rejected.
func (s *Server) withIdempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 255 {
			writeErrorBody(w, http.StatusBadRequest, "Idempotency-Key must be at most 255 characters", "INVALID_ARGUMENT")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, "failed to read request body", "INVALID_ARGUMENT")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		cacheKey := extractClientIP(r) + " " + r.URL.Path + " " + key
		entry := &replay{fingerprint: sha256.Sum256(body), done: make(chan struct{})}
		if !s.replays.SetIfAbsent(cacheKey, entry) {
			prev, ok := s.replays.Get(cacheKey)
			if !ok {
				// evicted between the two calls; run the request normally
				next.ServeHTTP(w, r)
				return
			}
			s.serveReplay(w, r, prev, entry.fingerprint)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		func() {
			defer close(entry.done)
			next.ServeHTTP(rec, r)
			entry.status = rec.status
			entry.header = w.Header().Clone()
			entry.body = rec.buf.Bytes()
		}()
		if rec.status >= http.StatusInternalServerError {
			s.replays.Delete(cacheKey)
		}
	})
}

func (s *Server) serveReplay(w http.ResponseWriter, r *http.Request, prev *replay, fingerprint [32]byte) {
	if prev.fingerprint != fingerprint {
		writeErrorBody(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body", "IDEMPOTENCY_KEY_REUSED")
		return
	}
	select {
	case <-prev.done:
	case <-r.Context().Done():
		return
	}

	for k, v := range prev.header {
		if k == headerRequestID {
			continue
		}
		w.Header()[k] = v
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(prev.status)
	_, _ = w.Write(prev.body)
}

func writeErrorBody(w http.ResponseWriter, status int, msg, code string) {
	NewResponse().Status(status).JSON(ErrorBody{Error: msg, Code: code}).Write(w)
}

// captureWriter passes the response through while keeping a copy.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
