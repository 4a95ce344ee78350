// Package http exposes the envelope ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"envelopes/internal/cache"
	"envelopes/internal/core"
	"envelopes/internal/ledger"
	"envelopes/internal/log"
)

const (
	idempotencyEntries = 1000
	defaultReplayTTL   = 24 * time.Hour
	readyTimeout       = 5 * time.Second
)

// Options configures a Server. Zero values fall back to defaults.
type Options struct {
	Addr string
	// RateLimitPerMinute caps mutating requests per client IP; 0 disables it.
	RateLimitPerMinute int
	// IdempotencyTTL is how long a POST response is kept for replay.
	IdempotencyTTL time.Duration
	// Ready reports whether dependencies such as the store are reachable.
	Ready  func(ctx context.Context) error
	Logger *log.Logger
}

type Server struct {
	http.Server
	ledger  *ledger.Service
	ready   func(ctx context.Context) error
	logger  *log.Logger
	limiter *rateLimiter
	replays *cache.LRUCache[*replay]
	started time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(svc *ledger.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}

	s := &Server{
		ledger:  svc,
		ready:   opts.Ready,
		logger:  logger.WithComponent(log.ComponentHTTP),
		limiter: newRateLimiter(opts.RateLimitPerMinute),
		replays: cache.NewLRUCache[*replay](idempotencyEntries, ttl),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/envelope", s.handleListEnvelopes)
	mux.HandleFunc("POST /api/envelope", s.handleCreateEnvelope)
	mux.HandleFunc("GET /api/envelope/{id}", s.handleGetEnvelope)
	mux.HandleFunc("PUT /api/envelope/{id}", s.handleUpdateEnvelope)
	mux.HandleFunc("DELETE /api/envelope/{id}", s.handleDeleteEnvelope)

	mux.HandleFunc("GET /api/envelope/{id}/transaction", s.handleListTransactions)
	mux.HandleFunc("POST /api/envelope/{id}/transaction", s.handleCreateTransaction)
	mux.HandleFunc("DELETE /api/envelope/{id}/transaction", s.handleDeleteAllTransactions)
	mux.HandleFunc("GET /api/envelope/{id}/transaction/{tid}", s.handleGetTransaction)
	mux.HandleFunc("PUT /api/envelope/{id}/transaction/{tid}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/envelope/{id}/transaction/{tid}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/transfer", s.handleListTransfers)
	mux.HandleFunc("POST /api/transfer", s.handleCreateTransfer)
	mux.HandleFunc("GET /api/transfer/{id}", s.handleGetTransfer)
	mux.HandleFunc("DELETE /api/transfer/{id}", s.handleDeleteTransfer)

	var handler http.Handler = mux
	handler = s.withIdempotency(handler)
	handler = s.withRateLimit(handler)
	handler = s.withSecurityHeaders(handler)
	handler = log.Middleware(s.logger, requestIDFrom, extractClientIP)(handler)
	handler = withRequestID(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Cleaners returns the server's expiring state for periodic sweeping.
func (s *Server) Cleaners() []cache.Cleaner {
	return []cache.Cleaner{s.replays, s.limiter}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// fail writes the error response for err. Unexpected errors are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorResponse(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op,
			log.FieldError, err.Error())
	} else {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldErrorCode, core.CodeOf(err),
			log.FieldError, err.Error())
	}
	resp.Write(w)
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
