// Package http serves the group ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"grouply/internal/core"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/middleware/ratelimit"
	"grouply/internal/middleware/security"
	"grouply/internal/middleware/trace"
	"grouply/internal/services"
)

// Ledger is what the handlers need from the ledger service.
type Ledger interface {
	RecordExpense(ctx context.Context, d services.ExpenseDraft) (core.Expense, error)
	RecordPayment(ctx context.Context, d services.PaymentDraft) (core.Payment, error)
	GetBalances(ctx context.Context, groupID string) ([]services.BalanceView, error)
	GetSettlementViews(ctx context.Context, groupID string) ([]services.SettlementView, error)
	ListExpenses(ctx context.Context, groupID string) ([]services.ExpenseView, error)
	ListParticipants(ctx context.Context) ([]core.Participant, error)
	Ready(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger      Ledger
	logger      *log.Logger
	metrics     *metrics.Metrics
	rateLimiter *ratelimit.Limiter

	shutdownOnce sync.Once
	onShutdown   []func()
}

type Option func(*Server)

// WithMetrics exposes m on /metrics and records request counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit caps writes per client IP per minute. Zero disables it.
func WithRateLimit(rpm int) Option {
	return func(s *Server) {
		if rpm > 0 {
			s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: rpm})
		}
	}
}

// OnShutdown registers f to run once when the server shuts down.
func OnShutdown(f func()) Option {
	return func(s *Server) { s.onShutdown = append(s.onShutdown, f) }
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger Ledger, opts ...Option) *Server {
	s := &Server{
		ledger: ledger,
		logger: log.New(log.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	mux := http.NewServeMux()

	write := func(h http.HandlerFunc) http.Handler {
		if s.rateLimiter == nil {
			return h
		}
		return s.rateLimiter.Middleware(detector.ExtractClientIP, rateLimited)(h)
	}

	mux.HandleFunc("GET /api/users", s.handleListUsers)
	for _, prefix := range []string{"/api/groups/{id}", "/api/events/{id}"} {
		mux.HandleFunc("GET "+prefix+"/expenses", s.handleListExpenses)
		mux.HandleFunc("GET "+prefix+"/balances", s.handleBalances)
		mux.HandleFunc("GET "+prefix+"/settlements/suggested", s.handleSuggestedSettlements)
	}
	mux.Handle("POST /api/expenses", write(s.handleCreateExpense))
	mux.Handle("POST /api/payments", write(s.handleCreatePayment))

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = trace.NewMiddleware(detector.ExtractClientIP, s.logger, s.metrics).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background work and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		for _, f := range s.onShutdown {
			f()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ledger.Ready(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
}
