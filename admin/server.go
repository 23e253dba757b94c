// Package admin provides the HTTP API used by operators and the order
// workflow to drive guaranteed transactions.
package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"gar"
	"gar/circuit"
	"gar/notify"
	"gar/sweeper"
)

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// defaultLogger is the default logger implementation.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Admin] "+format, v...)
}

// Server serves the admin API.
type Server struct {
	addr       string
	engine     *gar.Engine
	sweeper    *sweeper.Worker
	dispatcher *notify.Dispatcher
	breaker    circuit.Breaker
	eventStore *EventStore
	extra      map[string]http.Handler
	logger     Logger
	mux        *http.ServeMux
	server     *http.Server

	api *APIHandler

	// State
	mu      sync.Mutex
	running bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the server address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithEngine sets the engine behind the API.
func WithEngine(e *gar.Engine) ServerOption {
	return func(s *Server) {
		s.engine = e
	}
}

// WithSweeper exposes manual sweeps and sweep statistics.
func WithSweeper(w *sweeper.Worker) ServerOption {
	return func(s *Server) {
		s.sweeper = w
	}
}

// WithDispatcher exposes the notification retry endpoint.
func WithDispatcher(d *notify.Dispatcher) ServerOption {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithBreaker exposes circuit breaker state and reset.
func WithBreaker(b circuit.Breaker) ServerOption {
	return func(s *Server) {
		s.breaker = b
	}
}

// WithEventStore exposes the event log.
func WithEventStore(es *EventStore) ServerOption {
	return func(s *Server) {
		s.eventStore = es
	}
}

// WithHandler mounts an extra handler, such as a metrics endpoint.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		if s.extra == nil {
			s.extra = make(map[string]http.Handler)
		}
		s.extra[pattern] = h
	}
}

// WithLogger sets the logger for the server.
func WithLogger(l Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates an admin server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:   ":8080",
		logger: &defaultLogger{},
		mux:    http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.api = &APIHandler{
		engine:     s.engine,
		sweeper:    s.sweeper,
		dispatcher: s.dispatcher,
		breaker:    s.breaker,
		events:     s.eventStore,
		logger:     s.logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.api.HandleHealth)

	// Transactions
	s.mux.HandleFunc("GET /api/transactions", s.api.HandleListTransactions)
	s.mux.HandleFunc("POST /api/transactions", s.api.HandleCreateTransaction)
	s.mux.HandleFunc("GET /api/transactions/{ref}", s.api.HandleGetTransaction)
	s.mux.HandleFunc("POST /api/transactions/{ref}/advance", s.api.HandleAdvance)
	s.mux.HandleFunc("GET /api/users/{userID}/transactions", s.api.HandleListUserTransactions)

	// Disputes
	s.mux.HandleFunc("POST /api/transactions/{ref}/dispute", s.api.HandleOpenDispute)
	s.mux.HandleFunc("POST /api/transactions/{ref}/dispute/resolve", s.api.HandleResolveDispute)

	// Background work
	s.mux.HandleFunc("POST /api/sweep", s.api.HandleSweep)
	s.mux.HandleFunc("GET /api/sweep/stats", s.api.HandleSweepStats)
	s.mux.HandleFunc("POST /api/notifications/retry", s.api.HandleRetryNotifications)

	// Circuit breakers
	s.mux.HandleFunc("GET /api/circuit-breakers/{service}", s.api.HandleGetCircuitBreaker)
	s.mux.HandleFunc("POST /api/circuit-breakers/{service}/reset", s.api.HandleResetCircuitBreaker)

	// Events
	s.mux.HandleFunc("GET /api/events", s.api.HandleListEvents)

	for pattern, h := range s.extra {
		s.mux.Handle(pattern, h)
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Printf("listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
