// Package http exposes groups, their records and settlement plans as a JSON
// API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"payup/internal/core"
	"payup/internal/log"
	"payup/internal/middleware/ratelimit"
	"payup/internal/middleware/security"
)

// Groups is the part of services.GroupService the handlers use.
type Groups interface {
	CreateGroup(ctx context.Context, name string, policy core.SplitPolicy, creator core.ParticipantID) (core.Group, error)
	GetGroup(ctx context.Context, key string) (core.Group, error)
	JoinGroup(ctx context.Context, key string, member core.ParticipantID) (core.Group, error)
	AddExpense(ctx context.Context, key string, rec core.ExpenseRecord) (core.ExpenseRecord, error)
	RecordSettlement(ctx context.Context, key string, from, to core.ParticipantID, amount int64, note string) (core.ExpenseRecord, error)
	ListExpenses(ctx context.Context, key string) ([]core.ExpenseRecord, error)
	Balances(ctx context.Context, key string) (core.BalanceMap, error)
	Plan(ctx context.Context, key string) (core.Summary, error)
	LatestSnapshot(ctx context.Context, key string) (core.Summary, error)
}

type Options struct {
	CORSAllowedOrigins []string
	// RequestsPerMinute caps POST requests per client IP.
	RequestsPerMinute int
}

// Server wraps http.Server with the API routes and their middleware.
type Server struct {
	http.Server

	groups  Groups
	logger  *log.Logger
	router  *mux.Router
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// Call Shutdown to stop it and its background cleanup.
func NewServer(addr string, groups Groups, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		groups: groups,
		logger: logger,
		router: mux.NewRouter(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: opts.RequestsPerMinute,
		}),
	}
	s.setupRoutes()

	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", log.RequestIDHeader},
		ExposedHeaders:   []string{log.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
	})

	var handler http.Handler = s.router
	handler = s.limiter.Middleware(security.ClientIP, isWrite, s.handleRateLimited)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = log.Middleware(logger)(handler)
	handler = corsHandler.Handler(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{key}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{key}/members", s.handleJoinGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{key}/expenses", s.handleListExpenses).Methods(http.MethodGet)
	api.HandleFunc("/groups/{key}/expenses", s.handleAddExpense).Methods(http.MethodPost)
	api.HandleFunc("/groups/{key}/balances", s.handleBalances).Methods(http.MethodGet)
	api.HandleFunc("/groups/{key}/settlements", s.handlePlan).Methods(http.MethodGet)
	api.HandleFunc("/groups/{key}/settlements", s.handleRecordSettlement).Methods(http.MethodPost)
	api.HandleFunc("/groups/{key}/snapshot", s.handleSnapshot).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "not_found", "no such route")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// Shutdown stops the rate limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func isWrite(r *http.Request) bool {
	return r.Method == http.MethodPost
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, security.ClientIP(r))
	writeMessage(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
