package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/susu3304/anonchat/internal/consensus"
	"github.com/susu3304/anonchat/internal/db"
	"github.com/susu3304/anonchat/internal/session"
)

// Orders is the marketplace order store backing accept and session creation.
type Orders interface {
	CreateOrder(ctx context.Context, clientID, description, price string) (*db.Order, error)
	GetOrder(ctx context.Context, id int64) (*db.Order, error)
	AcceptOrder(ctx context.Context, id int64, executorID string) (*db.Order, error)
	ReleaseOrder(ctx context.Context, id int64) error
}

// SessionIndex is the read side of the per-user session index.
type SessionIndex interface {
	Current(ctx context.Context, userID string) (string, error)
	ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type API struct {
	router    *mux.Router
	engine    *consensus.Engine
	index     SessionIndex
	orders    Orders
	checks    map[string]HealthCheck
	jwtSecret []byte
	bind      string
	server    *http.Server
	log       *zap.Logger
}

func New(bind, jwtSecret string, engine *consensus.Engine, index SessionIndex, orders Orders, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	api := &API{
		router:    mux.NewRouter(),
		engine:    engine,
		index:     index,
		orders:    orders,
		checks:    make(map[string]HealthCheck),
		jwtSecret: []byte(jwtSecret),
		bind:      bind,
		log:       log,
	}

	api.setupRoutes()
	return api
}

// AddHealthCheck registers a dependency probe for /healthz.
func (a *API) AddHealthCheck(name string, check HealthCheck) {
	a.checks[name] = check
}

func (a *API) setupRoutes() {
	// Public endpoints
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/orders", a.handleCreateOrder).Methods("POST")
	protected.HandleFunc("/orders/{order_id}", a.handleGetOrder).Methods("GET")
	protected.HandleFunc("/orders/{order_id}/accept", a.handleAcceptOrder).Methods("POST")
	protected.HandleFunc("/sessions", a.handleCreateSession).Methods("POST")

	protected.HandleFunc("/chat/message", a.handleSendMessage).Methods("POST")
	protected.HandleFunc("/chat/close", a.handleCloseChat).Methods("POST")
	protected.HandleFunc("/chat/approve-close", a.handleApproveClose).Methods("POST")
	protected.HandleFunc("/chat/switch", a.handleSwitch).Methods("POST")
	protected.HandleFunc("/chat/sessions/{user_id}", a.handleListSessions).Methods("GET")
	protected.HandleFunc("/chat/current-session/{user_id}", a.handleCurrentSession).Methods("GET")
}

// Handler returns the router wrapped with CORS handling.
func (a *API) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.bind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Info("API server listening", zap.String("addr", "http://"+a.bind))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
