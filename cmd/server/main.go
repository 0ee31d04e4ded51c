package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/prepbook/booking"
	"github.com/liamcoop/prepbook/internal/logger"
	"github.com/liamcoop/prepbook/rules"
	"github.com/liamcoop/prepbook/statemachine"
	"github.com/liamcoop/prepbook/store"
)

type Server struct {
	db          *sql.DB // nil when running on in-memory stores
	registry    *rules.Registry
	engine      *rules.Engine
	definitions rules.DefinitionStore
	catalog     *statemachine.Catalog
	executor    *statemachine.Executor
	entities    store.Store
	router      *chi.Mux

	// rulesMu serializes rule administration so registry and definition
	// store changes are applied and rolled back together.
	rulesMu sync.Mutex
}

// NewServer connects to the database when configured and builds the server
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, using in-memory stores")
		return NewServerWithStores(ctx, cfg, store.NewMemoryStore(), rules.NewInMemoryDefinitionStore(), nil)
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := NewServerWithStores(ctx, cfg, store.NewPostgresStore(db), rules.NewPostgresDefinitionStore(db), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithStores is the composition root: it builds the registry,
// registers default and stored rules, validates the dependency graph and
// wires the engine and executor.
func NewServerWithStores(ctx context.Context, cfg Config, entities store.Store, defs rules.DefinitionStore, db *sql.DB) (*Server, error) {
	registry := rules.NewRegistry()
	catalog := booking.Machines()

	if err := booking.RegisterDefaults(registry, catalog); err != nil {
		return nil, fmt.Errorf("failed to register default rules: %w", err)
	}

	loaded, err := rules.LoadDefinitions(ctx, defs, registry)
	if err != nil {
		return nil, err
	}

	if err := registry.Validate(); err != nil {
		if cfg.StrictRules {
			return nil, fmt.Errorf("rule registry is inconsistent: %w", err)
		}
		logger.Warn("rule registry is inconsistent", "error", err)
	}

	logger.Info("rules registered", "total", registry.Len(), "stored", loaded)

	s := &Server{
		db:          db,
		registry:    registry,
		engine:      rules.NewEngine(registry),
		definitions: defs,
		catalog:     catalog,
		executor:    statemachine.NewExecutor(catalog, entities).WithMaxRetries(cfg.TransitionRetries),
		entities:    entities,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Post("/api/v1/validate", s.handleValidate)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	r.Get("/api/v1/machines/{entity}/transitions", s.handleAllowedTransitions)

	r.Route("/api/v1/entities/{entity}", func(r chi.Router) {
		r.Get("/", s.handleListEntities)
		r.Post("/", s.handleCreateEntity)
		r.Get("/{id}", s.handleGetEntity)
		r.Put("/{id}", s.handleUpdateEntity)
		r.Delete("/{id}", s.handleDeleteEntity)
		r.Post("/{id}/transitions/{transition}", s.handleTransition)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the database connection, if any
func (s *Server) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	server, err := NewServer(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
}
