package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/rulebook/audit"
	"github.com/liamcoop/rulebook/internal/config"
	"github.com/liamcoop/rulebook/internal/logger"
	"github.com/liamcoop/rulebook/internal/telemetry"
	"github.com/liamcoop/rulebook/rules"
	"github.com/liamcoop/rulebook/worlds"
)

const defaultFiringsLimit = 50

type Server struct {
	db       *sql.DB // nil when running without PostgreSQL
	manager  *worlds.Manager
	registry *prometheus.Registry
	router   *chi.Mux
}

// NewServer wires the HTTP routes around an already loaded manager
func NewServer(manager *worlds.Manager, db *sql.DB, registry *prometheus.Registry) *Server {
	s := &Server{
		db:       db,
		manager:  manager,
		registry: registry,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/worlds", func(r chi.Router) {
		r.Get("/", s.handleListWorlds)

		r.Route("/{worldId}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteWorld)

			// Catalog management
			r.Get("/catalog", s.handleGetCatalog)
			r.Put("/catalog", s.handlePutCatalog)

			// Rulebooks
			r.Get("/rulebooks", s.handleListRulebooks)
			r.Get("/rulebooks/{rulebookId}/order", s.handleGetOrder)
			r.Post("/run", s.handleRun)

			// Rules
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Post("/rules/{ruleId}/enable", s.handleSetEnabled(true))
			r.Post("/rules/{ruleId}/disable", s.handleSetEnabled(false))

			r.Get("/firings", s.handleListFirings)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		WorldsLoaded:  len(s.manager.ListWorlds()),
		TotalWarnings: logger.TotalWarnings.Load(),
		TotalErrors:   logger.TotalErrors.Load(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// List worlds handler
func (s *Server) handleListWorlds(w http.ResponseWriter, r *http.Request) {
	resp := WorldsListResponse{Worlds: []WorldResponse{}}
	for _, id := range s.manager.ListWorlds() {
		world, err := s.manager.World(id)
		if err != nil {
			// Deleted since the list was taken
			continue
		}
		resp.Worlds = append(resp.Worlds, WorldResponse{
			ID:        world.ID,
			Version:   world.Version,
			Rulebooks: len(world.Scheduler.Rulebooks()),
			Rules:     len(world.Catalog.Rules),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

// Delete world handler
func (s *Server) handleDeleteWorld(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")

	if err := s.manager.DeleteWorld(r.Context(), worldID); err != nil {
		respondWorldError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Get catalog handler. ?format=yaml returns the catalog as authored YAML.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := world.Catalog.YAML()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode catalog", err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	respondJSON(w, http.StatusOK, CatalogResponse{
		WorldID:    world.ID,
		Version:    world.Version,
		Definition: world.Catalog,
	})
}

// Put catalog handler. The body is a catalog in YAML or JSON; unknown
// worlds are created.
func (s *Server) handlePutCatalog(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	catalog, err := worlds.ParseCatalog(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid catalog", err)
		return
	}

	// Swap is atomic: the running world is untouched on failure
	world, err := s.manager.ReloadWorld(r.Context(), worldID, catalog)
	if err != nil {
		if errors.Is(err, worlds.ErrInvalidCatalog) || errors.Is(err, rules.ErrCyclicOrdering) {
			respondError(w, http.StatusBadRequest, "invalid catalog", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load catalog", err)
		return
	}

	respondJSON(w, http.StatusOK, CatalogResponse{
		WorldID:    world.ID,
		Version:    world.Version,
		Definition: world.Catalog,
	})
}

// List rulebooks handler. A rulebook whose order can't be resolved is
// listed with the error instead of failing the whole response.
func (s *Server) handleListRulebooks(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}

	resp := RulebooksListResponse{Rulebooks: []RulebookResponse{}}
	for _, rb := range world.Scheduler.Rulebooks() {
		entry := RulebookResponse{ID: rb.ID(), Priority: rb.Priority(), Order: []SlotResponse{}}
		order, err := world.Scheduler.Order(rb.ID())
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Order = toSlots(order)
		}
		resp.Rulebooks = append(resp.Rulebooks, entry)
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get rulebook order handler
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}
	rulebookID := chi.URLParam(r, "rulebookId")

	order, err := world.Scheduler.Order(rulebookID)
	if err != nil {
		respondRulesError(w, err)
		return
	}

	rb, err := world.Scheduler.Rulebook(rulebookID)
	if err != nil {
		respondRulesError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RulebookResponse{
		ID:       rb.ID(),
		Priority: rb.Priority(),
		Order:    toSlots(order),
	})
}

// Run handler. With dispatch set, replacements are followed until the
// chain settles.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Action == "" {
		respondError(w, http.StatusBadRequest, "action is required", nil)
		return
	}

	action := rules.NewAction(rules.ActionKind(req.Action))
	if req.Parent != "" {
		action = rules.NewAction(rules.ActionKind(req.Parent)).Child(action.Kind)
	}
	action.Args = req.Args
	src, dst := rules.ObjectID(req.Src), rules.ObjectID(req.Dst)

	if !req.Dispatch {
		res, err := world.Scheduler.Run(r.Context(), req.Rulebook, action, src, dst)
		if err != nil {
			respondRulesError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, RunResponse{
			Action:  action.String(),
			Verdict: res.Verdict.String(),
			Steps:   []StepResponse{toStep(action, res)},
		})
		return
	}

	out, err := world.Scheduler.Dispatch(r.Context(), req.Rulebook, action, src, dst)
	if err != nil && !errors.Is(err, rules.ErrReplacementLimit) {
		respondRulesError(w, err)
		return
	}

	resp := RunResponse{Action: out.Action.String(), Steps: make([]StepResponse, 0, len(out.Steps))}
	current := action
	for _, step := range out.Steps {
		resp.Steps = append(resp.Steps, toStep(current, step))
		if step.Replacement != nil {
			current = step.Replacement
		}
	}
	if out.Final != nil {
		resp.Verdict = out.Final.Verdict.String()
	}

	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}
	ruleID := chi.URLParam(r, "ruleId")

	member, found := world.Scheduler.Rule(ruleID)
	if !found {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}

	resp := RuleResponse{
		ID:        member.Handle(),
		Priority:  member.Priority(),
		Enabled:   member.Enabled(),
		Rulebooks: append([]string{}, world.Scheduler.MembershipOf(ruleID)...),
	}
	if trig, isTrigger := member.(*rules.Trigger); isTrigger {
		f := trig.Filter()
		resp.Filter = &FilterResponse{Action: string(f.Action), Src: string(f.Src), Dst: string(f.Dst)}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Enable/disable rule handler. The change lives until the world is reloaded.
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		world, ok := s.world(w, r)
		if !ok {
			return
		}
		ruleID := chi.URLParam(r, "ruleId")

		if !world.Scheduler.SetEnabled(ruleID, enabled) {
			respondError(w, http.StatusNotFound, "rule not found", nil)
			return
		}

		logger.Info("rule toggled", "world", world.ID, "rule", ruleID, "enabled", enabled)
		respondJSON(w, http.StatusOK, map[string]any{
			"id":      ruleID,
			"enabled": enabled,
		})
	}
}

// List firings handler
func (s *Server) handleListFirings(w http.ResponseWriter, r *http.Request) {
	world, ok := s.world(w, r)
	if !ok {
		return
	}

	limit := defaultFiringsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	var (
		records []rules.FiringRecord
		err     error
	)
	if ruleID := r.URL.Query().Get("rule"); ruleID != "" {
		records, err = world.Log.ForRule(r.Context(), ruleID)
	} else {
		records, err = world.Log.Last(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list firings", err)
		return
	}

	resp := FiringsListResponse{Firings: make([]FiringResponse, 0, len(records))}
	for _, rec := range records {
		resp.Firings = append(resp.Firings, toFiring(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

// world resolves the {worldId} URL parameter, responding 404 when it isn't loaded
func (s *Server) world(w http.ResponseWriter, r *http.Request) (*worlds.World, bool) {
	world, err := s.manager.World(chi.URLParam(r, "worldId"))
	if err != nil {
		respondWorldError(w, err)
		return nil, false
	}
	return world, true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func respondWorldError(w http.ResponseWriter, err error) {
	if errors.Is(err, worlds.ErrWorldNotFound) {
		respondError(w, http.StatusNotFound, "world not found", err)
		return
	}
	respondError(w, http.StatusInternalServerError, "world lookup failed", err)
}

func respondRulesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrUnknownRulebook):
		respondError(w, http.StatusNotFound, "rulebook not found", err)
	case errors.Is(err, rules.ErrCyclicOrdering):
		respondError(w, http.StatusConflict, "rulebook order cannot be resolved", err)
	default:
		respondError(w, http.StatusInternalServerError, "run failed", err)
	}
}

// builtinEffects are the named effects every catalog served by rulesd can use
func builtinEffects() (*worlds.EffectRegistry, error) {
	effects := worlds.NewEffectRegistry()
	err := effects.Register("log", func(ctx *rules.Context) (rules.Outcome, error) {
		logger.Info("rule effect",
			"rulebook", ctx.RulebookID,
			"action", ctx.Action.String(),
			"src", ctx.Src,
			"dst", ctx.Dst,
			"nested", ctx.Nested,
		)
		return rules.Continue(), nil
	})
	if err != nil {
		return nil, err
	}
	return effects, nil
}

// clockFactory maps CLOCK to the manager's world clock factory
func clockFactory(kind string) func(start int64) rules.Clock {
	if kind == "wall" {
		return func(start int64) rules.Clock { return rules.NewWallClock(start) }
	}
	return func(start int64) rules.Clock { return rules.NewLogicalClock(start) }
}

func run(ctx context.Context, cfg config.Config) error {
	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, cfg.OTelServiceName)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := rules.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	effects, err := builtinEffects()
	if err != nil {
		return err
	}

	opts := []worlds.ManagerOption{
		worlds.WithEffects(effects),
		worlds.WithClocks(clockFactory(cfg.Clock)),
		worlds.WithSchedulerOptions(
			rules.WithDiagnostics(logger.Sampled{}),
			rules.WithMetrics(metrics),
			rules.WithTracerProvider(tp),
			rules.WithMaxReplacements(cfg.MaxReplacements),
		),
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		opts = append(opts,
			worlds.WithCatalogStore(worlds.NewPostgresCatalogStore(db)),
			worlds.WithAuditLogs(func(worldID string) audit.Log {
				return audit.NewPostgresLog(db, worldID)
			}),
		)
	} else {
		logger.Warn("DATABASE_URL not set, catalogs and firings are kept in memory")
		opts = append(opts, worlds.WithAuditLogs(func(string) audit.Log {
			return audit.NewInMemoryLog(cfg.AuditCapacity)
		}))
	}

	manager := worlds.NewManager(opts...)

	logger.Info("loading worlds")
	if _, err := manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load worlds: %w", err)
	}

	if cfg.CatalogPath != "" {
		catalog, err := worlds.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if _, err := manager.ReloadWorld(ctx, cfg.WorldID, catalog); err != nil {
			return fmt.Errorf("failed to load catalog %s: %w", cfg.CatalogPath, err)
		}
	}
	logger.Info("worlds ready", "worlds", manager.ListWorlds())

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      NewServer(manager, db, registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("invalid LOG_LEVEL", "error", err)
	}
	logger.Setup(level, cfg.LogFormat)
	logger.SetSampleRate(cfg.ErrorSampleRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("rulesd failed", "error", err)
	}
}
