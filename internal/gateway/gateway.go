// ABOUTME: Gateway orchestrator that wires the chat service, live connections and servers
// ABOUTME: Owns construction, the run loop and ordered shutdown of every component

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/coven-chat/internal/activity"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// Gateway owns every long-lived component of the chat server
type Gateway struct {
	config   *config.Config
	store    store.Store
	chat     *conversation.Service
	rooms    *Registry
	hub      *Hub
	verifier auth.TokenVerifier
	activity *activity.Dispatcher
	dedupe   *dedupe.Cache[*conversation.Message]
	upgrader websocket.Upgrader

	httpServer  *http.Server
	grpcServer  *grpc.Server   // nil unless a gRPC address is configured
	health      *health.Server // nil with grpcServer
	tsnetServer *tsnet.Server
	stopHealth  context.CancelFunc

	logger *slog.Logger
}

// initStore opens the SQLite store named by the config
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway that owns a store opened from cfg
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway over an existing store. The gateway closes
// the store on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	dispatcher := activity.NewDispatcher(s, cfg.Activity.QueueSize, cfg.Activity.Timeout, logger)
	dedupeCache := dedupe.New[*conversation.Message](cfg.Chat.DedupeTTL, cfg.Chat.DedupeMaxEntries)

	chat := conversation.New(s, logger,
		conversation.WithPageSizes(cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize),
		conversation.WithActivity(dispatcher),
		conversation.WithDedupe(dedupeCache),
	)

	rooms := NewRegistry(logger)
	hub := NewHub(rooms, logger)
	chat.SetNotifier(hub)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		chat:     chat,
		rooms:    rooms,
		hub:      hub,
		verifier: verifier,
		activity: dispatcher,
		dedupe:   dedupeCache,
		upgrader: newUpgrader(cfg.Gateway.AllowedOrigins),
		logger:   logger.With("component", "gateway"),
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer, gw.health = newGRPCServer()
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Handler returns the HTTP handler serving health, REST and live endpoints
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Live endpoint authenticates before upgrading
	mux.HandleFunc("GET /ws", g.handleWebSocket)

	g.registerAPIRoutes(mux)
	return mux
}

// Service returns the conversation service
func (g *Gateway) Service() *conversation.Service {
	return g.chat
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ls, err := g.listen(ctx)
	if err != nil {
		return err
	}

	if g.health != nil {
		g.refreshHealth(ctx)
		healthCtx, cancel := context.WithCancel(context.Background())
		g.stopHealth = cancel
		go g.watchHealth(healthCtx, 10*time.Second)
	}

	errCh := g.serve(ls)
	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-errCh:
		g.logger.Error("server error", "error", serveErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// gracefulShutdown bounds Shutdown to 5s on a fresh context
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting work, closes live connections, drains the
// activity queue and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if g.stopHealth != nil {
		g.stopHealth()
	}

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// hijacked websockets are not tracked by the HTTP server
	g.rooms.Close()

	g.stopGRPC(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	errs = appendCloseError(errs, "activity drain", g.activity.Close(ctx))
	g.logger.Debug("closing dedupe cache", "entries", g.dedupe.Len())
	g.dedupe.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live connections)", g.rooms.Count())
}
