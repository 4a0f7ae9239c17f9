// Package gateway provides the HTTP control surface for the co-host: the
// status page, the direct chat API, context inspection, the Twitch OAuth
// routes and the live WebSocket event feed.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/jholhewres/cohost/pkg/cohost/auth"
	"github.com/jholhewres/cohost/pkg/cohost/bot"
	"github.com/jholhewres/cohost/pkg/cohost/config"
	"github.com/jholhewres/cohost/pkg/cohost/dialogue"
	"github.com/jholhewres/cohost/pkg/cohost/history"
	"github.com/jholhewres/cohost/pkg/cohost/llm"
	"github.com/jholhewres/cohost/pkg/cohost/scheduler"
)

// Model is the model client surface the gateway reports on.
type Model interface {
	IsAvailable(ctx context.Context) bool
	Stats() llm.Stats
	ClearCache()
}

// Deps are the components behind the routes. Auth, History and Jobs are
// optional.
type Deps struct {
	Bot      *bot.Controller
	Dialogue *dialogue.Manager
	Model    Model
	Auth     *auth.Flow
	History  *history.Store
	Jobs     *scheduler.Scheduler
	Hub      *Hub
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	deps      Deps
	config    config.ServerConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Gateway.
func New(deps Deps, cfg config.ServerConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}
	return &Gateway{
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler builds the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(g.securityHeadersMiddleware)
	if len(g.config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: g.config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         86400,
		}))
	}

	// Public routes.
	r.Get("/", g.handleHome)
	r.Get("/health", g.handleHealth)
	r.Get("/auth/login", g.handleAuthLogin)
	r.Get("/auth/callback", g.handleAuthCallback)
	r.Get("/auth/refresh", g.handleAuthRefresh)
	r.Get("/ws", g.deps.Hub.ServeWS)

	// JSON API, behind the bearer token when one is configured.
	r.Group(func(r chi.Router) {
		r.Use(g.authMiddleware)
		r.Post("/chat", g.handleChat)
		r.Get("/context", g.handleGetContext)
		r.Delete("/context", g.handleDeleteContext)
		r.Get("/status", g.handleStatus)
		r.Get("/history", g.handleHistory)
		r.Get("/jobs", g.handleListJobs)
		r.Post("/jobs/{id}/run", g.handleRunJob)
	})
	return r
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	addr := g.config.Address()
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Warn when the gateway has no auth token and is bound to a non-loopback address.
	if g.config.AuthToken == "" {
		host := g.config.Host
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address; anyone on the network can use the chat API",
				"address", addr)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", addr)
	return nil
}

// Stop gracefully shuts down the HTTP server and drops WebSocket clients.
func (g *Gateway) Stop(ctx context.Context) error {
	g.deps.Hub.Close()
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}
