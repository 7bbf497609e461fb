package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Parley/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Parley/internal/api/middlewares"
	"github.com/markdave123-py/Parley/internal/api/respond"
	"github.com/markdave123-py/Parley/internal/config"
	"github.com/markdave123-py/Parley/internal/core/chat"
	"github.com/markdave123-py/Parley/internal/observability"
	"github.com/markdave123-py/Parley/internal/services"
)

const requestTimeout = 60 * time.Second

// Deps are the collaborators the router hands to its handlers.
type Deps struct {
	Users         *services.UserService
	Conversations *services.ConversationService
	Orchestrator  *chat.Orchestrator
	Exporter      handlers.TranscriptExporter
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewRouter builds and wires all routes.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	authHandler := handlers.NewAuthHandler(d.Users)
	convHandler := handlers.NewConversationHandler(d.Conversations, d.Exporter)
	chatHandler := handlers.NewChatHandler(d.Conversations, d.Orchestrator, d.Logger)
	usageHandler := handlers.NewUsageHandler(d.Conversations, cfg.PrimaryModel, cfg.FallbackModel)

	standard := appMiddleware.NewRateLimiter(cfg.StandardRateLimit, cfg.RateLimitWindow, d.Metrics)
	generation := appMiddleware.NewRateLimiter(cfg.GenerationRateLimit, cfg.RateLimitWindow, d.Metrics)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(exposeRequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(d.Logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(appMiddleware.Recoverer(d.Logger))
	r.Use(appMiddleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{"type": "not_found", "message": "Route not found"},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "online"})
	})
	r.Handle("/metrics", d.Metrics.Handler())

	r.Route(cfg.APIPrefix, func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(middleware.Timeout(requestTimeout))
			public.Post("/auth/register", authHandler.Register)
			public.Post("/auth/login", authHandler.Login)
			public.Post("/auth/refresh", authHandler.Refresh)
			public.Post("/auth/logout", authHandler.Logout)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.Authenticate(d.Users))

			protected.Group(func(std chi.Router) {
				std.Use(middleware.Timeout(requestTimeout))
				std.Use(standard.Middleware(appMiddleware.ScopeStandard))

				std.Post("/auth/api-keys", authHandler.CreateAPIKey)
				std.Get("/models", usageHandler.Models)
				std.Get("/usage/stats", usageHandler.Stats)

				std.Post("/conversations", convHandler.Create)
				std.Get("/conversations", convHandler.List)
				std.Get("/conversations/{id}", convHandler.Get)
				std.Patch("/conversations/{id}", convHandler.Update)
				std.Delete("/conversations/{id}", convHandler.Delete)
				std.Post("/conversations/{id}/export", convHandler.Export)
				std.Get("/conversations/{id}/messages", chatHandler.ListMessages)
				std.Get("/conversations/{id}/events", chatHandler.Events)
			})

			protected.Group(func(gen chi.Router) {
				gen.Use(generation.Middleware(appMiddleware.ScopeGeneration))
				gen.With(middleware.Timeout(requestTimeout)).Post("/conversations/{id}/messages", chatHandler.CreateMessage)
				gen.Post("/conversations/{id}/messages/stream", chatHandler.StreamMessage)
			})
		})
	})

	return r
}

// exposeRequestID echoes the request id chi assigned back to the client.
func exposeRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func NewServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
