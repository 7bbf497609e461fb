package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/markdave123-py/Parley/internal/config"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/core/auth"
	"github.com/markdave123-py/Parley/internal/core/chat"
	db "github.com/markdave123-py/Parley/internal/core/database"
	"github.com/markdave123-py/Parley/internal/core/export"
	"github.com/markdave123-py/Parley/internal/core/llm"
	objectclient "github.com/markdave123-py/Parley/internal/core/object-client"
	"github.com/markdave123-py/Parley/internal/observability"
	"github.com/markdave123-py/Parley/internal/services"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	DBClient core.DbClient
	Provider core.CompletionProvider
	Exporter *export.Exporter
	Server   *Server

	logger      *slog.Logger
	stopWorkers context.CancelFunc
	stopTracing func(context.Context) error
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database initialized and ready", "path", cfg.DatabasePath)

	a := &App{DBClient: dbClient, logger: logger}

	provider, err := llm.NewProvider(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the completion provider: %w", err)
	}
	a.Provider = provider
	logger.Info("completion provider ready", "provider", provider.Name(), "model", cfg.PrimaryModel)

	tracer, stopTracing, err := observability.InitTracing(appCtx, cfg.AppName, cfg.OtelStdout)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize tracing: %w", err)
	}
	a.stopTracing = stopTracing

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	deps := Deps{
		Users:         services.NewUserService(dbClient, tokens),
		Conversations: services.NewConversationService(dbClient, cfg.PrimaryModel),
		Orchestrator: chat.NewOrchestrator(dbClient, provider, chat.Options{
			Budget:              chat.Budget{MaxMessages: cfg.ContextMaxMessages, MaxTokens: cfg.ContextMaxTokens},
			DefaultSystemPrompt: cfg.DefaultSystemPrompt,
			Metrics:             metrics,
			Tracer:              tracer,
			Logger:              logger,
		}),
		Metrics: metrics,
		Logger:  logger,
	}

	if cfg.ExportEnabled() {
		obj, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize object storage: %w", err)
		}
		exporter := export.NewExporter(dbClient, obj, cfg.BucketName, metrics, logger)
		workerCtx, stop := context.WithCancel(context.Background())
		exporter.Start(workerCtx, cfg.ExportWorkers)
		a.Exporter = exporter
		a.stopWorkers = stop
		deps.Exporter = exporter
		logger.Info("transcript export enabled", "bucket", cfg.BucketName, "workers", cfg.ExportWorkers)
	}

	a.Server = NewServer(cfg, NewRouter(cfg, deps), logger)
	return a, nil
}

// Run serves until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

func (a *App) Close() {
	if a.stopWorkers != nil {
		a.stopWorkers()
		a.Exporter.Wait()
	}
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown", "error", err)
		}
		cancel()
	}
	if c, ok := a.Provider.(io.Closer); ok {
		_ = c.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
