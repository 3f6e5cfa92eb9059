// parley - persuasion dialogue orchestrator server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/parley/internal/api"
	"github.com/ashureev/parley/internal/config"
	"github.com/ashureev/parley/internal/dialog"
	"github.com/ashureev/parley/internal/generation"
	"github.com/ashureev/parley/internal/health"
	"github.com/ashureev/parley/internal/identity"
	"github.com/ashureev/parley/internal/metrics"
	"github.com/ashureev/parley/internal/middleware"
	"github.com/ashureev/parley/internal/nlu"
	"github.com/ashureev/parley/internal/prompt"
	"github.com/ashureev/parley/internal/quiz"
	"github.com/ashureev/parley/internal/sentiment"
	"github.com/ashureev/parley/internal/session"
	"github.com/ashureev/parley/internal/strategy"
	"github.com/ashureev/parley/internal/telemetry"
	"github.com/ashureev/parley/internal/turnlog"
	"github.com/ashureev/parley/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "session_store", cfg.Session.Store)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  "parley",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := newSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("session store health check: %w", err)
	}
	slog.Info("Session store connected", "type", cfg.Session.Store)

	if sw, ok := store.(session.Sweeper); ok && evictionPolicy(cfg).Enabled() {
		session.StartSweeper(ctx, sw, cfg.Session.SweepInterval, logger, m.AddEvicted)
	}

	turnLog, err := turnlog.New(turnlog.Config{
		Enabled:   cfg.TurnLog.Enabled,
		Dir:       cfg.TurnLog.Dir,
		File:      cfg.TurnLog.File,
		QueueSize: cfg.TurnLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("init turn log: %w", err)
	}
	defer func() {
		if closeErr := turnLog.Close(); closeErr != nil {
			slog.Error("Failed to close turn log", "error", closeErr)
		}
	}()

	svc, err := newDialogService(cfg, store, turnLog, m, logger)
	if err != nil {
		return err
	}

	limiter := api.NewRateLimiter(cfg.RateLimitPerMinute)
	defer limiter.Stop()

	handler := api.NewHandler(svc, api.Options{
		RateLimiter:   limiter,
		Metrics:       m,
		Logger:        logger,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(map[string]api.Pinger{"session_store": store}, 5*time.Second)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{corsOrigin(cfg)}, identity.SessionHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.RegisterRoutes(r)
	r.Handle("/*", web.SPAHandler())

	// Turn streams are long-lived, so there is no write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		hs := health.NewServer(map[string]health.Checker{"session_store": store}, logger)
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g.Go(func() error {
			slog.Info("gRPC health server listening", "addr", lis.Addr().String())
			return hs.Serve(lis)
		})
		g.Go(func() error {
			hs.Watch(gctx, 15*time.Second)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Stop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newSessionStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	opts := []session.StoreOption{
		session.WithLogger(logger),
		session.WithEviction(evictionPolicy(cfg)),
	}
	switch session.StoreType(cfg.Session.Store) {
	case session.StoreTypeRedis:
		redisOpts, err := redis.ParseURL(cfg.Session.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = append(opts, session.WithRedisClient(redis.NewClient(redisOpts)))
	case session.StoreTypeSQLite:
		opts = append(opts, session.WithSQLitePath(cfg.Session.DBPath))
	}
	store, err := session.NewStore(session.StoreType(cfg.Session.Store), opts...)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	return store, nil
}

func evictionPolicy(cfg *config.Config) session.EvictionPolicy {
	return session.EvictionPolicy{MaxEntries: cfg.Session.MaxEntries, IdleTTL: cfg.Session.IdleTTL}
}

func newDialogService(cfg *config.Config, store session.Store, turnLog turnlog.Logger, m *metrics.Metrics, logger *slog.Logger) (*dialog.Service, error) {
	templates, err := prompt.DefaultTemplates()
	if cfg.Dialog.TemplatesPath != "" {
		templates, err = prompt.LoadTemplates(cfg.Dialog.TemplatesPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}

	rule, err := strategy.ParseSuccessRule(cfg.Dialog.SuccessRule)
	if err != nil {
		return nil, err
	}

	var scorer sentiment.Scorer = sentiment.NewLexiconScorer()
	if cfg.Sentiment.URL != "" {
		scorer = sentiment.NewHTTPScorer(cfg.Sentiment.URL, cfg.Sentiment.Timeout)
	}

	var genOpts []generation.Option
	if cfg.Generation.User != "" {
		genOpts = append(genOpts, generation.WithBasicAuth(cfg.Generation.User, cfg.Generation.Password))
	}

	svc, err := dialog.NewService(dialog.Deps{
		Classifier:    nlu.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout, logger),
		Resolver:      strategy.NewSelector(quiz.NewEngine(), rule),
		Store:         store,
		Builder:       prompt.NewBuilder(templates, cfg.Dialog.BotName, cfg.Dialog.MaxPromptChars),
		Scorer:        scorer,
		Generator:     generation.NewClient(cfg.Generation.URL, cfg.Generation.Timeout, logger, genOpts...),
		TurnLog:       turnLog,
		Metrics:       m,
		Logger:        logger,
		StopOnNewline: cfg.Dialog.StopOnNewline,
	})
	if err != nil {
		return nil, fmt.Errorf("init dialog service: %w", err)
	}
	return svc, nil
}

func corsOrigin(cfg *config.Config) string {
	if cfg.FrontendURL == "" {
		return "*"
	}
	return cfg.FrontendURL
}
