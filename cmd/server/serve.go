package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/api"
	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/auth"
	"signalflow/backend/internal/cache"
	"signalflow/backend/internal/config"
	"signalflow/backend/internal/consumer"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/mcp"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/internal/services"
	"signalflow/backend/internal/tls"
	"signalflow/backend/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, MCP and signal consumer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app is the wired service graph plus everything that needs closing.
type app struct {
	store    repository.Repository
	recorder *audit.Recorder
	signals  *services.SignalService
	server   *api.Server
	mcp      *mcp.Server
	checks   map[string]api.Check
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{checks: map[string]api.Check{}}

	var sink audit.Sink = &audit.LogSink{Logger: logger}
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using in-memory store; data is lost on restart")
		a.store = repository.NewMemoryStore()
	case "postgres":
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.store = repository.NewPostgresStore(pool)
		if cfg.Audit.Sink == "postgres" {
			sink = &audit.PostgresSink{DB: pool}
		}
		logger.Info("Database connected")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	a.checks["store"] = a.store.Ping

	a.recorder = audit.NewRecorder(sink, cfg.Audit.BufferSize, logger)

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	var engine workflow.Engine
	switch cfg.Workflow.Engine {
	case "http":
		engine = workflow.NewHTTPEngine(cfg.Workflow.URL, cfg.Workflow.Timeout, a.store)
	default:
		engine = workflow.NewLocalEngine(a.store)
	}

	responseCache, err := buildCache(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}
	provider, err := buildProviders(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}
	executor := ai.NewExecutor(provider, responseCache, a.store, ai.Options{
		AttemptTimeout: cfg.AI.AttemptTimeout,
		MaxAttempts:    cfg.AI.MaxAttempts,
		InitialBackoff: cfg.AI.InitialBackoff,
		MaxBackoff:     cfg.AI.MaxBackoff,
		CacheTTL:       cfg.Cache.TTL,
		RatePerSecond:  cfg.AI.RatePerSecond,
		Burst:          cfg.AI.Burst,
	}, m, logger.With("component", "ai"))

	sources := services.DefaultSources()
	routes := services.NewRouteService(a.store, engine, sources, a.recorder, logger)
	a.signals = services.NewSignalService(a.store, sources, routes, a.recorder, m, logger)
	lineage := services.NewLineageService(a.store, a.recorder, logger)
	gates := services.NewGateService(a.store, a.recorder, m, logger)

	a.server = &api.Server{
		Signals:   a.signals,
		Routes:    routes,
		Lineage:   lineage,
		Gates:     gates,
		Workflows: services.NewWorkflowService(a.store),
		AI:        executor,
		Auditor:   a.recorder,
		Logger:    logger,
	}
	a.mcp = mcp.NewServer(a.signals, lineage, gates, executor)
	logger.Info("Service layer initialized", "sources", sources.Sources(), "engine", cfg.Workflow.Engine)
	return a, nil
}

func buildCache(ctx context.Context, cfg *config.Config, logger *logging.Logger, a *app) (cache.Cache, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryCache(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	c := cache.NewCache(ctx, client, cfg.Redis.Prefix)
	if _, ok := c.(*cache.RedisCache); !ok {
		logger.Warn("Redis unreachable, AI response cache is process-local", "addr", cfg.Redis.Addr)
		return c, nil
	}
	a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return c, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, logger *logging.Logger, a *app) (ai.Provider, error) {
	router := ai.NewRouter()
	if cfg.AI.AnthropicAPIKey != "" {
		router.Handle("claude-", ai.NewAnthropicProvider(cfg.AI.AnthropicAPIKey, cfg.AI.MaxTokens))
	}
	if cfg.AI.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.AI.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		a.closers = append(a.closers, func() { _ = gemini.Close() })
		router.Handle("gemini-", gemini)
	}
	if cfg.AI.AnthropicAPIKey == "" && cfg.AI.GeminiAPIKey == "" {
		logger.Warn("No AI provider keys configured; /ai/execute will reject every model")
	}
	return router, nil
}

func newEcho(cfg *config.Config, logger *logging.Logger, a *app, authz *auth.Auth) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("signalflow"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				logger.Warn("request", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", args...)
			return nil
		},
	}))

	e.GET("/health", api.HandleHealth(a.checks))

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, a.server)
	logger.Info("REST API handlers mounted")

	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, a.mcp.GetMCPServer())
	e.Any("/mcp*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))
	return e
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting signalflow")

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	authz, err := auth.New(ctx, cfg, a.store, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client ID matches the backend client ID; PKCE login from /docs will fail for a confidential client")
	}

	e := newEcho(cfg, logger, a, authz)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("TLS enabled but cert/key file not provided")
		}
		generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		if generated {
			logger.Warn("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	var signalConsumer *consumer.Consumer
	if cfg.Kafka.Enabled {
		signalConsumer, err = consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, a.signals, logger.With("component", "consumer"))
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer signalConsumer.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if signalConsumer != nil {
		g.Go(func() error { return signalConsumer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			_ = server.Close()
		}
		if err := a.recorder.Close(shutdownCtx); err != nil {
			logger.Error("Audit drain incomplete", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
