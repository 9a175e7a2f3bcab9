package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formflow/internal/api"
	"formflow/internal/auth"
	"formflow/internal/config"
	"formflow/internal/db"
	"formflow/internal/db/sqlite"
	"formflow/internal/jobs"
	"formflow/internal/logging"
	"formflow/internal/memstore"
	"formflow/internal/metrics"
	"formflow/internal/pubsub"
	"formflow/internal/schema"
	"formflow/internal/service"
	"formflow/internal/sessionstore"
	"formflow/internal/storage"
	"formflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional; without it events stay in-process and sessions in memory
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	bus := pubsub.New(rdb, logger)
	hub := ws.NewHub(logger)
	if streams := bus.GetStreams(); streams != nil {
		hub.SetStreamsProvider(streams)
	}
	go hub.Run()
	bus.SetWSHub(hub)

	var sessionStore service.SessionStore = memstore.NewSessions()
	if rdb != nil {
		sessionStore = sessionstore.NewRedisStore(rdb, cfg.Session.TTL)
	}

	schemaComp := schema.NewCompilerWithCache(64)
	formSvc := service.NewFormService(store, bus, schemaComp, logger)
	sessionSvc := service.NewSessionService(store, sessionStore, store, schemaComp, bus, logger)
	sessionSvc.SetTTL(cfg.Session.TTL)
	workspaceSvc := service.NewWorkspaceService(store)

	// Background jobs
	if rdb != nil {
		jobServer, jobClient := jobs.NewJobServer(cfg.Redis.Addr, logger)
		jobServer.SetSessionExpirer(sessionSvc)
		sessionSvc.SetJobClient(service.NewAsynqJobClient(jobClient))
		go func() {
			if err := jobServer.Start(); err != nil {
				logger.Error("Job server failed", zap.Error(err))
			}
		}()
		defer jobServer.Stop()
	}

	hub.SetCommandHandler(ws.NewCommandHandler(formSvc, sessionSvc, logger))
	hub.SetAuthorizer(ws.FormChannelAuthorizer{Forms: formSvc})

	jwtConfig := auth.NewJWTConfig(cfg.Auth.JWTSecret, cfg.Auth.AllowDevHeaders)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
	}

	media, err := storage.NewLocalStorage(cfg.Storage.BaseDir, cfg.Storage.BaseURL, jwtConfig.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	var policy *storage.FilePolicy
	if cfg.Storage.MaxVideoMB > 0 {
		policy = storage.VideoPolicy(float64(cfg.Storage.MaxVideoMB))
	}

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades and media transfers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" || strings.HasPrefix(req.URL.Path, "/v1/media/files/") {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(60 * time.Second)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/v1", api.Routes(api.Dependencies{
		Forms:      formSvc,
		Sessions:   sessionSvc,
		Workspaces: workspaceSvc,
		Storage:    media,
		Policy:     policy,
		Hub:        hub,
		Auth:       jwtConfig,
		Log:        logger,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("Starting server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", rdb != nil),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

// openStore connects the configured relational backend
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pool, pool.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Opened SQLite store", zap.String("path", cfg.Store.SQLitePath))
		return s, func() { s.Close() }, nil
	default:
		logger.Warn("Using the in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
}
