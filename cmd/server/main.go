package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelodikeme/coop-nest-approvals/internal/client"
	"github.com/michaelodikeme/coop-nest-approvals/internal/config"
	"github.com/michaelodikeme/coop-nest-approvals/internal/database"
	"github.com/michaelodikeme/coop-nest-approvals/internal/handler"
	"github.com/michaelodikeme/coop-nest-approvals/internal/logger"
	"github.com/michaelodikeme/coop-nest-approvals/internal/middleware"
	"github.com/michaelodikeme/coop-nest-approvals/internal/natsconn"
	"github.com/michaelodikeme/coop-nest-approvals/internal/repository"
	"github.com/michaelodikeme/coop-nest-approvals/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("version", cfg.Service.Version).
		Msg("starting approval workflow service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Str("host", cfg.Database.Host).Msg("connected to database")

	var nc *natsconn.Client
	if cfg.NATS.Enabled {
		nc, err = natsconn.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
	} else {
		log.Warn().Msg("NATS disabled, notifications will not be published")
	}

	requests := repository.NewRequestRepository(db)
	savings := repository.NewSavingsRepository(db)
	members := repository.NewMemberRepository(db)
	auditLog := repository.NewAuditRepository(db)
	users := repository.NewUserRepository(db)

	notifier := client.NewNotificationPublisher(nc, log.Logger)
	workflows := service.NewWorkflowService(
		requests,
		users,
		members,
		savings,
		notifier,
		auditLog,
		service.NewHandlerRegistry(),
		log,
	)

	h := handler.NewHTTPHandler(workflows, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/requests", h.CreateRequest)
	mux.HandleFunc("GET /api/v1/requests", h.ListRequests)
	mux.HandleFunc("GET /api/v1/requests/get", h.GetRequest)
	mux.HandleFunc("GET /api/v1/requests/mine", h.ListMyRequests)
	mux.HandleFunc("POST /api/v1/requests/advance", h.AdvanceRequest)
	mux.HandleFunc("POST /api/v1/requests/cancel", h.CancelRequest)
	mux.HandleFunc("GET /api/v1/requests/pending-count", h.PendingCount)
	mux.HandleFunc("GET /api/v1/requests/statistics", h.Statistics)
	mux.HandleFunc("GET /api/v1/requests/audit", h.AuditTrail)
	mux.HandleFunc("GET /api/v1/plans/statement", h.PlanStatement)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.WriteTimeout)(root)
	root = middleware.CORS(nil)(root)
	root = middleware.Logger(&log.Logger)(root)
	root = middleware.Recovery(&log.Logger)(root)
	root = middleware.RequestID(root)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
