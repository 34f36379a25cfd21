package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"naskahcollab/config"
	"naskahcollab/config/database"
	"naskahcollab/internal/collab"
	"naskahcollab/internal/collab/manager"
	"naskahcollab/internal/collab/repository"
	"naskahcollab/pkg/logger"
	"naskahcollab/router"
	"naskahcollab/socket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("info")
		logger.Sugar.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo *repository.VersionRepository
	if dsn := cfg.DSN(); dsn != "" {
		var db *sql.DB
		db, err = database.Connect(ctx, dsn)
		if err != nil {
			logger.Sugar.Fatalf("%v. Check your internet or database status.", err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			logger.Sugar.Fatalf("Failed to migrate database: %v", err)
		}
		repo = repository.NewVersionRepository(db)
	} else {
		logger.Sugar.Warn("No database configured, version archive disabled")
	}

	var status collab.StatusSource
	opts := []socket.HubOption{}
	if repo != nil {
		opts = append(opts, socket.WithArchiver(repo))
	}
	if cfg.Transport == config.TransportRedis || cfg.Transport == config.TransportKafka {
		bus, err := collab.NewTransport(cfg)
		if err != nil {
			logger.Sugar.Fatalf("Failed to build %s bus: %v", cfg.Transport, err)
		}
		if err := bus.Connect(ctx); err != nil {
			logger.Sugar.Fatalf("Failed to connect %s bus: %v", cfg.Transport, err)
		}
		defer bus.Close()
		opts = append(opts, socket.WithBus(bus))
		logger.Sugar.Infof("Relaying through %s bus", cfg.Transport)

		// The replica tails the bus on its own connection and reports its
		// health at /api/collab/status.
		m, err := collab.NewManager(ctx, cfg, collab.NewRegistry(cfg), manager.WithOrigin(socket.RelayOrigin+"-replica"))
		if err != nil {
			logger.Sugar.Fatalf("Failed to build %s replica: %v", cfg.Transport, err)
		}
		defer m.Destroy()
		status = m
	}

	hub := socket.NewHub(opts...)
	go hub.Run(ctx)
	go hub.ArchiveWorker(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(hub, repo, status, cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Go Backend listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
}
