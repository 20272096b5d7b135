// Package main запускает HTTP-сервер консоли сотрудников торговых точек.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/outlet-console/internal/authority"
	"github.com/mmeshcher/outlet-console/internal/config"
	"github.com/mmeshcher/outlet-console/internal/handler"
	"github.com/mmeshcher/outlet-console/internal/journal"
	"github.com/mmeshcher/outlet-console/internal/metrics"
	"github.com/mmeshcher/outlet-console/internal/middleware"
	"github.com/mmeshcher/outlet-console/internal/service"
)

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = lvl

	return cfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	consoleMetrics := metrics.New(registry)

	opts := service.Options{
		PageSize:    cfg.PageSize,
		IdleTimeout: middleware.SessionTTL,
		Location:    cfg.Location(),
		Logger:      logger,
		Metrics:     consoleMetrics,
	}

	var journalQueue *journal.Queue
	if cfg.DatabaseURI != "" {
		j, err := journal.New(ctx, cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer j.Close()

		journalQueue = journal.NewQueue(j, journal.DefaultQueueSize, logger)
		opts.Journal = journalQueue
	} else {
		sugar.Info("DATABASE_URI is not set, transition journal is disabled")
	}

	client := authority.NewClient(cfg.AuthorityAddress, cfg.RequestTimeout)
	manager := service.NewManager(client, opts)
	defer manager.CloseAll()

	authMiddleware, err := middleware.NewAuthMiddleware(cfg.SessionSecret)
	if err != nil {
		sugar.Fatalw("auth initialization error", "error", err.Error())
	}
	h := handler.NewHandler(manager, logger, authMiddleware, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if journalQueue != nil {
		g.Go(func() error {
			journalQueue.Run(ctx)
			return nil
		})
	}

	// Фоновое обновление прав сотрудников
	g.Go(func() error {
		manager.StartSessionRefresh(ctx, cfg.SessionRefreshInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting console server", "addr", cfg.RunAddress, "authority", cfg.AuthorityAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
