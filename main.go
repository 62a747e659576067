package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"twitter-social/config"
	"twitter-social/config/db"
	"twitter-social/controller"
	"twitter-social/feed"
	"twitter-social/graph"
	"twitter-social/store"
	"twitter-social/store/memory"
	"twitter-social/store/mongodb"
	"twitter-social/txn"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithError(err).Warn("Unknown LOG_LEVEL, using info")
	}

	var connector store.Connector
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory database; data is lost on exit")
		connector = memory.New()
	default:
		logger.WithField("database", cfg.MongoDatabase).Info("Connecting to MongoDB")
		connector = mongodb.Connector{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			ConnectTimeout: 10 * time.Second,
		}
	}

	pool, err := db.NewPool(context.Background(), connector, cfg.Pool, logger.WithField("component", "pool"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create connection pool")
	}
	defer pool.Close()

	if err := ensureIndexes(pool); err != nil {
		logger.WithError(err).Fatal("Failed to create indexes")
	}

	var feedOpts []feed.Option
	if cfg.SuggestionSeed != nil {
		feedOpts = append(feedOpts, feed.WithSeed(*cfg.SuggestionSeed))
	}

	coordinator := txn.NewCoordinator(logger.WithField("component", "txn"))
	graphService := graph.NewService(pool, coordinator, logger.WithField("component", "graph"))
	feedEngine := feed.NewEngine(pool, logger.WithField("component", "feed"), feedOpts...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctrl := controller.New(controller.Deps{
		Pool:        pool,
		Tx:          coordinator,
		Graph:       graphService,
		Feed:        feedEngine,
		Metrics:     controller.NewMetrics(registry, pool),
		Log:         logger,
		SlowRequest: cfg.SlowRequest,
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           ctrl.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	logger.Info("Server stopped")
}

func ensureIndexes(pool *db.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.EnsureIndexes(ctx)
}
