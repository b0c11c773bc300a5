// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	_ "meeting-pipeline/docs"
	"meeting-pipeline/internal/bus"
	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/config"
	"meeting-pipeline/internal/executor"
	"meeting-pipeline/internal/metrics"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/repository/postgresql"
	"meeting-pipeline/internal/repository/sqlite"
	"meeting-pipeline/internal/resolver"
	"meeting-pipeline/internal/service"
	httptransport "meeting-pipeline/internal/transport/http"
	"meeting-pipeline/internal/worker"
)

// @title Meeting Pipeline API
// @version 1.0
// @description Submits meeting recordings to the staged processing pipeline and follows their progress.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.SetupLogging(); err != nil {
		log.Fatalf("logging: %v", err)
	}
	log.WithFields(cfg.Fields()).Info("worker config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// History
	var history interface {
		pipeline.HistoryStore
		service.JobRepository
	}
	if cfg.PostgresDSN != "" {
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("pg: %v", err)
		}
		defer pool.Close()

		repo := postgresql.NewJobRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("pg: %v", err)
		}
		history = repo
	} else {
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		defer repo.Close()
		history = repo
	}

	// Queue and cache store
	var (
		queue service.Queue
		store cache.Store
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()

		low, normal, high := service.LanesFor(cfg.QueueKey, cfg.ProcessingKey)
		queue = service.NewRedisPriorityQueue(rdb, cfg.ProcessingMapKey, low, normal, high)
		store = cache.NewRedisStore(rdb, cfg.CacheKeyPrefix, cfg.CacheTTL)

		// ids left in processing by a crashed worker go back to the queue;
		// any instance can run them since queued jobs are loaded from history
		go worker.Reap(ctx, queue, cfg.ReapInterval, 100)
	} else {
		queue = service.NewMemoryQueue()
		mem, err := cache.NewMemoryStore(cfg.CacheSize)
		if err != nil {
			log.Fatalf("cache: %v", err)
		}
		store = mem
	}

	// Observers
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	listeners := []pipeline.Listener{metrics.NewListener(reg)}

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer nc.Close()
		listeners = append(listeners, bus.NewPublisher(nc, cfg.NATSSubject))
	}

	// DI
	runner := pipeline.NewRunner(
		executor.NewSimulatedRegistry(cfg.StageDelayScale),
		cache.New(store),
		pipeline.WithHistory(history),
		pipeline.WithRetention(cfg.HistoryRetain),
	)
	jobSvc := service.NewJobService(runner, resolver.NewFileResolver(cfg.InputRoot), queue, history,
		service.WithListeners(listeners...))

	handler := httptransport.NewHandler(jobSvc)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(handler, httptransport.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))),
		ReadHeaderTimeout: 10 * time.Second,
		// open event streams end with the signal
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	if cfg.RedisAddr != "" {
		// jobs submitted here may have run on another instance
		go worker.Settle(ctx, jobSvc, cfg.ReapInterval)
	}

	poolDone := make(chan struct{})
	go func() {
		worker.NewPool(queue, worker.NewProcessor(runner, worker.WithLoader(jobSvc)), cfg.Workers).Run(ctx)
		close(poolDone)
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("runner shutdown")
	}
	<-poolDone

	log.Info("worker stopped")
}
