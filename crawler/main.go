package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/config"
	"github.com/C0NZZ/better-teletask/crawler/observability"
	"github.com/C0NZZ/better-teletask/crawler/pipeline"
	"github.com/C0NZZ/better-teletask/crawler/resolver"
	"github.com/C0NZZ/better-teletask/crawler/scheduler"
	"github.com/C0NZZ/better-teletask/crawler/store"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.Development)
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Repository, schema first.
	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalw("schema migration failed", "error", err)
	}

	cred := config.NewCredential(cfg.CredentialFile, log)
	portal := resolver.NewClient(cfg.BaseURL, cred, log)

	sched := scheduler.New(st, portal, scheduler.Config{
		RefreshPeriod:   cfg.RefreshPeriod,
		EvictionTimeout: cfg.EvictionTimeout,
		UpperWindow:     cfg.UpperWindow,
	}, log)

	// 2.-4. Seed forward, backward and in-between before anything runs.
	if err := sched.Seed(ctx); err != nil {
		log.Fatalw("queue seeding failed", "error", err)
	}

	rec := pipeline.NewRecognizer(cfg.ASRCommand, cfg.ASRModel, cfg.ComputeType, cfg.ArtifactDir, log)
	pipe := pipeline.New(portal, st, rec, cfg.RecordingDir, log)
	worker := NewWorker(sched, pipe, cfg.WorkerIdle, log)
	hub := NewQueueHub(sched, log)

	// 5. Background tasks. Their context is independent of the signal
	// context so shutdown can stop the HTTP server before cancelling them.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()
	var wg sync.WaitGroup
	spawn := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(taskCtx)
		}()
		log.Infow("task started", "task", name)
	}
	spawn("worker", worker.Run)
	spawn("upper-refresher", sched.RunUpperRefresher)
	spawn("gap-refresher", sched.RunGapRefresher)
	spawn("queue-hub", hub.Run)
	spawn("metrics-collector", func(ctx context.Context) { runMetricsCollector(ctx, sched) })
	spawn("credential-watcher", func(ctx context.Context) {
		if err := cred.Watch(ctx); err != nil {
			log.Warnw("credential watcher failed", "error", err)
		}
	})

	// 6. Control plane.
	api := NewAPI(sched, st, hub, log)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: api.Router()}
	go func() {
		log.Infow("control plane listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("control plane server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")

	// Stop accepting requests, then cancel the tasks and wait them out.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnw("control plane shutdown incomplete", "error", err)
	}

	cancelTasks()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("all tasks stopped")
	case <-time.After(shutdownGrace):
		log.Warn("tasks did not stop in time, exiting anyway")
	}
}

func newLogger(development bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

// runMetricsCollector samples queue depths on a fixed cadence so the
// gauges track reality without instrumenting every queue mutation.
func runMetricsCollector(ctx context.Context, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for queue, depth := range sched.Depths() {
				observability.QueueDepth.WithLabelValues(queue).Set(float64(depth))
			}
		}
	}
}
