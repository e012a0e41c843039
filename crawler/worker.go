package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/observability"
	"github.com/C0NZZ/better-teletask/crawler/scheduler"
)

// pipelineRunner is the external pipeline the worker drives: resolve,
// extract audio, recognize, persist.
type pipelineRunner interface {
	Process(ctx context.Context, id int64) error
}

// Worker is the single long-running consumer of the scheduler. One
// instance per host: concurrent transcription would contend for the same
// CPU/GPU, and scaling out is a deployment concern.
type Worker struct {
	sched *scheduler.Scheduler
	pipe  pipelineRunner
	idle  time.Duration
	log   *zap.SugaredLogger
}

// NewWorker creates the worker. idle is how long to wait when every
// source queue is empty before asking again.
func NewWorker(sched *scheduler.Scheduler, pipe pipelineRunner, idle time.Duration, log *zap.SugaredLogger) *Worker {
	return &Worker{sched: sched, pipe: pipe, idle: idle, log: log}
}

// Run drains the scheduler until the context is cancelled. Pipeline
// failures are logged and never terminate the loop; the failed ID is
// simply dropped from the scheduler's view.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return
		}

		id, ok := w.sched.Next(ctx)
		if !ok {
			observability.WorkerIdle.Inc()
			select {
			case <-ctx.Done():
				w.log.Info("worker stopped")
				return
			case <-time.After(w.idle):
			}
			continue
		}

		runID := uuid.NewString()
		w.log.Infow("pipeline starting", "id", id, "run", runID)
		start := time.Now()
		err := w.pipe.Process(ctx, id)
		observability.PipelineDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			observability.PipelineRuns.WithLabelValues("failure").Inc()
			w.log.Errorw("pipeline failed", "id", id, "run", runID, "elapsed", time.Since(start), "error", err)
			continue
		}
		observability.PipelineRuns.WithLabelValues("success").Inc()
		w.log.Infow("pipeline finished", "id", id, "run", runID, "elapsed", time.Since(start))
	}
}
