package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/C0NZZ/better-teletask/crawler/middleware"
	"github.com/C0NZZ/better-teletask/crawler/observability"
	"github.com/C0NZZ/better-teletask/crawler/scheduler"
)

// API is the crawler's control plane: liveness, queue introspection and
// operator prioritization.
type API struct {
	sched *scheduler.Scheduler
	keys  middleware.KeyLookup
	hub   *QueueHub
	log   *zap.SugaredLogger

	// Storm protection for the only mutating endpoint.
	prioritizeLimiter *rate.Limiter
}

// NewAPI wires the control plane.
func NewAPI(sched *scheduler.Scheduler, keys middleware.KeyLookup, hub *QueueHub, log *zap.SugaredLogger) *API {
	return &API{
		sched:             sched,
		keys:              keys,
		hub:               hub,
		log:               log,
		prioritizeLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Router builds the HTTP surface.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		MaxAge:         3600,
	}))

	r.Get("/ping", a.handlePing)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/queues", a.handleQueues)
	r.Get("/ws/queues", a.hub.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(a.keys, a.log))
		r.Post("/prioritize/{id}", a.handlePrioritize)
	})
	return r
}

func (a *API) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("pong"))
}

func (a *API) handleQueues(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.sched.Snapshot())
}

func (a *API) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	if !a.prioritizeLimiter.Allow() {
		observability.APIRateLimited.WithLabelValues("prioritize").Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}

	outcome := a.sched.Prioritize(r.Context(), id)
	observability.PrioritizeRequests.WithLabelValues(outcome.String()).Inc()
	a.log.Infow("prioritize request", "id", id, "outcome", outcome.String())

	var (
		status  int
		message string
	)
	switch outcome {
	case scheduler.Prioritized:
		status = http.StatusOK
		message = fmt.Sprintf("ID %d prioritized.", id)
	case scheduler.AlreadyPrioritized:
		status = http.StatusOK
		message = fmt.Sprintf("ID %d is already prioritized.", id)
	case scheduler.AlreadyInFlight:
		status = http.StatusConflict
		message = fmt.Sprintf("ID %d is already being processed.", id)
	case scheduler.NotAvailable:
		status = http.StatusNotFound
		message = fmt.Sprintf("ID %d cannot be prioritized as it is not available.", id)
	}
	a.writeJSON(w, status, map[string]string{
		"message": message,
		"outcome": outcome.String(),
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Errorw("response encode failed", "error", err)
	}
}
