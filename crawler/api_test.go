package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/resolver"
	"github.com/C0NZZ/better-teletask/crawler/scheduler"
	"github.com/C0NZZ/better-teletask/crawler/store"
)

type stubRepo struct{}

func (stubRepo) HighestStored(context.Context) (int64, bool, error)  { return 0, false, nil }
func (stubRepo) SmallestStored(context.Context) (int64, bool, error) { return 0, false, nil }
func (stubRepo) MissingInBetween(context.Context) ([]int64, error)   { return nil, nil }
func (stubRepo) OriginalExists(context.Context, int64) (bool, error) { return false, nil }

type stubProber struct {
	statuses map[int64]resolver.Status
}

func (p stubProber) Probe(_ context.Context, id int64) resolver.Status {
	if st, ok := p.statuses[id]; ok {
		return st
	}
	return resolver.StatusOK
}

type stubKeys struct {
	valid map[string]bool
}

func (k stubKeys) APIKey(_ context.Context, key string) (*store.APIKey, error) {
	if !k.valid[key] {
		return nil, nil
	}
	return &store.APIKey{
		Key:        key,
		Status:     "active",
		Expiration: time.Now().Add(time.Hour),
	}, nil
}

func newTestAPI(prober stubProber) *API {
	log := zap.NewNop().Sugar()
	sched := scheduler.New(stubRepo{}, prober, scheduler.DefaultConfig(), log)
	hub := NewQueueHub(sched, log)
	return NewAPI(sched, stubKeys{valid: map[string]bool{"goodkey": true}}, hub, log)
}

func TestPingEndpoint(t *testing.T) {
	api := newTestAPI(stubProber{})
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "pong" {
		t.Fatalf("body = %q, want pong", rec.Body.String())
	}
}

func TestQueuesEndpoint(t *testing.T) {
	api := newTestAPI(stubProber{})
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queues", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap map[string][]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"priority", "forward", "in_between", "backward", "in_flight"} {
		ids, ok := snap[field]
		if !ok {
			t.Fatalf("snapshot missing %q", field)
		}
		if ids == nil {
			t.Fatalf("%q must be an empty array, not null", field)
		}
	}
}

func TestPrioritizeRequiresAPIKey(t *testing.T) {
	api := newTestAPI(stubProber{})

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prioritize/95", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/prioritize/95", nil)
	req.Header.Set("X-API-Key", "wrongkey")
	api.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status with bad key = %d, want 403", rec.Code)
	}
}

func prioritize(t *testing.T, api *API, id string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/prioritize/"+id, nil)
	req.Header.Set("X-API-Key", "goodkey")
	api.Router().ServeHTTP(rec, req)

	var body map[string]string
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec, body["message"]
}

func TestPrioritizeOutcomes(t *testing.T) {
	api := newTestAPI(stubProber{statuses: map[int64]resolver.Status{
		96: resolver.StatusForbidden,
	}})

	rec, msg := prioritize(t, api, "95")
	if rec.Code != http.StatusOK || msg != "ID 95 prioritized." {
		t.Fatalf("first prioritize: %d %q", rec.Code, msg)
	}

	rec, msg = prioritize(t, api, "95")
	if rec.Code != http.StatusOK || msg != "ID 95 is already prioritized." {
		t.Fatalf("repeat prioritize: %d %q", rec.Code, msg)
	}

	rec, msg = prioritize(t, api, "96")
	if rec.Code != http.StatusNotFound || msg != "ID 96 cannot be prioritized as it is not available." {
		t.Fatalf("unavailable prioritize: %d %q", rec.Code, msg)
	}
}

func TestPrioritizeRejectsBadID(t *testing.T) {
	api := newTestAPI(stubProber{})
	rec, _ := prioritize(t, api, "abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec, _ = prioritize(t, api, "-5")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for negative id = %d, want 400", rec.Code)
	}
}
