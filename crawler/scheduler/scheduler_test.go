package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/resolver"
)

type mockRepo struct {
	mu          sync.Mutex
	highest     int64
	hasHighest  bool
	smallest    int64
	hasSmallest bool
	missing     []int64
	stored      map[int64]bool
	err         error
}

func (m *mockRepo) HighestStored(context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highest, m.hasHighest, m.err
}

func (m *mockRepo) SmallestStored(context.Context) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.smallest, m.hasSmallest, m.err
}

func (m *mockRepo) MissingInBetween(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.missing...), m.err
}

func (m *mockRepo) OriginalExists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[id], m.err
}

type mockProber struct {
	mu       sync.Mutex
	statuses map[int64]resolver.Status
	fallback resolver.Status
	probed   []int64
}

func (m *mockProber) Probe(_ context.Context, id int64) resolver.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probed = append(m.probed, id)
	if st, ok := m.statuses[id]; ok {
		return st
	}
	return m.fallback
}

func newTestScheduler(repo *mockRepo, prober *mockProber) *Scheduler {
	cfg := DefaultConfig()
	cfg.EvictionTimeout = 50 * time.Millisecond
	return New(repo, prober, cfg, zap.NewNop().Sugar())
}

func TestNextEmptyQueues(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	if id, ok := s.Next(context.Background()); ok {
		t.Fatalf("Next on empty queues returned %d", id)
	}
}

func TestNextPrecedence(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.backward.Add(1)
	s.inBetween.Add(2)
	s.forward.Add(3)
	s.priority.Add(4)

	want := []int64{4, 3, 2, 1}
	for _, expect := range want {
		id, ok := s.Next(context.Background())
		if !ok || id != expect {
			t.Fatalf("Next = %d, %v; want %d", id, ok, expect)
		}
	}
	if _, ok := s.Next(context.Background()); ok {
		t.Fatal("queues should be drained")
	}
}

func TestNextSkipsAlreadyStored(t *testing.T) {
	repo := &mockRepo{stored: map[int64]bool{10: true}}
	s := newTestScheduler(repo, &mockProber{fallback: resolver.StatusOK})
	s.forward.Add(10)
	s.forward.Add(11)

	id, ok := s.Next(context.Background())
	if !ok || id != 11 {
		t.Fatalf("Next = %d, %v; want 11", id, ok)
	}
	for _, q := range []*IDQueue{s.priority, s.forward, s.inBetween, s.backward} {
		if q.Contains(10) {
			t.Fatalf("stored id left in %s", q.Name())
		}
	}
}

func TestNextSkipsUnavailable(t *testing.T) {
	prober := &mockProber{
		statuses: map[int64]resolver.Status{20: resolver.StatusForbidden, 21: resolver.StatusNotFound},
		fallback: resolver.StatusOK,
	}
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, prober)
	s.forward.Add(20)
	s.forward.Add(21)
	s.forward.Add(22)

	id, ok := s.Next(context.Background())
	if !ok || id != 22 {
		t.Fatalf("Next = %d, %v; want 22", id, ok)
	}
}

func TestNextRecordsInFlightAndReaps(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.forward.Add(500)

	ctx := context.Background()
	id, ok := s.Next(ctx)
	if !ok || id != 500 {
		t.Fatalf("Next = %d, %v; want 500", id, ok)
	}
	if !s.inFlight.Contains(500) {
		t.Fatal("selected id must be in the in-flight guard")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.inFlight.Contains(500) {
		if time.Now().After(deadline) {
			t.Fatal("reaper did not evict the id within the timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNextConcurrentCallersGetDistinctIDs(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.forward.Add(101)
	s.forward.Add(102)

	results := make(chan int64, 2)
	for i := 0; i < 2; i++ {
		go func() {
			id, ok := s.Next(context.Background())
			if !ok {
				results <- 0
				return
			}
			results <- id
		}()
	}
	a, b := <-results, <-results
	if a == b || a == 0 || b == 0 {
		t.Fatalf("concurrent Next returned %d and %d; want two distinct ids", a, b)
	}
	if s.forward.Len() != 0 {
		t.Fatal("forward should be drained")
	}
	if !s.inFlight.Contains(101) || !s.inFlight.Contains(102) {
		t.Fatal("both ids must be in flight")
	}
}

func TestPrioritizeNotAvailable(t *testing.T) {
	prober := &mockProber{statuses: map[int64]resolver.Status{95: resolver.StatusForbidden}}
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, prober)

	if got := s.Prioritize(context.Background(), 95); got != NotAvailable {
		t.Fatalf("outcome = %v, want NotAvailable", got)
	}
	if s.priority.Len() != 0 {
		t.Fatal("priority must stay empty for an unavailable id")
	}
}

func TestPrioritizeAlreadyInFlight(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.inFlight.Add(7)

	if got := s.Prioritize(context.Background(), 7); got != AlreadyInFlight {
		t.Fatalf("outcome = %v, want AlreadyInFlight", got)
	}
}

func TestPrioritizeMovesFromSourceQueue(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.inBetween.Add(95)
	s.inBetween.Add(92)

	if got := s.Prioritize(context.Background(), 95); got != Prioritized {
		t.Fatalf("outcome = %v, want Prioritized", got)
	}
	if s.inBetween.Contains(95) {
		t.Fatal("id must leave its source queue")
	}
	if !s.priority.Contains(95) {
		t.Fatal("id must be in priority")
	}

	if got := s.Prioritize(context.Background(), 95); got != AlreadyPrioritized {
		t.Fatalf("outcome = %v, want AlreadyPrioritized", got)
	}

	// The prioritized id is selected next.
	id, ok := s.Next(context.Background())
	if !ok || id != 95 {
		t.Fatalf("Next = %d, %v; want 95", id, ok)
	}
}

func TestSnapshot(t *testing.T) {
	s := newTestScheduler(&mockRepo{stored: map[int64]bool{}}, &mockProber{fallback: resolver.StatusOK})
	s.priority.Add(1)
	s.forward.Add(2)
	s.inFlight.Add(3)

	snap := s.Snapshot()
	if len(snap.Priority) != 1 || snap.Priority[0] != 1 {
		t.Fatalf("priority snapshot = %v", snap.Priority)
	}
	if len(snap.Forward) != 1 || snap.Forward[0] != 2 {
		t.Fatalf("forward snapshot = %v", snap.Forward)
	}
	if len(snap.InFlight) != 1 || snap.InFlight[0] != 3 {
		t.Fatalf("in-flight snapshot = %v", snap.InFlight)
	}
	if snap.InBetween == nil || snap.Backward == nil {
		t.Fatal("empty queues must snapshot as empty slices, not nil")
	}
}
