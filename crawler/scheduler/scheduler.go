package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/observability"
	"github.com/C0NZZ/better-teletask/crawler/resolver"
)

// Prober is the subset of the portal client the scheduler needs: a cheap
// reachability check for a single lecture ID. The client refreshes its own
// session credential when it observes a 401.
type Prober interface {
	Probe(ctx context.Context, id int64) resolver.Status
}

// Repository is the subset of store methods the scheduler consumes.
type Repository interface {
	HighestStored(ctx context.Context) (int64, bool, error)
	SmallestStored(ctx context.Context) (int64, bool, error)
	MissingInBetween(ctx context.Context) ([]int64, error)
	OriginalExists(ctx context.Context, id int64) (bool, error)
}

// Config holds the scheduler's tunables.
type Config struct {
	// RefreshPeriod is the sleep between refresher cycles.
	RefreshPeriod time.Duration
	// EvictionTimeout bounds how long an ID stays in the in-flight guard.
	// Must exceed the longest expected pipeline run with margin.
	EvictionTimeout time.Duration
	// UpperWindow is how many IDs above the highest stored one the upper
	// refresher probes per cycle.
	UpperWindow int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RefreshPeriod:   20 * time.Minute,
		EvictionTimeout: 20 * time.Minute,
		UpperWindow:     10,
	}
}

// PrioritizeOutcome is the result of an operator prioritize request.
type PrioritizeOutcome int

const (
	Prioritized PrioritizeOutcome = iota
	AlreadyPrioritized
	AlreadyInFlight
	NotAvailable
)

func (o PrioritizeOutcome) String() string {
	switch o {
	case Prioritized:
		return "prioritized"
	case AlreadyPrioritized:
		return "already_prioritized"
	case AlreadyInFlight:
		return "already_in_flight"
	case NotAvailable:
		return "not_available"
	default:
		return "unknown"
	}
}

// QueueSnapshot is a point-in-time view of all five queues. Each queue is
// snapshotted under its own mutex; the snapshot is not atomic across
// queues.
type QueueSnapshot struct {
	Priority  []int64 `json:"priority"`
	Forward   []int64 `json:"forward"`
	InBetween []int64 `json:"in_between"`
	Backward  []int64 `json:"backward"`
	InFlight  []int64 `json:"in_flight"`
}

// Scheduler owns the four source queues plus the in-flight guard and
// decides which lecture ID is worked on next. Selection precedence is
// strict: priority > forward > in-between > backward.
type Scheduler struct {
	priority  *IDQueue
	forward   *IDQueue
	inBetween *IDQueue
	backward  *IDQueue
	inFlight  *IDQueue

	repo   Repository
	prober Prober
	cfg    Config
	log    *zap.SugaredLogger
}

// New creates a Scheduler with empty queues. Queues live for the process
// lifetime; state is rebuilt from the repository on startup via Seed.
func New(repo Repository, prober Prober, cfg Config, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		priority:  NewIDQueue("priority"),
		forward:   NewIDQueue("forward"),
		inBetween: NewIDQueue("in_between"),
		backward:  NewIDQueue("backward"),
		inFlight:  NewIDQueue("in_flight"),
		repo:      repo,
		prober:    prober,
		cfg:       cfg,
		log:       log,
	}
}

// Next selects the next lecture ID ready for processing, or reports false
// when every source queue is empty. IDs whose original-language artifact
// already exists and IDs the portal does not currently serve are discarded
// and selection continues with the next candidate, so every iteration
// shrinks the combined source queues by one and the loop terminates.
//
// On success the ID is recorded in the in-flight guard and a reaper is
// scheduled to evict it after the configured timeout.
func (s *Scheduler) Next(ctx context.Context) (int64, bool) {
	for {
		if ctx.Err() != nil {
			return 0, false
		}

		ml := lockOrdered(s.priority, s.forward, s.inBetween, s.backward)
		var (
			id     int64
			ok     bool
			source string
		)
		for _, q := range []*IDQueue{s.priority, s.forward, s.inBetween, s.backward} {
			if id, ok = q.dequeue(); ok {
				source = q.name
				break
			}
		}
		ml.Unlock()

		if !ok {
			return 0, false
		}

		exists, err := s.repo.OriginalExists(ctx, id)
		if err != nil {
			s.log.Warnw("selection: repository check failed, skipping", "id", id, "error", err)
			observability.SelectionSkips.WithLabelValues("repository_error").Inc()
			continue
		}
		if exists {
			s.log.Debugw("selection: original already stored, skipping", "id", id)
			observability.SelectionSkips.WithLabelValues("already_stored").Inc()
			continue
		}

		switch st := s.prober.Probe(ctx, id); st {
		case resolver.StatusOK:
			s.inFlight.Add(id)
			go s.reap(ctx, id)
			observability.Selections.WithLabelValues(source).Inc()
			s.log.Infow("selected lecture for processing", "id", id, "queue", source)
			return id, true
		case resolver.StatusUnauthorized:
			// The prober has already rotated its credential; the ID will
			// reappear on the next refresh cycle.
			observability.SelectionSkips.WithLabelValues("unauthorized").Inc()
			s.log.Warnw("selection: portal rejected session, skipping", "id", id)
		default:
			observability.SelectionSkips.WithLabelValues("not_available").Inc()
			s.log.Debugw("selection: lecture not available, skipping", "id", id, "status", st)
		}
	}
}

// reap removes id from the in-flight guard once the eviction timeout
// elapses. The worker never removes entries itself; the guard only has to
// outlive the pipeline run. On shutdown the guard is discarded with the
// rest of process state, so a cancelled reaper simply exits.
func (s *Scheduler) reap(ctx context.Context, id int64) {
	t := time.NewTimer(s.cfg.EvictionTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		s.inFlight.Remove(id)
		observability.InFlightEvictions.Inc()
	}
}

// Prioritize asks for id to be worked next. The ID must be reachable on
// the portal; an ID that is already being processed is rejected and one
// that is already prioritized is left alone. Otherwise it is removed from
// whichever source queue holds it and appended to the priority queue.
func (s *Scheduler) Prioritize(ctx context.Context, id int64) PrioritizeOutcome {
	if s.prober.Probe(ctx, id) != resolver.StatusOK {
		return NotAvailable
	}

	ml := lockOrdered(s.priority, s.forward, s.inBetween, s.backward, s.inFlight)
	defer ml.Unlock()

	if s.inFlight.contains(id) {
		return AlreadyInFlight
	}
	if s.priority.contains(id) {
		return AlreadyPrioritized
	}
	s.forward.remove(id)
	s.inBetween.remove(id)
	s.backward.remove(id)
	s.priority.add(id)
	return Prioritized
}

// Snapshot returns the contents of all five queues for introspection.
func (s *Scheduler) Snapshot() QueueSnapshot {
	return QueueSnapshot{
		Priority:  s.priority.Snapshot(),
		Forward:   s.forward.Snapshot(),
		InBetween: s.inBetween.Snapshot(),
		Backward:  s.backward.Snapshot(),
		InFlight:  s.inFlight.Snapshot(),
	}
}

// Depths returns the current size of each queue keyed by queue name.
func (s *Scheduler) Depths() map[string]int {
	depths := make(map[string]int, 5)
	for _, q := range []*IDQueue{s.priority, s.forward, s.inBetween, s.backward, s.inFlight} {
		depths[q.name] = q.Len()
	}
	return depths
}
