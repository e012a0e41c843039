package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/C0NZZ/better-teletask/crawler/observability"
	"github.com/C0NZZ/better-teletask/crawler/resolver"
)

// Seed rebuilds the queue state from the repository and the portal. Called
// once at startup, before the worker and the refreshers are spawned:
// forward is filled by a synchronous upper refresh, backward with the full
// range below the smallest stored ID in descending order, and in-between
// with the missing-and-not-blacklisted set.
func (s *Scheduler) Seed(ctx context.Context) error {
	if err := s.RefreshUpper(ctx); err != nil {
		return fmt.Errorf("seed forward: %w", err)
	}

	smallest, ok, err := s.repo.SmallestStored(ctx)
	if err != nil {
		return fmt.Errorf("seed backward: %w", err)
	}
	if ok && smallest > 1 {
		ids := make([]int64, 0, smallest-1)
		for id := smallest - 1; id >= 1; id-- {
			ids = append(ids, id)
		}
		s.backward.Replace(ids)
	}

	if err := s.RefreshGaps(ctx); err != nil {
		return fmt.Errorf("seed in-between: %w", err)
	}

	snap := s.Depths()
	s.log.Infow("queues seeded",
		"forward", snap["forward"],
		"in_between", snap["in_between"],
		"backward", snap["backward"])
	return nil
}

// RunUpperRefresher periodically extends the forward queue with lectures
// published since the last cycle. A failed cycle is logged and abandoned;
// the next one proceeds normally.
func (s *Scheduler) RunUpperRefresher(ctx context.Context) {
	s.runPeriodic(ctx, "upper", s.RefreshUpper)
}

// RunGapRefresher periodically syncs the in-between queue with the set of
// missing-and-not-blacklisted IDs.
func (s *Scheduler) RunGapRefresher(ctx context.Context) {
	s.runPeriodic(ctx, "gap", s.RefreshGaps)
}

func (s *Scheduler) runPeriodic(ctx context.Context, name string, refresh func(context.Context) error) {
	ticker := time.NewTicker(s.cfg.RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("refresher stopped", "refresher", name)
			return
		case <-ticker.C:
			if err := refresh(ctx); err != nil {
				observability.RefreshCycles.WithLabelValues(name, "error").Inc()
				s.log.Errorw("refresh cycle failed", "refresher", name, "error", err)
				continue
			}
			observability.RefreshCycles.WithLabelValues(name, "ok").Inc()
		}
	}
}

// RefreshUpper probes a fixed window of IDs above the highest stored one
// and merges those the portal serves into the forward queue, oldest first.
// An ID already present in forward, priority or the in-flight guard is
// never added again. In-between and backward are not consulted: by
// construction they only hold strictly lower IDs.
func (s *Scheduler) RefreshUpper(ctx context.Context) error {
	highest, ok, err := s.repo.HighestStored(ctx)
	if err != nil {
		return fmt.Errorf("highest stored: %w", err)
	}
	if !ok {
		s.log.Infow("upper refresh: repository is empty, nothing to extend")
		return nil
	}

	var reachable []int64
	for i := 0; i < s.cfg.UpperWindow; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := highest + 1 + int64(i)
		if s.prober.Probe(ctx, id) == resolver.StatusOK {
			reachable = append(reachable, id)
		}
	}

	ml := lockOrdered(s.forward, s.inFlight, s.priority)
	added := 0
	for _, id := range reachable {
		if s.forward.contains(id) || s.inFlight.contains(id) || s.priority.contains(id) {
			continue
		}
		s.forward.add(id)
		added++
	}
	ml.Unlock()

	if added > 0 {
		s.log.Infow("upper refresh: new lectures discovered", "count", added, "above", highest)
	}
	return nil
}

// RefreshGaps loads the missing-and-not-blacklisted IDs between the
// smallest and highest stored ones and merges them into the in-between
// queue, which is kept in descending order so the newest gap is tried
// first. An ID found here that still sits in backward is promoted: removed
// from backward whether or not it is added to in-between.
func (s *Scheduler) RefreshGaps(ctx context.Context) error {
	missing, err := s.repo.MissingInBetween(ctx)
	if err != nil {
		return fmt.Errorf("missing in-between: %w", err)
	}

	ml := lockOrdered(s.inBetween, s.backward, s.inFlight, s.priority)
	for _, id := range missing {
		s.backward.remove(id)
		if s.inBetween.contains(id) || s.inFlight.contains(id) || s.priority.contains(id) {
			continue
		}
		s.inBetween.add(id)
	}
	s.inBetween.sortDescending()
	ml.Unlock()

	return nil
}
