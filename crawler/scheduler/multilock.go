package scheduler

import "sort"

// multiLock holds a set of queue mutexes acquired in the global order.
// It is the only sanctioned way to hold more than one queue mutex at a
// time: acquiring queue mutexes individually in arbitrary order elsewhere
// can deadlock against the refreshers, the worker and the control plane.
type multiLock struct {
	locked []*IDQueue
}

// lockOrdered acquires the mutexes of the given queues sorted by their
// creation sequence number, deduplicating repeated queues first. The
// sequence number is fixed at construction, so two goroutines locking
// overlapping sets always acquire in the same order.
func lockOrdered(queues ...*IDQueue) *multiLock {
	uniq := make([]*IDQueue, 0, len(queues))
	seen := make(map[uint64]struct{}, len(queues))
	for _, q := range queues {
		if _, ok := seen[q.seq]; ok {
			continue
		}
		seen[q.seq] = struct{}{}
		uniq = append(uniq, q)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].seq < uniq[j].seq })
	for _, q := range uniq {
		q.mu.Lock()
	}
	return &multiLock{locked: uniq}
}

// Unlock releases the held mutexes in reverse acquisition order.
func (m *multiLock) Unlock() {
	for i := len(m.locked) - 1; i >= 0; i-- {
		m.locked[i].mu.Unlock()
	}
	m.locked = nil
}
