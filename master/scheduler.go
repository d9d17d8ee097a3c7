package master

import (
	mapset "github.com/deckarep/golang-set"
)

// scheduler hands out plan indices in plan order, one claim at a time.
// Indices requeued after a worker expired or dropped out are served before
// fresh ones so an abandoned test is retried as soon as anyone asks. All
// methods are called under the Master mutex.
type scheduler struct {
	total      int
	next       int
	requeued   []int
	dispatched mapset.Set
	completed  mapset.Set
}

func newScheduler(total int) *scheduler {
	return &scheduler{
		total:      total,
		dispatched: mapset.NewSet(),
		completed:  mapset.NewSet(),
	}
}

// claim returns the next index to hand out. ok is false when nothing is
// claimable right now, which covers both "all done" and "everything
// outstanding elsewhere"; the caller distinguishes via finished.
func (s *scheduler) claim() (index int, ok bool) {
	if len(s.requeued) > 0 {
		index = s.requeued[0]
		s.requeued = s.requeued[1:]
		s.dispatched.Add(index)
		return index, true
	}
	if s.next < s.total {
		index = s.next
		s.next++
		s.dispatched.Add(index)
		return index, true
	}
	return 0, false
}

// complete records a result for index.
func (s *scheduler) complete(index int) {
	s.dispatched.Remove(index)
	s.completed.Add(index)
}

// requeue puts a dispatched index back at the head of the line.
func (s *scheduler) requeue(index int) {
	s.dispatched.Remove(index)
	s.requeued = append(s.requeued, index)
}

// finished reports whether every index has a recorded result.
func (s *scheduler) finished() bool {
	return s.completed.Cardinality() == s.total
}

func (s *scheduler) dispatchedCount() int {
	return s.dispatched.Cardinality()
}

func (s *scheduler) completedCount() int {
	return s.completed.Cardinality()
}
