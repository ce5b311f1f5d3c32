package core

import (
	"sort"
	"sync"
	"time"
)

// TaskStat aggregates the runs of one named task.
type TaskStat struct {
	Name     string
	Runs     int64
	Failures int64
	Total    time.Duration
	Last     time.Duration
}

// Stats tracks task runs. It is installed as the task graph observer.
type Stats struct {
	mu    sync.RWMutex
	tasks map[string]*TaskStat
}

// NewStats creates an empty tracker.
func NewStats() *Stats {
	return &Stats{tasks: make(map[string]*TaskStat)}
}

// Record records one finished run of name.
func (s *Stats) Record(name string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[name]
	if !ok {
		st = &TaskStat{Name: name}
		s.tasks[name] = st
	}
	st.Runs++
	st.Total += d
	st.Last = d
	if err != nil {
		st.Failures++
	}
}

// Get returns the stat for name.
func (s *Stats) Get(name string) (TaskStat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[name]
	if !ok {
		return TaskStat{}, false
	}
	return *st, true
}

// Snapshot returns all stats sorted by name.
func (s *Stats) Snapshot() []TaskStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStat, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Totals returns the number of runs, failures and the summed duration.
func (s *Stats) Totals() (int64, int64, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs, failures int64
	var total time.Duration
	for _, st := range s.tasks {
		runs += st.Runs
		failures += st.Failures
		total += st.Total
	}
	return runs, failures, total
}
