package api

import (
	"sync"
	"time"
)

// stats counts proxy traffic for /stats.
type stats struct {
	now func() time.Time

	mu      sync.Mutex
	start   time.Time
	cleared time.Time
	gets    int
	posts   int
	errors  int
	timeout int
	uri     map[string]int
}

func newStats(now func() time.Time) *stats {
	t := now()
	return &stats{now: now, start: t, cleared: t, uri: make(map[string]int)}
}

func (s *stats) get(path string) {
	s.mu.Lock()
	s.gets++
	s.uri[path]++
	s.mu.Unlock()
}

func (s *stats) post(path string) {
	s.mu.Lock()
	s.posts++
	s.uri[path]++
	s.mu.Unlock()
}

func (s *stats) error() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *stats) timedOut() {
	s.mu.Lock()
	s.timeout++
	s.mu.Unlock()
}

// clear resets the counters but keeps the process start time.
func (s *stats) clear() {
	s.mu.Lock()
	s.gets, s.posts, s.errors, s.timeout = 0, 0, 0, 0
	s.uri = make(map[string]int)
	s.cleared = s.now()
	s.mu.Unlock()
}

// snapshot renders the counters in the proxy's /stats layout.
func (s *stats) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	uri := make(map[string]int, len(s.uri))
	for k, v := range s.uri {
		uri[k] = v
	}
	return map[string]any{
		"gets":    s.gets,
		"posts":   s.posts,
		"errors":  s.errors,
		"timeout": s.timeout,
		"uri":     uri,
		"start":   s.start.Unix(),
		"clear":   s.cleared.Unix(),
		"ts":      now.Unix(),
		"uptime":  now.Sub(s.start).Truncate(time.Second).String(),
	}
}
