package game

import (
	"sync"
	"time"
)

// Phase timers are keyed by room, round identity and phase. A timer that
// fires after its round has advanced finds a different round in the store and
// does nothing; the key only exists so a replaced timer can be stopped early.
type timerKey struct {
	room  string
	round string
	phase Phase
}

type scheduler struct {
	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

func newScheduler() *scheduler {
	return &scheduler{timers: make(map[timerKey]*time.Timer)}
}

func (s *scheduler) schedule(key timerKey, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.forget(key)
		fn()
	})
}

func (s *scheduler) cancel(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *scheduler) forget(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, key)
}

func (s *scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
