package dumpmgr

import "sync"

// InflightSet tracks the System family's process-wide set of in-flight
// DiagnosticTypes, plus an arbitrary set of "conflicts with" pairs
// (RetLTSSM vs RetRegister). Reservation is by key, but a key also fails
// to reserve while any of its declared conflicts holds a reservation, so
// two diagnostics that can't safely run concurrently are mutually
// exclusive even though they're never the same DiagnosticType.
//
// Owned exclusively by one Manager[T]. TryReserve runs on that manager's
// loop goroutine, but a release func may run on a supervisor exit
// goroutine, so the mutex guards every access to the set.
type InflightSet struct {
	mu        sync.Mutex
	active    map[string]bool
	conflicts map[string][]string
}

func NewInflightSet() *InflightSet {
	return &InflightSet{
		active:    map[string]bool{},
		conflicts: map[string][]string{},
	}
}

// AddConflict declares that a and b may never be in flight simultaneously.
func (s *InflightSet) AddConflict(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conflicts[a] = append(s.conflicts[a], b)
	s.conflicts[b] = append(s.conflicts[b], a)
}

// TryReserve reserves key if it is not already active and none of its
// declared conflicts are active. On success it returns a release func the
// caller must invoke exactly once when the collection reaches a terminal
// state.
func (s *InflightSet) TryReserve(key string) (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[key] {
		return nil, false
	}
	for _, conflict := range s.conflicts[key] {
		if s.active[conflict] {
			return nil, false
		}
	}

	s.active[key] = true

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.active, key)
	}, true
}

// Active reports whether key currently holds a reservation.
func (s *InflightSet) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active[key]
}
