package vehicle

import (
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
)

type entry struct {
	obs      Observation
	lastSeen time.Time
}

// Store maps a vehicle reference to its most recent observation. Entries
// live for the lifetime of the process unless swept with SweepBefore.
//
// The relay is the only writer; readers may call from any goroutine.
type Store struct {
	clock clock.Clock

	mu       sync.RWMutex
	vehicles map[string]entry
}

// NewStore returns an empty store stamping last-seen times from clk.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{
		clock:    clk,
		vehicles: make(map[string]entry),
	}
}

// Get returns the last observation for ref.
func (s *Store) Get(ref string) (Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.vehicles[ref]
	return e.obs, ok
}

// Set replaces any prior observation for ref.
func (s *Store) Set(ref string, obs Observation) {
	now := s.clock.Now()
	s.mu.Lock()
	s.vehicles[ref] = entry{obs: obs, lastSeen: now}
	s.mu.Unlock()
}

// Len returns the number of distinct vehicles held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// All returns a copy of every observation ordered by vehicle reference.
func (s *Store) All() []Observation {
	s.mu.RLock()
	out := make([]Observation, 0, len(s.vehicles))
	for _, e := range s.vehicles {
		out = append(out, e.obs)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleRef < out[j].VehicleRef })
	return out
}

// SweepBefore removes vehicles last seen before cutoff and returns their
// references, sorted.
func (s *Store) SweepBefore(cutoff time.Time) []string {
	s.mu.Lock()
	var removed []string
	for ref, e := range s.vehicles {
		if e.lastSeen.Before(cutoff) {
			delete(s.vehicles, ref)
			removed = append(removed, ref)
		}
	}
	s.mu.Unlock()
	sort.Strings(removed)
	return removed
}
