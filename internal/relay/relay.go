// Package relay detects per-vehicle changes between poll cycles and fans
// them out to the clients subscribed to each vehicle.
package relay

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"

	"pysakki/internal/metrics"
	"pysakki/internal/rooms"
	"pysakki/internal/vehicle"
)

var logger = loggo.GetLogger("pysakki.relay")

// Config holds the collaborators of a Relay.
type Config struct {
	Store   *vehicle.Store
	Rooms   *rooms.Registry
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// Relay owns the change detector and the subscription commands. Every
// per-vehicle apply step and every command runs under one lock, so a
// subscriber never observes a vehicle half way through a cycle.
type Relay struct {
	store   *vehicle.Store
	rooms   *rooms.Registry
	metrics *metrics.Metrics
	clock   clock.Clock

	mu        sync.Mutex
	lastCycle time.Time
}

// New returns a relay over the given store and registry.
func New(cfg Config) *Relay {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Relay{
		store:   cfg.Store,
		rooms:   cfg.Rooms,
		metrics: cfg.Metrics,
		clock:   clk,
	}
}

// Apply runs one poll cycle's observations through the change detector
// and returns the number of updates published. Iteration order is
// irrelevant: vehicles are independent.
func (r *Relay) Apply(cycle map[string]vehicle.Observation) int {
	published := 0
	for ref, obs := range cycle {
		if r.applyOne(ref, obs) {
			published++
		}
	}
	r.mu.Lock()
	r.lastCycle = r.clock.Now()
	r.mu.Unlock()
	r.metrics.SetVehicles(r.store.Len())
	return published
}

func (r *Relay) applyOne(ref string, obs vehicle.Observation) bool {
	obs.VehicleRef = ref

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.store.Get(ref)
	changed := seen && prev.RecordedAtTime != obs.RecordedAtTime
	if changed {
		delivered := r.rooms.Publish(RoomName(ref), EventUpdate, updateOf(obs))
		r.metrics.AddUpdate(delivered)
		if delivered > 0 {
			logger.Tracef("vehicle %s update t=%d to %d subscribers", ref, obs.RecordedAtTime, delivered)
		}
	}
	r.store.Set(ref, obs)
	return changed
}

// Subscribe moves sub into the room of vehicleRef, leaving any room it was
// in, and sends it a snapshot of the vehicle's last known state. An empty
// reference only clears the membership.
func (r *Relay) Subscribe(sub rooms.Subscriber, vehicleRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if left := r.rooms.LeaveAll(sub); len(left) > 0 {
		logger.Debugf("client %s left %v", sub.ID(), left)
	}
	snap := Snapshot{}
	if vehicleRef != "" {
		if obs, ok := r.store.Get(vehicleRef); ok {
			snap = snapshotOf(obs)
		}
		r.rooms.Join(sub, RoomName(vehicleRef))
		logger.Debugf("client %s following vehicle %s", sub.ID(), vehicleRef)
	}
	if !sub.Emit(EventStartUpdate, snap) {
		logger.Debugf("client %s missed its snapshot", sub.ID())
	}
}

// Unsubscribe removes sub from the room of vehicleRef. Leaving a room the
// client is not in does nothing.
func (r *Relay) Unsubscribe(sub rooms.Subscriber, vehicleRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms.Leave(sub, RoomName(vehicleRef)) {
		logger.Debugf("client %s stopped following vehicle %s", sub.ID(), vehicleRef)
	}
}

// Disconnect drops every membership held by sub.
func (r *Relay) Disconnect(sub rooms.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms.LeaveAll(sub)
}

// Sweep forgets vehicles not observed within staleAfter. Their rooms keep
// their members; a vehicle that reappears is a first sighting again.
func (r *Relay) Sweep(staleAfter time.Duration) []string {
	r.mu.Lock()
	removed := r.store.SweepBefore(r.clock.Now().Add(-staleAfter))
	r.mu.Unlock()
	if len(removed) > 0 {
		logger.Infof("forgot %d vehicles not seen for %v", len(removed), staleAfter)
	}
	r.metrics.SetVehicles(r.store.Len())
	return removed
}

// LastCycle returns when a poll cycle was last applied, zero if never.
func (r *Relay) LastCycle() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCycle
}

// Vehicles returns the number of vehicles in the store.
func (r *Relay) Vehicles() int {
	return r.store.Len()
}
