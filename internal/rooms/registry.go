// Package rooms implements named multicast groups. A room maps to the set
// of subscribers that joined it; publishing to a room delivers to exactly
// those subscribers.
package rooms

import (
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("pysakki.rooms")

// Subscriber is a connected client able to receive named events.
type Subscriber interface {
	// ID identifies the subscriber for the lifetime of its connection.
	ID() string

	// Emit queues an event for delivery and reports whether it was
	// accepted. It must not block.
	Emit(event string, payload any) bool
}

// Registry tracks room membership in both directions.
type Registry struct {
	mu      sync.Mutex
	rooms   map[string]map[string]Subscriber
	members map[string]set.Strings
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]Subscriber),
		members: make(map[string]set.Strings),
	}
}

// Join adds sub to room. Joining a room twice is harmless.
func (r *Registry) Join(sub Subscriber, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.rooms[room]
	if !ok {
		subs = make(map[string]Subscriber)
		r.rooms[room] = subs
	}
	subs[sub.ID()] = sub
	joined, ok := r.members[sub.ID()]
	if !ok {
		joined = set.NewStrings()
		r.members[sub.ID()] = joined
	}
	joined.Add(room)
}

// Leave removes sub from room and reports whether it was a member.
func (r *Registry) Leave(sub Subscriber, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(sub.ID(), room)
}

// LeaveAll removes sub from every room it belongs to and returns those
// rooms, sorted.
func (r *Registry) LeaveAll(sub Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.members[sub.ID()]
	if !ok {
		return nil
	}
	left := joined.SortedValues()
	for _, room := range left {
		r.leave(sub.ID(), room)
	}
	return left
}

func (r *Registry) leave(id, room string) bool {
	joined, ok := r.members[id]
	if !ok || !joined.Contains(room) {
		return false
	}
	joined.Remove(room)
	if joined.IsEmpty() {
		delete(r.members, id)
	}
	if subs, ok := r.rooms[room]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.rooms, room)
		}
	}
	return true
}

// RoomsOf returns the rooms sub belongs to, sorted.
func (r *Registry) RoomsOf(sub Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.members[sub.ID()]
	if !ok {
		return nil
	}
	return joined.SortedValues()
}

// Members returns the number of subscribers in room.
func (r *Registry) Members(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Subscribers returns the number of subscribers holding any membership.
func (r *Registry) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Publish emits event to every member of room and returns how many
// accepted it. Emission happens under the registry lock so a concurrent
// Leave cannot race with delivery.
func (r *Registry) Publish(room, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for id, sub := range r.rooms[room] {
		if sub.Emit(event, payload) {
			delivered++
			continue
		}
		logger.Debugf("subscriber %s dropped %s for %s", id, event, room)
	}
	return delivered
}
