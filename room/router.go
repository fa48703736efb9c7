package room

import "sync"

// Subscriber is one end of a live connection that frames can be handed to.
// Enqueue must never block; it reports false when the connection is closed
// or saturated, which callers treat as a harmless drop.
type Subscriber interface {
	Enqueue(frame []byte) bool
}

// Router maps room ids to the set of connections currently subscribed to
// them. Subscriptions accumulate for a connection's lifetime and are torn
// down all at once on disconnect.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[Subscriber]struct{}
}

func NewRouter() *Router {
	return &Router{rooms: make(map[string]map[Subscriber]struct{})}
}

// Subscribe adds sub to the room's subscriber set, creating the set on
// first use. Subscribing twice is a no-op.
func (r *Router) Subscribe(sub Subscriber, roomId string) {
	if roomId == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[roomId]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.rooms[roomId] = set
	}
	set[sub] = struct{}{}
}

// UnsubscribeAll removes sub from every room it belongs to.
func (r *Router) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomId, set := range r.rooms {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.rooms, roomId)
		}
	}
}

// Broadcast hands frame to every current subscriber of the room, the
// originator included. A failed enqueue (connection just closed) is
// silently tolerated.
func (r *Router) Broadcast(roomId string, frame []byte) {
	for _, sub := range r.Subscribers(roomId) {
		sub.Enqueue(frame)
	}
}

// Subscribers returns a snapshot of the room's subscriber set. The snapshot
// may race with concurrent joins and disconnects; callers must tolerate
// delivery to a connection that has closed in the meantime.
func (r *Router) Subscribers(roomId string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[roomId]
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	return subs
}
