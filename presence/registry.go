// Package presence tracks which users currently hold at least one live
// connection, together with their cached display attributes. The registry
// is purely in-memory and is rebuilt from nothing on process start.
package presence

import (
	"sync"

	"github.com/jkettu/huddle/types"
)

type entry struct {
	conns      map[string]struct{}
	name       string
	profilePic string
}

// Registry maps user ids to their set of open connections. An entry exists
// if and only if its connection set is non-empty.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	owners  map[string]string // connection id -> user id
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		owners:  make(map[string]string),
	}
}

// Announce records connId as a live connection of userId and refreshes the
// cached display attributes (last writer wins). Announcing the same
// connection again is a no-op apart from the attribute refresh.
func (r *Registry) Announce(connId, userId, name, profilePic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userId]
	if !ok {
		e = &entry{conns: make(map[string]struct{})}
		r.entries[userId] = e
	}
	e.conns[connId] = struct{}{}
	e.name = name
	e.profilePic = profilePic
	r.owners[connId] = userId
}

// Remove drops connId from its owner's entry and deletes the entry when the
// last connection is gone. It reports the owning user id and whether that
// user went offline. Connections that never announced are a no-op.
func (r *Registry) Remove(connId string) (userId string, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userId, ok := r.owners[connId]
	if !ok {
		return "", false
	}
	delete(r.owners, connId)
	e, ok := r.entries[userId]
	if !ok {
		return userId, false
	}
	delete(e.conns, connId)
	if len(e.conns) == 0 {
		delete(r.entries, userId)
		return userId, true
	}
	return userId, false
}

// Snapshot returns the currently online users in unspecified order.
func (r *Registry) Snapshot() []types.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	online := make([]types.OnlineUser, 0, len(r.entries))
	for userId, e := range r.entries {
		online = append(online, types.OnlineUser{
			Id:         userId,
			Name:       e.name,
			ProfilePic: e.profilePic,
		})
	}
	return online
}

// Lookup returns the cached display attributes of an online user.
func (r *Registry) Lookup(userId string) (name, profilePic string, online bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userId]
	if !ok {
		return "", "", false
	}
	return e.name, e.profilePic, true
}
