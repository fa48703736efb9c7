package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func online(r *Registry, userId string) bool {
	for _, u := range r.Snapshot() {
		if u.Id == userId {
			return true
		}
	}
	return false
}

func TestAnnounceAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Announce("conn1", "u1", "Alice", "a.png")
	r.Announce("conn2", "u1", "Alice", "a.png")
	assert.True(t, online(r, "u1"))

	userId, wentOffline := r.Remove("conn1")
	assert.Equal(t, "u1", userId)
	assert.False(t, wentOffline)
	assert.True(t, online(r, "u1"))

	userId, wentOffline = r.Remove("conn2")
	assert.Equal(t, "u1", userId)
	assert.True(t, wentOffline)
	assert.False(t, online(r, "u1"))
	assert.Empty(t, r.Snapshot())
}

func TestRemoveUnknownConnection(t *testing.T) {
	r := NewRegistry()
	userId, wentOffline := r.Remove("never-announced")
	assert.Equal(t, "", userId)
	assert.False(t, wentOffline)
}

func TestAnnounceRefreshesAttributes(t *testing.T) {
	r := NewRegistry()
	r.Announce("conn1", "u1", "Alice", "old.png")
	r.Announce("conn2", "u1", "Alicia", "new.png")

	name, pic, ok := r.Lookup("u1")
	assert.True(t, ok)
	assert.Equal(t, "Alicia", name)
	assert.Equal(t, "new.png", pic)

	// announcing the same connection again only refreshes attributes
	r.Announce("conn1", "u1", "Alice", "old.png")
	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 1)

	_, _, ok = r.Lookup("offline-user")
	assert.False(t, ok)
}
