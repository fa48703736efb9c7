package persistence

import (
	"testing"
	"time"

	"github.com/jkettu/huddle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLifecycle(t *testing.T) {
	p := NewMemoryPersister()

	msg := &types.Message{RoomId: "r1", SenderId: "u1", Text: "hi"}
	require.NoError(t, p.StoreMessage(msg))
	assert.NotEmpty(t, msg.Id)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := p.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Text)

	editedAt := time.Now()
	require.NoError(t, p.UpdateMessageText(msg.Id, "hello", editedAt))
	got, err = p.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "r1", got.RoomId)
	assert.Equal(t, "u1", got.SenderId)

	require.NoError(t, p.MarkMessageSeen(msg.Id, "u2"))
	require.NoError(t, p.MarkMessageSeen(msg.Id, "u2"))
	got, err = p.GetMessage(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.SeenBy)

	require.NoError(t, p.DeleteMessage(msg.Id))
	_, err = p.GetMessage(msg.Id)
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, p.DeleteMessage(msg.Id))
}

func TestRoomHistoryOrdering(t *testing.T) {
	p := NewMemoryPersister()
	base := time.Now()
	for i, text := range []string{"first", "second", "third"} {
		msg := &types.Message{RoomId: "r1", SenderId: "u1", Text: text, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, p.StoreMessage(msg))
	}
	require.NoError(t, p.StoreMessage(&types.Message{RoomId: "other", SenderId: "u1", Text: "elsewhere"}))

	history, err := p.RoomHistory("r1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "third", history[2].Text)

	history, err = p.RoomHistory("r1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Text)
	assert.Equal(t, "third", history[1].Text)
}

func TestDeleteMessagesBefore(t *testing.T) {
	p := NewMemoryPersister()
	old := &types.Message{RoomId: "r1", SenderId: "u1", Text: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &types.Message{RoomId: "r1", SenderId: "u1", Text: "fresh"}
	require.NoError(t, p.StoreMessage(old))
	require.NoError(t, p.StoreMessage(fresh))

	count, err := p.DeleteMessagesBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = p.GetMessage(old.Id)
	assert.Equal(t, ErrNotFound, err)
	_, err = p.GetMessage(fresh.Id)
	assert.NoError(t, err)
}

func TestGroupDirectory(t *testing.T) {
	p := NewMemoryPersister()

	_, err := p.GetGroup("missing")
	assert.Equal(t, ErrNotFound, err)
	_, err = p.AddGroupMember("missing", "u1")
	assert.Equal(t, ErrNotFound, err)

	group := &types.Group{Name: "team", CreatedBy: "u1", Members: []string{"u1"}}
	require.NoError(t, p.StoreGroup(group))
	assert.NotEmpty(t, group.Id)

	got, err := p.AddGroupMember(group.Id, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.Members)

	// joining twice leaves exactly one occurrence
	got, err = p.AddGroupMember(group.Id, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, got.Members)

	groups, err := p.GetGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].Name)
}

func TestUserStore(t *testing.T) {
	p := NewMemoryPersister()

	user := types.User{Id: "u1"}
	assert.Equal(t, ErrNotFound, p.GetUser(&user))

	require.NoError(t, p.StoreUser(types.User{Id: "u1", Name: "Alice", Online: true}))
	require.NoError(t, p.GetUser(&user))
	assert.Equal(t, "Alice", user.Name)
	assert.True(t, user.Online)

	require.NoError(t, p.SetUserOnline("u1", false))
	require.NoError(t, p.GetUser(&user))
	assert.False(t, user.Online)
	assert.False(t, user.LastOnline.IsZero())
}
