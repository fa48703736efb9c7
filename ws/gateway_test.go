package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/persistence"
	"github.com/jkettu/huddle/presence"
	"github.com/jkettu/huddle/room"
	"github.com/jkettu/huddle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway() (*Gateway, *persistence.MemoryPersist) {
	store := persistence.NewMemoryPersister()
	gw := NewGateway(&config.Config{}, presence.NewRegistry(), room.NewRouter(), store)
	return gw, store
}

func newTestClient(gw *Gateway) *Client {
	c := NewClient(gw, nil, "")
	gw.Register(c)
	return c
}

func frame(t *testing.T, event string, payload interface{}) *types.Frame {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &types.Frame{Event: event, Data: data}
}

// drain empties the client's send channel and returns the decoded frames.
func drain(t *testing.T, c *Client) []types.Frame {
	frames := make([]types.Frame, 0)
	for {
		select {
		case raw := <-c.Send:
			f := types.Frame{}
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func findEvent(frames []types.Frame, event string) (json.RawMessage, bool) {
	var data json.RawMessage
	found := false
	for _, f := range frames {
		if f.Event == event {
			data = f.Data
			found = true
		}
	}
	return data, found
}

func announce(t *testing.T, gw *Gateway, c *Client, id, name string) {
	gw.Dispatch(c, frame(t, types.EventUserOnline, map[string]string{"id": id, "name": name, "profile_pic": name + ".png"}))
}

func joinPrivate(t *testing.T, gw *Gateway, c *Client, myId, otherId string) {
	gw.Dispatch(c, frame(t, types.EventJoinPrivate, map[string]string{"my_id": myId, "other_user_id": otherId}))
}

type groupWire struct {
	Id      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Member  bool     `json:"member"`
}

func TestAnnouncePresence(t *testing.T) {
	gw, _ := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)

	announce(t, gw, a, "u-a", "Alice")
	aFrames := drain(t, a)
	data, ok := findEvent(aFrames, types.EventOnlineUsers)
	require.True(t, ok)
	online := []types.OnlineUser{}
	require.NoError(t, json.Unmarshal(data, &online))
	require.Len(t, online, 1)
	assert.Equal(t, "u-a", online[0].Id)
	assert.Equal(t, "Alice", online[0].Name)

	// the caller also immediately gets the group directory
	_, ok = findEvent(aFrames, types.EventGroupsList)
	assert.True(t, ok)

	// a second user's announce reaches all connections
	announce(t, gw, b, "u-b", "Bob")
	data, ok = findEvent(drain(t, a), types.EventOnlineUsers)
	require.True(t, ok)
	online = nil
	require.NoError(t, json.Unmarshal(data, &online))
	assert.Len(t, online, 2)
}

func TestAnnounceRequiresIdentity(t *testing.T) {
	gw, _ := newTestGateway()
	c := newTestClient(gw)
	gw.Dispatch(c, frame(t, types.EventUserOnline, map[string]string{"name": "nameless"}))
	assert.Empty(t, drain(t, c))
	assert.Equal(t, "", c.userId())
}

func TestAnnounceGeneratesGuestName(t *testing.T) {
	gw, _ := newTestGateway()
	c := newTestClient(gw)
	announce(t, gw, c, "u-guest", "")
	user, ok := c.boundUser()
	require.True(t, ok)
	assert.NotEmpty(t, user.Name)
	assert.Contains(t, user.Name, "(guest)")
}

func TestPrivateMessageFlow(t *testing.T) {
	gw, store := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	joinPrivate(t, gw, a, "u-a", "u-b")
	joinPrivate(t, gw, b, "u-b", "u-a")

	aFrames := drain(t, a)
	data, ok := findEvent(aFrames, types.EventJoinedRoom)
	require.True(t, ok)
	joined := types.JoinedRoom{}
	require.NoError(t, json.Unmarshal(data, &joined))
	assert.Equal(t, "u-a_u-b", joined.RoomId)
	assert.Equal(t, "private", joined.Type)
	_, ok = findEvent(aFrames, types.EventChatHistory)
	assert.True(t, ok)
	drain(t, b)

	gw.Dispatch(a, frame(t, types.EventSendMessage, map[string]string{"room_id": joined.RoomId, "text": "  hi  "}))

	for _, c := range []*Client{a, b} {
		data, ok := findEvent(drain(t, c), types.EventReceiveMessage)
		require.True(t, ok)
		view := types.MessageView{}
		require.NoError(t, json.Unmarshal(data, &view))
		assert.Equal(t, "hi", view.Text)
		assert.Equal(t, "u-a", view.SenderId)
		assert.Equal(t, "Alice", view.SenderName)
	}

	history, err := store.RoomHistory(joined.RoomId, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Text)
}

func TestMessageNotDeliveredToOtherRooms(t *testing.T) {
	gw, _ := newTestGateway()
	a := newTestClient(gw)
	c := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, c, "u-c", "Carol")
	joinPrivate(t, gw, a, "u-a", "u-b")
	joinPrivate(t, gw, c, "u-c", "u-d")
	drain(t, a)
	drain(t, c)

	gw.Dispatch(a, frame(t, types.EventSendMessage, map[string]string{"room_id": "u-a_u-b", "text": "hi"}))
	_, ok := findEvent(drain(t, c), types.EventReceiveMessage)
	assert.False(t, ok)
}

func TestSendRequiresIdentification(t *testing.T) {
	gw, store := newTestGateway()
	c := newTestClient(gw)
	joinPrivate(t, gw, c, "u-a", "u-b")
	drain(t, c)

	gw.Dispatch(c, frame(t, types.EventSendMessage, map[string]string{"room_id": "u-a_u-b", "text": "hi"}))
	_, ok := findEvent(drain(t, c), types.EventReceiveMessage)
	assert.False(t, ok)
	history, err := store.RoomHistory("u-a_u-b", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEditMessage(t *testing.T) {
	gw, store := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	joinPrivate(t, gw, a, "u-a", "u-b")
	joinPrivate(t, gw, b, "u-b", "u-a")
	gw.Dispatch(a, frame(t, types.EventSendMessage, map[string]string{"room_id": "u-a_u-b", "text": "hi"}))
	msgId := ""
	if data, ok := findEvent(drain(t, a), types.EventReceiveMessage); ok {
		view := types.MessageView{}
		require.NoError(t, json.Unmarshal(data, &view))
		msgId = view.Id
	}
	require.NotEmpty(t, msgId)
	drain(t, b)

	// edit by a non-sender is dropped silently
	gw.Dispatch(b, frame(t, types.EventEditMessage, map[string]string{"message_id": msgId, "new_text": "hacked"}))
	_, ok := findEvent(drain(t, a), types.EventMessageEdited)
	assert.False(t, ok)
	msg, err := store.GetMessage(msgId)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)

	// edit by the sender within the window succeeds and is broadcast
	gw.Dispatch(a, frame(t, types.EventEditMessage, map[string]string{"message_id": msgId, "new_text": "hello"}))
	data, ok := findEvent(drain(t, b), types.EventMessageEdited)
	require.True(t, ok)
	view := types.MessageView{}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, "hello", view.Text)
	msg, err = store.GetMessage(msgId)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
}

func TestEditWindowElapsed(t *testing.T) {
	gw, store := newTestGateway()
	a := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	joinPrivate(t, gw, a, "u-a", "u-b")
	drain(t, a)

	stale := &types.Message{
		RoomId:    "u-a_u-b",
		SenderId:  "u-a",
		Text:      "old",
		CreatedAt: time.Now().Add(-31 * time.Minute),
	}
	require.NoError(t, store.StoreMessage(stale))

	gw.Dispatch(a, frame(t, types.EventEditMessage, map[string]string{"message_id": stale.Id, "new_text": "too late"}))
	_, ok := findEvent(drain(t, a), types.EventMessageEdited)
	assert.False(t, ok)
	msg, err := store.GetMessage(stale.Id)
	require.NoError(t, err)
	assert.Equal(t, "old", msg.Text)
}

func TestDeleteMessage(t *testing.T) {
	gw, store := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	joinPrivate(t, gw, a, "u-a", "u-b")
	joinPrivate(t, gw, b, "u-b", "u-a")

	// deletion has no time window
	old := &types.Message{
		RoomId:    "u-a_u-b",
		SenderId:  "u-a",
		Text:      "ancient",
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, store.StoreMessage(old))
	drain(t, a)
	drain(t, b)

	// non-sender delete is dropped
	gw.Dispatch(b, frame(t, types.EventDeleteMessage, map[string]string{"message_id": old.Id}))
	_, ok := findEvent(drain(t, a), types.EventMessageDeleted)
	assert.False(t, ok)
	_, err := store.GetMessage(old.Id)
	require.NoError(t, err)

	gw.Dispatch(a, frame(t, types.EventDeleteMessage, map[string]string{"message_id": old.Id}))
	data, ok := findEvent(drain(t, b), types.EventMessageDeleted)
	require.True(t, ok)
	deleted := types.MessageDeleted{}
	require.NoError(t, json.Unmarshal(data, &deleted))
	assert.Equal(t, old.Id, deleted.MessageId)
	_, err = store.GetMessage(old.Id)
	assert.Equal(t, persistence.ErrNotFound, err)
}

func TestGroupFlow(t *testing.T) {
	gw, _ := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	drain(t, a)
	drain(t, b)

	gw.Dispatch(a, frame(t, types.EventCreateGroup, map[string]string{"name": " team "}))
	aFrames := drain(t, a)
	data, ok := findEvent(aFrames, types.EventGroupCreated)
	require.True(t, ok)
	created := groupWire{}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "team", created.Name)
	assert.Equal(t, []string{"u-a"}, created.Members)
	assert.True(t, created.Member)

	// the refreshed directory is broadcast to everyone, annotated per recipient
	data, ok = findEvent(drain(t, b), types.EventGroupsList)
	require.True(t, ok)
	bGroups := []groupWire{}
	require.NoError(t, json.Unmarshal(data, &bGroups))
	require.Len(t, bGroups, 1)
	assert.False(t, bGroups[0].Member)

	// B joins, twice; membership stays a set
	gw.Dispatch(b, frame(t, types.EventJoinGroup, map[string]string{"group_id": created.Id}))
	gw.Dispatch(b, frame(t, types.EventJoinGroup, map[string]string{"group_id": created.Id}))
	bFrames := drain(t, b)
	data, ok = findEvent(bFrames, types.EventGroupsList)
	require.True(t, ok)
	bGroups = nil
	require.NoError(t, json.Unmarshal(data, &bGroups))
	require.Len(t, bGroups, 1)
	assert.Equal(t, []string{"u-a", "u-b"}, bGroups[0].Members)
	assert.True(t, bGroups[0].Member)

	data, ok = findEvent(bFrames, types.EventJoinedRoom)
	require.True(t, ok)
	joined := types.JoinedRoom{}
	require.NoError(t, json.Unmarshal(data, &joined))
	assert.Equal(t, created.Id, joined.RoomId)
	assert.Equal(t, "group", joined.Type)
}

func TestJoinUnknownGroup(t *testing.T) {
	gw, _ := newTestGateway()
	c := newTestClient(gw)
	announce(t, gw, c, "u-a", "Alice")
	drain(t, c)

	gw.Dispatch(c, frame(t, types.EventJoinGroup, map[string]string{"group_id": "no-such-group"}))
	data, ok := findEvent(drain(t, c), types.EventError)
	require.True(t, ok)
	errMsg := types.ErrorMessage{}
	require.NoError(t, json.Unmarshal(data, &errMsg))
	assert.Equal(t, "Group not found", errMsg.Reason)
}

func TestTypingExcludesOriginator(t *testing.T) {
	gw, _ := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	joinPrivate(t, gw, a, "u-a", "u-b")
	joinPrivate(t, gw, b, "u-b", "u-a")
	drain(t, a)
	drain(t, b)

	gw.Dispatch(a, frame(t, types.EventTyping, map[string]string{"room_id": "u-a_u-b"}))
	data, ok := findEvent(drain(t, b), types.EventTyping)
	require.True(t, ok)
	notice := types.TypingNotice{}
	require.NoError(t, json.Unmarshal(data, &notice))
	assert.Equal(t, "u-a", notice.UserId)
	assert.Equal(t, "Alice", notice.Username)

	_, ok = findEvent(drain(t, a), types.EventTyping)
	assert.False(t, ok)
}

func TestMarkSeen(t *testing.T) {
	gw, store := newTestGateway()
	a := newTestClient(gw)
	b := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	announce(t, gw, b, "u-b", "Bob")
	joinPrivate(t, gw, a, "u-a", "u-b")
	gw.Dispatch(a, frame(t, types.EventSendMessage, map[string]string{"room_id": "u-a_u-b", "text": "hi"}))
	history, err := store.RoomHistory("u-a_u-b", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	gw.Dispatch(b, frame(t, types.EventMarkSeen, map[string]string{"message_id": history[0].Id}))
	msg, err := store.GetMessage(history[0].Id)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-b"}, msg.SeenBy)
}

func TestDisconnect(t *testing.T) {
	gw, store := newTestGateway()
	conn1 := newTestClient(gw)
	conn2 := newTestClient(gw)
	watcher := newTestClient(gw)
	announce(t, gw, conn1, "u-a", "Alice")
	announce(t, gw, conn2, "u-a", "Alice")
	announce(t, gw, watcher, "u-w", "Watcher")
	drain(t, watcher)

	// first connection drops, user stays online, no broadcast
	gw.Disconnect(conn1)
	_, ok := findEvent(drain(t, watcher), types.EventOnlineUsers)
	assert.False(t, ok)

	// the last connection drops, the refreshed snapshot goes out
	gw.Disconnect(conn2)
	data, ok := findEvent(drain(t, watcher), types.EventOnlineUsers)
	require.True(t, ok)
	online := []types.OnlineUser{}
	require.NoError(t, json.Unmarshal(data, &online))
	require.Len(t, online, 1)
	assert.Equal(t, "u-w", online[0].Id)

	user := types.User{Id: "u-a"}
	require.NoError(t, store.GetUser(&user))
	assert.False(t, user.Online)
}

func TestReannounceAsOtherUserRejected(t *testing.T) {
	gw, _ := newTestGateway()
	c := newTestClient(gw)
	announce(t, gw, c, "u-first", "First")
	drain(t, c)

	// the bound identity is immutable; a re-announce as somebody else is
	// dropped and must not touch the presence registry
	announce(t, gw, c, "u-second", "Second")
	assert.Equal(t, "u-first", c.userId())
	assert.Empty(t, drain(t, c))

	// re-announcing the bound identity is still a display attribute refresh
	announce(t, gw, c, "u-first", "Firstname Lastname")
	name, _, online := gw.presence.Lookup("u-first")
	require.True(t, online)
	assert.Equal(t, "Firstname Lastname", name)

	gw.Disconnect(c)
	assert.Empty(t, gw.presence.Snapshot())
}

func TestEditWindowConfigurable(t *testing.T) {
	store := persistence.NewMemoryPersister()
	cfg := &config.Config{HistoryConfig: config.HistoryConfig{EditWindowMinutes: 1}}
	gw := NewGateway(cfg, presence.NewRegistry(), room.NewRouter(), store)
	c := NewClient(gw, nil, "")
	gw.Register(c)
	announce(t, gw, c, "u-a", "Alice")
	joinPrivate(t, gw, c, "u-a", "u-b")
	drain(t, c)

	stale := &types.Message{
		RoomId:    "u-a_u-b",
		SenderId:  "u-a",
		Text:      "old",
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}
	require.NoError(t, store.StoreMessage(stale))

	// 2 minutes old is fine with the 30 minute default, but not here
	gw.Dispatch(c, frame(t, types.EventEditMessage, map[string]string{"message_id": stale.Id, "new_text": "too late"}))
	_, ok := findEvent(drain(t, c), types.EventMessageEdited)
	assert.False(t, ok)
	msg, err := store.GetMessage(stale.Id)
	require.NoError(t, err)
	assert.Equal(t, "old", msg.Text)
}

func TestGroupCreatorReceivesMessages(t *testing.T) {
	gw, _ := newTestGateway()
	a := newTestClient(gw)
	announce(t, gw, a, "u-a", "Alice")
	gw.Dispatch(a, frame(t, types.EventCreateGroup, map[string]string{"name": "team"}))
	data, ok := findEvent(drain(t, a), types.EventGroupCreated)
	require.True(t, ok)
	created := groupWire{}
	require.NoError(t, json.Unmarshal(data, &created))

	// the creator is subscribed on creation, no separate join needed
	gw.Dispatch(a, frame(t, types.EventSendMessage, map[string]string{"room_id": created.Id, "text": "hi team"}))
	data, ok = findEvent(drain(t, a), types.EventReceiveMessage)
	require.True(t, ok)
	view := types.MessageView{}
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, "hi team", view.Text)
}

func TestVerifiedIdentityMismatchDropped(t *testing.T) {
	gw, _ := newTestGateway()
	c := NewClient(gw, nil, "verified@example.com")
	gw.Register(c)

	gw.Dispatch(c, frame(t, types.EventUserOnline, map[string]string{"id": "somebody-else", "name": "Mallory"}))
	assert.Equal(t, "", c.userId())
	assert.Empty(t, drain(t, c))

	announce(t, gw, c, "verified@example.com", "Alice")
	assert.Equal(t, "verified@example.com", c.userId())
}
