package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/folkengine/goname"
	lru "github.com/hashicorp/golang-lru"
	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/globals"
	"github.com/jkettu/huddle/persistence"
	"github.com/jkettu/huddle/presence"
	"github.com/jkettu/huddle/room"
	"github.com/jkettu/huddle/types"
	"github.com/mitchellh/mapstructure"
)

const (
	// defaultEditWindow is the interval after creation during which the
	// sender may still change a message's text, unless overridden by
	// history.edit_window_minutes.
	defaultEditWindow = 30 * time.Minute

	userCacheSize = 1024
)

// Gateway is the session layer: it validates client events against the
// presence registry, the room router and the persistence layer, and emits
// the reactive broadcasts. All shared state lives in the injected
// collaborators; the gateway itself only tracks the set of open
// connections for process-wide broadcasts.
type Gateway struct {
	cfg      *config.Config
	presence *presence.Registry
	rooms    *room.Router
	store    persistence.Persister

	// display attributes of users that are offline at broadcast time
	userCache *lru.Cache

	editWindow time.Duration

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewGateway(cfg *config.Config, reg *presence.Registry, rooms *room.Router, store persistence.Persister) *Gateway {
	userCache, _ := lru.New(userCacheSize)
	window := defaultEditWindow
	if cfg.HistoryConfig.EditWindowMinutes > 0 {
		window = time.Duration(cfg.HistoryConfig.EditWindowMinutes) * time.Minute
	}
	return &Gateway{
		cfg:        cfg,
		presence:   reg,
		rooms:      rooms,
		store:      store,
		userCache:  userCache,
		editWindow: window,
		clients:    make(map[*Client]struct{}),
	}
}

// Register adds a freshly upgraded connection to the gateway.
func (g *Gateway) Register(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[c] = struct{}{}
}

// Disconnect tears a connection down: presence entry, room subscriptions
// and the connection itself. When the user's last connection is gone the
// refreshed online list is broadcast.
func (g *Gateway) Disconnect(c *Client) {
	c.markClosed()
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	g.rooms.UnsubscribeAll(c)
	userId, wentOffline := g.presence.Remove(c.connId)
	if !wentOffline {
		return
	}
	if err := g.store.SetUserOnline(userId, false); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		globals.AppLogger.Error("could not persist offline state", "user", userId, "error", err)
	}
	g.broadcastOnlineUsers()
}

func decodePayload(data json.RawMessage, out interface{}) error {
	m := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
	}
	return mapstructure.WeakDecode(m, out)
}

// Dispatch routes one inbound frame to its handler. Malformed payloads and
// events that are invalid in the connection's current state are dropped
// without feedback, per the error handling policy.
func (g *Gateway) Dispatch(c *Client, frame *types.Frame) {
	switch frame.Event {
	case types.EventUserOnline:
		p := types.UserOnlinePayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleUserOnline(c, p)
		}
	case types.EventRequestGroups:
		g.sendGroupsList(c)
	case types.EventJoinPrivate:
		p := types.JoinPrivatePayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleJoinPrivate(c, p)
		}
	case types.EventCreateGroup:
		p := types.CreateGroupPayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleCreateGroup(c, p)
		}
	case types.EventJoinGroup:
		p := types.JoinGroupPayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleJoinGroup(c, p)
		}
	case types.EventSendMessage:
		p := types.SendMessagePayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleSendMessage(c, p)
		}
	case types.EventTyping:
		p := types.TypingPayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleTyping(c, p)
		}
	case types.EventEditMessage:
		p := types.EditMessagePayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleEditMessage(c, p)
		}
	case types.EventDeleteMessage:
		p := types.DeleteMessagePayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleDeleteMessage(c, p)
		}
	case types.EventMarkSeen:
		p := types.MarkSeenPayload{}
		if decodePayload(frame.Data, &p) == nil {
			g.handleMarkSeen(c, p)
		}
	default:
		globals.AppLogger.Debug("unknown event", "event", frame.Event)
	}
}

// handleUserOnline binds the announced identity to the connection and makes
// the user visible in the presence registry. Re-announcing on an identified
// connection is a refresh.
func (g *Gateway) handleUserOnline(c *Client, p types.UserOnlinePayload) {
	if p.Id == "" {
		return
	}
	if c.identity != "" && c.identity != p.Id {
		globals.AppLogger.Debug("announced identity does not match verified identity", "announced", p.Id)
		return
	}
	// the bound identity is set once per connection; re-announcing is only a
	// display attribute refresh
	if bound := c.userId(); bound != "" && bound != p.Id {
		globals.AppLogger.Debug("connection already bound to another user", "bound", bound, "announced", p.Id)
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
	}
	user := &types.User{
		Id:         p.Id,
		Name:       name,
		ProfilePic: p.ProfilePic,
		Online:     true,
		LastOnline: time.Now(),
	}
	c.bindUser(user)
	g.presence.Announce(c.connId, user.Id, user.Name, user.ProfilePic)
	g.userCache.Add(user.Id, types.OnlineUser{Id: user.Id, Name: user.Name, ProfilePic: user.ProfilePic})
	if err := g.store.StoreUser(*user); err != nil {
		globals.AppLogger.Error("could not persist user", "user", user.Id, "error", err)
	}
	g.broadcastOnlineUsers()
	g.sendGroupsList(c)
}

func (g *Gateway) handleJoinPrivate(c *Client, p types.JoinPrivatePayload) {
	roomId, err := room.Private(p.MyId, p.OtherUserId).RoomID()
	if err != nil {
		return
	}
	g.rooms.Subscribe(c, roomId)
	c.sendEvent(types.EventJoinedRoom, types.JoinedRoom{RoomId: roomId, Type: room.TypePrivate})
	g.replayHistory(c, roomId)
}

func (g *Gateway) handleCreateGroup(c *Client, p types.CreateGroupPayload) {
	userId := c.userId()
	name := strings.TrimSpace(p.Name)
	if userId == "" || name == "" {
		return
	}
	group := &types.Group{
		Name:      name,
		CreatedBy: userId,
		Members:   []string{userId},
	}
	if err := g.store.StoreGroup(group); err != nil {
		globals.AppLogger.Error("could not create group", "name", name, "error", err)
		c.sendError("Failed to create group")
		return
	}
	// the creator is a member from the start, so their connection gets the
	// room's traffic without a separate join
	g.rooms.Subscribe(c, group.Id)
	g.broadcastGroupsList()
	c.sendEvent(types.EventGroupCreated, types.GroupView{Group: group, Member: true})
}

func (g *Gateway) handleJoinGroup(c *Client, p types.JoinGroupPayload) {
	userId := c.userId()
	if userId == "" || p.GroupId == "" {
		return
	}
	group, err := g.store.GetGroup(p.GroupId)
	if errors.Is(err, persistence.ErrNotFound) {
		c.sendError("Group not found")
		return
	}
	if err != nil {
		globals.AppLogger.Error("could not load group", "group", p.GroupId, "error", err)
		return
	}
	if !group.HasMember(userId) {
		if group, err = g.store.AddGroupMember(group.Id, userId); err != nil {
			globals.AppLogger.Error("could not add group member", "group", p.GroupId, "error", err)
			return
		}
	}
	g.rooms.Subscribe(c, group.Id)
	g.broadcastGroupsList()
	c.sendEvent(types.EventJoinedRoom, types.JoinedRoom{RoomId: group.Id, Type: room.TypeGroup})
	g.replayHistory(c, group.Id)
}

// handleSendMessage persists the message, then broadcasts it to the room's
// subscribers, the sender's own connection included. An unpersisted message
// is never broadcast.
func (g *Gateway) handleSendMessage(c *Client, p types.SendMessagePayload) {
	userId := c.userId()
	text := strings.TrimSpace(p.Text)
	if userId == "" || p.RoomId == "" || text == "" {
		return
	}
	msg := &types.Message{
		RoomId:   p.RoomId,
		SenderId: userId,
		Text:     text,
		SeenBy:   []string{},
	}
	if err := g.store.StoreMessage(msg); err != nil {
		globals.AppLogger.Error("could not persist message", "room", p.RoomId, "error", err)
		return
	}
	g.broadcastToRoom(msg.RoomId, types.EventReceiveMessage, g.viewOf(msg))
}

// handleTyping relays a typing notice to every other subscriber of the
// room. Nothing is persisted and drops are not retried.
func (g *Gateway) handleTyping(c *Client, p types.TypingPayload) {
	user, ok := c.boundUser()
	if !ok || p.RoomId == "" {
		return
	}
	frame, err := types.NewFrame(types.EventTyping, types.TypingNotice{UserId: user.Id, Username: user.Name})
	if err != nil {
		return
	}
	for _, sub := range g.rooms.Subscribers(p.RoomId) {
		if sub == c {
			continue
		}
		sub.Enqueue(frame)
	}
}

// handleEditMessage mutates a message's text if the caller is its sender
// and the edit window has not elapsed. Failures are dropped without
// feedback; the authorization rule itself is logged for auditability.
func (g *Gateway) handleEditMessage(c *Client, p types.EditMessagePayload) {
	userId := c.userId()
	text := strings.TrimSpace(p.NewText)
	if userId == "" || p.MessageId == "" || text == "" {
		return
	}
	msg, err := g.store.GetMessage(p.MessageId)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			globals.AppLogger.Error("could not load message", "message", p.MessageId, "error", err)
		}
		return
	}
	if msg.SenderId != userId {
		globals.AppLogger.Debug("edit rejected, not the sender", "message", msg.Id, "caller", userId)
		return
	}
	editedAt := time.Now()
	if editedAt.Sub(msg.CreatedAt) > g.editWindow {
		globals.AppLogger.Debug("edit rejected, window elapsed", "message", msg.Id)
		return
	}
	if err := g.store.UpdateMessageText(msg.Id, text, editedAt); err != nil {
		globals.AppLogger.Error("could not persist edit", "message", msg.Id, "error", err)
		return
	}
	msg.Text = text
	msg.UpdatedAt = editedAt
	g.broadcastToRoom(msg.RoomId, types.EventMessageEdited, g.viewOf(msg))
}

// handleDeleteMessage hard-deletes a message if the caller is its sender.
// There is no time window and no tombstone; subscribers get the id.
func (g *Gateway) handleDeleteMessage(c *Client, p types.DeleteMessagePayload) {
	userId := c.userId()
	if userId == "" || p.MessageId == "" {
		return
	}
	msg, err := g.store.GetMessage(p.MessageId)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			globals.AppLogger.Error("could not load message", "message", p.MessageId, "error", err)
		}
		return
	}
	if msg.SenderId != userId {
		globals.AppLogger.Debug("delete rejected, not the sender", "message", msg.Id, "caller", userId)
		return
	}
	if err := g.store.DeleteMessage(msg.Id); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		globals.AppLogger.Error("could not delete message", "message", msg.Id, "error", err)
		return
	}
	g.broadcastToRoom(msg.RoomId, types.EventMessageDeleted, types.MessageDeleted{MessageId: msg.Id})
}

func (g *Gateway) handleMarkSeen(c *Client, p types.MarkSeenPayload) {
	userId := c.userId()
	if userId == "" || p.MessageId == "" {
		return
	}
	if err := g.store.MarkMessageSeen(p.MessageId, userId); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		globals.AppLogger.Error("could not mark message seen", "message", p.MessageId, "error", err)
	}
}

// replayHistory sends the room's persisted history, ascending by creation
// time, to the joining connection only.
func (g *Gateway) replayHistory(c *Client, roomId string) {
	history, err := g.store.RoomHistory(roomId, g.cfg.HistoryConfig.ReplayLimit)
	if err != nil {
		globals.AppLogger.Error("could not load room history", "room", roomId, "error", err)
		return
	}
	views := make([]*types.MessageView, 0, len(history))
	for _, msg := range history {
		views = append(views, g.viewOf(msg))
	}
	c.sendEvent(types.EventChatHistory, types.ChatHistory{RoomId: roomId, History: views})
}

// viewOf resolves the sender's display attributes: presence first, then the
// lru cache, then the user store.
func (g *Gateway) viewOf(msg *types.Message) *types.MessageView {
	view := &types.MessageView{Message: msg}
	if name, pic, ok := g.presence.Lookup(msg.SenderId); ok {
		view.SenderName, view.SenderPic = name, pic
		return view
	}
	if cached, ok := g.userCache.Get(msg.SenderId); ok {
		u := cached.(types.OnlineUser)
		view.SenderName, view.SenderPic = u.Name, u.ProfilePic
		return view
	}
	user := types.User{Id: msg.SenderId}
	if err := g.store.GetUser(&user); err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			globals.AppLogger.Error("could not resolve sender", "user", msg.SenderId, "error", err)
		}
		return view
	}
	g.userCache.Add(user.Id, types.OnlineUser{Id: user.Id, Name: user.Name, ProfilePic: user.ProfilePic})
	view.SenderName, view.SenderPic = user.Name, user.ProfilePic
	return view
}

func (g *Gateway) broadcastToRoom(roomId, event string, payload interface{}) {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal frame", "event", event, "error", err)
		return
	}
	g.rooms.Broadcast(roomId, frame)
}

// broadcastOnlineUsers sends the current presence snapshot to every open
// connection, identified or not.
func (g *Gateway) broadcastOnlineUsers() {
	frame, err := types.NewFrame(types.EventOnlineUsers, g.presence.Snapshot())
	if err != nil {
		globals.AppLogger.Error("could not marshal online users", "error", err)
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for client := range g.clients {
		client.Enqueue(frame)
	}
}

func (g *Gateway) groupViews(groups []*types.Group, userId string) []types.GroupView {
	views := make([]types.GroupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, types.GroupView{Group: group, Member: group.HasMember(userId)})
	}
	return views
}

// sendGroupsList sends the full group directory to one connection,
// annotated with the recipient's own membership.
func (g *Gateway) sendGroupsList(c *Client) {
	groups, err := g.store.GetGroups()
	if err != nil {
		globals.AppLogger.Error("could not load groups", "error", err)
		return
	}
	c.sendEvent(types.EventGroupsList, g.groupViews(groups, c.userId()))
}

// broadcastGroupsList refreshes the group directory on every connection.
// Group existence is globally visible, but the membership annotation is
// computed per recipient, so each connection gets its own rendering.
func (g *Gateway) broadcastGroupsList() {
	groups, err := g.store.GetGroups()
	if err != nil {
		globals.AppLogger.Error("could not load groups", "error", err)
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for client := range g.clients {
		client.sendEvent(types.EventGroupsList, g.groupViews(groups, client.userId()))
	}
}
