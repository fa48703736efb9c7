package types

import "encoding/json"

// Client-originated events.
const (
	EventUserOnline    = "user_online"
	EventRequestGroups = "request_groups"
	EventJoinPrivate   = "join_private"
	EventCreateGroup   = "create_group"
	EventJoinGroup     = "join_group"
	EventSendMessage   = "send_message"
	EventTyping        = "typing"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventMarkSeen      = "mark_seen"
)

// Server-originated events.
const (
	EventOnlineUsers    = "online_users"
	EventGroupsList     = "groups_list"
	EventGroupCreated   = "group_created"
	EventJoinedRoom     = "joined_room"
	EventChatHistory    = "chat_history"
	EventReceiveMessage = "receive_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventError          = "error_message"
)

// Frame is the envelope actually sent over the websocket connection,
// in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewFrame marshals payload into a Frame and returns the serialized frame.
func NewFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// The inbound payloads. Field names follow the wire, decoding is done via
// mapstructure.WeakDecode so clients may be sloppy about value types.

type UserOnlinePayload struct {
	Id         string `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	ProfilePic string `mapstructure:"profile_pic"`
}

type JoinPrivatePayload struct {
	MyId        string `mapstructure:"my_id"`
	OtherUserId string `mapstructure:"other_user_id"`
}

type CreateGroupPayload struct {
	Name string `mapstructure:"name"`
}

type JoinGroupPayload struct {
	GroupId string `mapstructure:"group_id"`
}

type SendMessagePayload struct {
	RoomId string `mapstructure:"room_id"`
	Text   string `mapstructure:"text"`
}

type TypingPayload struct {
	RoomId string `mapstructure:"room_id"`
}

type EditMessagePayload struct {
	MessageId string `mapstructure:"message_id"`
	NewText   string `mapstructure:"new_text"`
}

type DeleteMessagePayload struct {
	MessageId string `mapstructure:"message_id"`
}

type MarkSeenPayload struct {
	MessageId string `mapstructure:"message_id"`
}

// The outbound payloads.

type OnlineUser struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
}

// GroupView annotates a Group with the recipient's own membership, so
// every groups_list is rendered per recipient.
type GroupView struct {
	*Group
	Member bool `json:"member"`
}

type JoinedRoom struct {
	RoomId string `json:"room_id"`
	Type   string `json:"type"` // "private" or "group"
}

type ChatHistory struct {
	RoomId  string         `json:"room_id"`
	History []*MessageView `json:"history"`
}

type TypingNotice struct {
	UserId   string `json:"user_id"`
	Username string `json:"username"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
}

type ErrorMessage struct {
	Reason string `json:"reason"`
}
