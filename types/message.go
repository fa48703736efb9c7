package types

import "time"

// Message is a persisted chat message. RoomId and SenderId are immutable
// once stored; Text may be changed by the sender within the edit window.
type Message struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	SenderId  string    `json:"sender_id"`
	Text      string    `json:"text"`
	SeenBy    []string  `json:"seen_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Message) SeenByUser(userId string) bool {
	for _, id := range m.SeenBy {
		if id == userId {
			return true
		}
	}
	return false
}

// MessageView is a Message with the sender's display attributes resolved,
// which is what actually goes out on the wire.
type MessageView struct {
	*Message
	SenderName string `json:"sender_name"`
	SenderPic  string `json:"sender_profile_pic"`
}
