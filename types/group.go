package types

import "time"

// Group is a named multi-party room with explicit membership. The group id
// doubles as the room id for routing and message storage.
type Group struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g *Group) HasMember(userId string) bool {
	for _, m := range g.Members {
		if m == userId {
			return true
		}
	}
	return false
}
