package types

import "time"

type User struct {
	Id         string    `json:"id"` // assigned by the identity provider, unique
	Name       string    `json:"name"`
	ProfilePic string    `json:"profile_pic"`
	Online     bool      `json:"online"`
	LastOnline time.Time `json:"last_online"`
}
