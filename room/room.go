// Package room derives room identifiers and routes broadcasts to the
// connections subscribed to a room.
package room

import (
	"fmt"
	"strings"
)

const (
	TypePrivate = "private"
	TypeGroup   = "group"

	privateSeparator = "_"
)

// PrivateRoomID derives the deterministic id of the two-party room between
// a and b. The two identities are sorted, so both participants always
// compute the same id regardless of who initiated contact.
func PrivateRoomID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", fmt.Errorf("private room requires two identities")
	}
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, privateSeparator), nil
}

// Kind is the tagged union over the two room variants. Private rooms carry
// their two participants and have no persisted membership; group rooms are
// identified by a stored Group record.
type Kind struct {
	Type string
	// private
	A, B string
	// group
	GroupId string
}

func Private(a, b string) Kind {
	return Kind{Type: TypePrivate, A: a, B: b}
}

func Group(groupId string) Kind {
	return Kind{Type: TypeGroup, GroupId: groupId}
}

// RoomID resolves the broadcast key for the room.
func (k Kind) RoomID() (string, error) {
	switch k.Type {
	case TypePrivate:
		return PrivateRoomID(k.A, k.B)
	case TypeGroup:
		if k.GroupId == "" {
			return "", fmt.Errorf("group room requires a group id")
		}
		return k.GroupId, nil
	}
	return "", fmt.Errorf("unknown room type %q", k.Type)
}
