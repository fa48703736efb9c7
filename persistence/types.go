package persistence

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/types"
)

// ErrNotFound is returned for lookups of records that do not exist, as
// opposed to transient I/O failures. Callers decide between silent-drop
// and surfacing an error event based on this distinction.
var ErrNotFound = errors.New("not found")

// Persister is the durable side of the chat core: the message store, the
// group directory and the user profile source behind one interface, with
// interchangeable backends.
type Persister interface {
	// message store
	StoreMessage(msg *types.Message) error
	GetMessage(id string) (*types.Message, error)
	RoomHistory(roomId string, limit int) ([]*types.Message, error)
	UpdateMessageText(id, text string, editedAt time.Time) error
	MarkMessageSeen(id, userId string) error
	DeleteMessage(id string) error
	DeleteMessagesBefore(cutoff time.Time) (int, error)

	// group directory
	StoreGroup(group *types.Group) error
	GetGroup(id string) (*types.Group, error)
	GetGroups() ([]*types.Group, error)
	AddGroupMember(groupId, userId string) (*types.Group, error)

	// user profiles
	StoreUser(user types.User) error
	GetUser(user *types.User) error
	GetUsers() ([]*types.User, error)
	SetUserOnline(id string, online bool) error

	Close() error
}

// NewPersister creates the persister selected by the configuration.
// An empty or "memory" type yields the in-memory backend.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite":
		return NewSQLitePersister(cfg)
	case "postgres":
		return NewPostgresPersister(cfg)
	case "", "memory":
		return NewMemoryPersister(), nil
	}
	return nil, errors.New("unknown persistence type: " + cfg.PersistenceConfig.Type)
}

func newId() string {
	return uuid.New().String()
}
