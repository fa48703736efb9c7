package persistence

import (
	"encoding/json"
	"time"

	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("messages_created", "message:*", buntdb.IndexJSON("created_at"))
	if err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, err
	}
	return &BuntDBPersist{db: db}, nil
}

func mapBuntErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) setJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

func (p *BuntDBPersist) getJSON(key string, v interface{}) error {
	err := p.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), v)
	})
	return mapBuntErr(err)
}

func (p *BuntDBPersist) StoreMessage(msg *types.Message) error {
	if msg.Id == "" {
		msg.Id = newId()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = msg.CreatedAt
	return p.setJSON("message:"+msg.Id, msg)
}

func (p *BuntDBPersist) GetMessage(id string) (*types.Message, error) {
	msg := &types.Message{}
	if err := p.getJSON("message:"+id, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *BuntDBPersist) RoomHistory(roomId string, limit int) ([]*types.Message, error) {
	history := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		// ascend the created_at index and keep the room's messages
		return tx.Ascend("messages_created", func(key, val string) bool {
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err == nil && msg.RoomId == roomId {
				history = append(history, msg)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (p *BuntDBPersist) UpdateMessageText(id, text string, editedAt time.Time) error {
	msg, err := p.GetMessage(id)
	if err != nil {
		return err
	}
	msg.Text = text
	msg.UpdatedAt = editedAt
	return p.setJSON("message:"+id, msg)
}

func (p *BuntDBPersist) MarkMessageSeen(id, userId string) error {
	msg, err := p.GetMessage(id)
	if err != nil {
		return err
	}
	if msg.SeenByUser(userId) {
		return nil
	}
	msg.SeenBy = append(msg.SeenBy, userId)
	return p.setJSON("message:"+id, msg)
}

func (p *BuntDBPersist) DeleteMessage(id string) error {
	err := p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("message:" + id)
		return err
	})
	return mapBuntErr(err)
}

func (p *BuntDBPersist) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	expired := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("messages_created", func(key, val string) bool {
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err != nil {
				return true
			}
			if !msg.CreatedAt.Before(cutoff) {
				return false
			}
			expired = append(expired, key)
			return true
		})
	})
	if err != nil {
		return 0, err
	}
	err = p.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range expired {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (p *BuntDBPersist) StoreGroup(group *types.Group) error {
	if group.Id == "" {
		group.Id = newId()
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	return p.setJSON("group:"+group.Id, group)
}

func (p *BuntDBPersist) GetGroup(id string) (*types.Group, error) {
	group := &types.Group{}
	if err := p.getJSON("group:"+id, group); err != nil {
		return nil, err
	}
	return group, nil
}

func (p *BuntDBPersist) GetGroups() ([]*types.Group, error) {
	groups := make([]*types.Group, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("group:*", func(key, val string) bool {
			group := &types.Group{}
			if err := json.Unmarshal([]byte(val), group); err == nil {
				groups = append(groups, group)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (p *BuntDBPersist) AddGroupMember(groupId, userId string) (*types.Group, error) {
	group, err := p.GetGroup(groupId)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userId) {
		group.Members = append(group.Members, userId)
		group.UpdatedAt = time.Now()
		if err := p.setJSON("group:"+groupId, group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	return p.setJSON("user:"+user.Id, &user)
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return ErrNotFound
	}
	return p.getJSON("user:"+user.Id, user)
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			user := &types.User{}
			if err := json.Unmarshal([]byte(val), user); err == nil {
				users = append(users, user)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (p *BuntDBPersist) SetUserOnline(id string, online bool) error {
	user := &types.User{Id: id}
	if err := p.GetUser(user); err != nil {
		return err
	}
	user.Online = online
	if !online {
		user.LastOnline = time.Now()
	}
	return p.setJSON("user:"+id, user)
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
