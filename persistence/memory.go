package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/jkettu/huddle/types"
)

// MemoryPersist keeps everything in process memory. It is the default
// backend when no persistence is configured and backs the test suites.
type MemoryPersist struct {
	mu       sync.RWMutex
	messages map[string]*types.Message
	groups   map[string]*types.Group
	users    map[string]types.User
	seq      map[string]int64 // message id -> insertion order, breaks created-at ties
	nextSeq  int64
}

func NewMemoryPersister() *MemoryPersist {
	return &MemoryPersist{
		messages: make(map[string]*types.Message),
		groups:   make(map[string]*types.Group),
		users:    make(map[string]types.User),
		seq:      make(map[string]int64),
	}
}

func copyMessage(msg *types.Message) *types.Message {
	cp := *msg
	cp.SeenBy = append([]string(nil), msg.SeenBy...)
	return &cp
}

func copyGroup(g *types.Group) *types.Group {
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	return &cp
}

func (p *MemoryPersist) StoreMessage(msg *types.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.Id == "" {
		msg.Id = newId()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = msg.CreatedAt
	p.nextSeq++
	p.seq[msg.Id] = p.nextSeq
	p.messages[msg.Id] = copyMessage(msg)
	return nil
}

func (p *MemoryPersist) GetMessage(id string) (*types.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg, ok := p.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

func (p *MemoryPersist) RoomHistory(roomId string, limit int) ([]*types.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	history := make([]*types.Message, 0)
	for _, msg := range p.messages {
		if msg.RoomId == roomId {
			history = append(history, copyMessage(msg))
		}
	}
	sort.Slice(history, func(i, j int) bool {
		if history[i].CreatedAt.Equal(history[j].CreatedAt) {
			return p.seq[history[i].Id] < p.seq[history[j].Id]
		}
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (p *MemoryPersist) UpdateMessageText(id, text string, editedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Text = text
	msg.UpdatedAt = editedAt
	return nil
}

func (p *MemoryPersist) MarkMessageSeen(id, userId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[id]
	if !ok {
		return ErrNotFound
	}
	if !msg.SeenByUser(userId) {
		msg.SeenBy = append(msg.SeenBy, userId)
	}
	return nil
}

func (p *MemoryPersist) DeleteMessage(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.messages[id]; !ok {
		return ErrNotFound
	}
	delete(p.messages, id)
	delete(p.seq, id)
	return nil
}

func (p *MemoryPersist) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for id, msg := range p.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(p.messages, id)
			delete(p.seq, id)
			count++
		}
	}
	return count, nil
}

func (p *MemoryPersist) StoreGroup(group *types.Group) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if group.Id == "" {
		group.Id = newId()
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	p.groups[group.Id] = copyGroup(group)
	return nil
}

func (p *MemoryPersist) GetGroup(id string) (*types.Group, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

func (p *MemoryPersist) GetGroups() ([]*types.Group, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	groups := make([]*types.Group, 0, len(p.groups))
	for _, g := range p.groups {
		groups = append(groups, copyGroup(g))
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CreatedAt.Before(groups[j].CreatedAt)
	})
	return groups, nil
}

func (p *MemoryPersist) AddGroupMember(groupId, userId string) (*types.Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[groupId]
	if !ok {
		return nil, ErrNotFound
	}
	if !g.HasMember(userId) {
		g.Members = append(g.Members, userId)
		g.UpdatedAt = time.Now()
	}
	return copyGroup(g), nil
}

func (p *MemoryPersist) StoreUser(user types.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[user.Id] = user
	return nil
}

func (p *MemoryPersist) GetUser(user *types.User) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[user.Id]
	if !ok {
		return ErrNotFound
	}
	*user = u
	return nil
}

func (p *MemoryPersist) GetUsers() ([]*types.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]*types.User, 0, len(p.users))
	for id := range p.users {
		u := p.users[id]
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
	return users, nil
}

func (p *MemoryPersist) SetUserOnline(id string, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Online = online
	if !online {
		u.LastOnline = time.Now()
	}
	p.users[id] = u
	return nil
}

func (p *MemoryPersist) Close() error {
	return nil
}
