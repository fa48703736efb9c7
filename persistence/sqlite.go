package persistence

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/types"
	_ "github.com/mattn/go-sqlite3"
)

type SQLitePersist struct {
	db *sql.DB
	sync.RWMutex
}

func NewSQLitePersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLiteDB(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLitePersist{db: db}, nil
}

func setupSQLiteDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
name TEXT DEFAULT "" NOT NULL,
profile_pic TEXT DEFAULT "" NOT NULL,
online INTEGER DEFAULT 0 NOT NULL,
last_online INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
created_by TEXT NOT NULL,
members TEXT DEFAULT "[]" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL,
updated INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
sender_id TEXT NOT NULL,
text TEXT NOT NULL,
seen_by TEXT DEFAULT "[]" NOT NULL,
created INTEGER DEFAULT 0 NOT NULL,
updated INTEGER DEFAULT 0 NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room_id, created);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func mapSQLErr(err error) error {
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (p *SQLitePersist) StoreMessage(msg *types.Message) error {
	p.Lock()
	defer p.Unlock()
	if msg.Id == "" {
		msg.Id = newId()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.UpdatedAt = msg.CreatedAt
	seenBy, err := json.Marshal(msg.SeenBy)
	if err != nil {
		return err
	}
	query := `INSERT INTO messages (id,room_id,sender_id,text,seen_by,created,updated) VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err = p.db.Exec(query, msg.Id, msg.RoomId, msg.SenderId, msg.Text, string(seenBy), msg.CreatedAt.UnixNano(), msg.UpdatedAt.UnixNano())
	return err
}

func scanMessage(scan func(...interface{}) error) (*types.Message, error) {
	msg := &types.Message{}
	var seenByRaw string
	var created, updated int64
	if err := scan(&msg.Id, &msg.RoomId, &msg.SenderId, &msg.Text, &seenByRaw, &created, &updated); err != nil {
		return nil, err
	}
	seenBy := make([]string, 0)
	_ = json.Unmarshal([]byte(seenByRaw), &seenBy)
	msg.SeenBy = seenBy
	msg.CreatedAt = time.Unix(0, created)
	msg.UpdatedAt = time.Unix(0, updated)
	return msg, nil
}

func (p *SQLitePersist) GetMessage(id string) (*types.Message, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,room_id,sender_id,text,seen_by,created,updated FROM messages WHERE id=$1;`
	msg, err := scanMessage(p.db.QueryRow(query, id).Scan)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return msg, nil
}

func (p *SQLitePersist) RoomHistory(roomId string, limit int) ([]*types.Message, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,room_id,sender_id,text,seen_by,created,updated FROM messages WHERE room_id=$1 ORDER BY created ASC;`
	rows, err := p.db.Query(query, roomId)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	history := make([]*types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		history = append(history, msg)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

func (p *SQLitePersist) UpdateMessageText(id, text string, editedAt time.Time) error {
	p.Lock()
	defer p.Unlock()
	query := `UPDATE messages SET text=$2, updated=$3 WHERE id=$1;`
	res, err := p.db.Exec(query, id, text, editedAt.UnixNano())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLitePersist) MarkMessageSeen(id, userId string) error {
	msg, err := p.GetMessage(id)
	if err != nil {
		return err
	}
	if msg.SeenByUser(userId) {
		return nil
	}
	msg.SeenBy = append(msg.SeenBy, userId)
	seenBy, err := json.Marshal(msg.SeenBy)
	if err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()
	query := `UPDATE messages SET seen_by=$2 WHERE id=$1;`
	_, err = p.db.Exec(query, id, string(seenBy))
	return err
}

func (p *SQLitePersist) DeleteMessage(id string) error {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM messages WHERE id=$1;`
	res, err := p.db.Exec(query, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *SQLitePersist) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	p.Lock()
	defer p.Unlock()
	query := `DELETE FROM messages WHERE created < $1;`
	res, err := p.db.Exec(query, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *SQLitePersist) StoreGroup(group *types.Group) error {
	p.Lock()
	defer p.Unlock()
	if group.Id == "" {
		group.Id = newId()
	}
	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	members, err := json.Marshal(group.Members)
	if err != nil {
		return err
	}
	query := `INSERT INTO chat_groups (id,name,created_by,members,created,updated) VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, members=EXCLUDED.members, updated=EXCLUDED.updated;`
	_, err = p.db.Exec(query, group.Id, group.Name, group.CreatedBy, string(members), group.CreatedAt.UnixNano(), group.UpdatedAt.UnixNano())
	return err
}

func scanGroup(scan func(...interface{}) error) (*types.Group, error) {
	group := &types.Group{}
	var membersRaw string
	var created, updated int64
	if err := scan(&group.Id, &group.Name, &group.CreatedBy, &membersRaw, &created, &updated); err != nil {
		return nil, err
	}
	members := make([]string, 0)
	_ = json.Unmarshal([]byte(membersRaw), &members)
	group.Members = members
	group.CreatedAt = time.Unix(0, created)
	group.UpdatedAt = time.Unix(0, updated)
	return group, nil
}

func (p *SQLitePersist) GetGroup(id string) (*types.Group, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,name,created_by,members,created,updated FROM chat_groups WHERE id=$1;`
	group, err := scanGroup(p.db.QueryRow(query, id).Scan)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return group, nil
}

func (p *SQLitePersist) GetGroups() ([]*types.Group, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,name,created_by,members,created,updated FROM chat_groups ORDER BY created ASC;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	groups := make([]*types.Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (p *SQLitePersist) AddGroupMember(groupId, userId string) (*types.Group, error) {
	group, err := p.GetGroup(groupId)
	if err != nil {
		return nil, err
	}
	if group.HasMember(userId) {
		return group, nil
	}
	group.Members = append(group.Members, userId)
	group.UpdatedAt = time.Now()
	members, err := json.Marshal(group.Members)
	if err != nil {
		return nil, err
	}
	p.Lock()
	defer p.Unlock()
	query := `UPDATE chat_groups SET members=$2, updated=$3 WHERE id=$1;`
	if _, err := p.db.Exec(query, groupId, string(members), group.UpdatedAt.UnixNano()); err != nil {
		return nil, err
	}
	return group, nil
}

func (p *SQLitePersist) StoreUser(user types.User) error {
	p.Lock()
	defer p.Unlock()
	online := 0
	if user.Online {
		online = 1
	}
	query := `INSERT INTO users (id,name,profile_pic,online,last_online) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, profile_pic=EXCLUDED.profile_pic, online=EXCLUDED.online, last_online=EXCLUDED.last_online;`
	_, err := p.db.Exec(query, user.Id, user.Name, user.ProfilePic, online, user.LastOnline.Unix())
	return err
}

func (p *SQLitePersist) GetUser(user *types.User) error {
	p.RLock()
	defer p.RUnlock()
	var online int
	var lastOnline int64
	query := `SELECT name,profile_pic,online,last_online FROM users WHERE id=$1;`
	err := p.db.QueryRow(query, user.Id).Scan(&user.Name, &user.ProfilePic, &online, &lastOnline)
	if err != nil {
		return mapSQLErr(err)
	}
	user.Online = online != 0
	user.LastOnline = time.Unix(lastOnline, 0)
	return nil
}

func (p *SQLitePersist) GetUsers() ([]*types.User, error) {
	p.RLock()
	defer p.RUnlock()
	query := `SELECT id,name,profile_pic,online,last_online FROM users;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	users := make([]*types.User, 0)
	for rows.Next() {
		user := &types.User{}
		var online int
		var lastOnline int64
		if err := rows.Scan(&user.Id, &user.Name, &user.ProfilePic, &online, &lastOnline); err != nil {
			return nil, err
		}
		user.Online = online != 0
		user.LastOnline = time.Unix(lastOnline, 0)
		users = append(users, user)
	}
	return users, nil
}

func (p *SQLitePersist) SetUserOnline(id string, online bool) error {
	p.Lock()
	defer p.Unlock()
	o := 0
	lastOnline := int64(0)
	if online {
		o = 1
	} else {
		lastOnline = time.Now().Unix()
	}
	var err error
	if online {
		_, err = p.db.Exec(`UPDATE users SET online=$2 WHERE id=$1;`, id, o)
	} else {
		_, err = p.db.Exec(`UPDATE users SET online=$2, last_online=$3 WHERE id=$1;`, id, o, lastOnline)
	}
	return err
}

func (p *SQLitePersist) Close() error {
	p.Lock()
	defer p.Unlock()
	return p.db.Close()
}
