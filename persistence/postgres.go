package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jkettu/huddle/config"
	"github.com/jkettu/huddle/types"
	_ "github.com/lib/pq"
)

type PostgresPersist struct {
	db *sql.DB
}

func NewPostgresPersister(cfg *config.Config) (Persister, error) {
	db, err := setupPostgresDB(cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresPersist{db: db}, nil
}

func setupPostgresDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
name TEXT DEFAULT '' NOT NULL,
profile_pic TEXT DEFAULT '' NOT NULL,
online BOOLEAN DEFAULT false NOT NULL,
last_online TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
created_by TEXT NOT NULL,
members JSONB DEFAULT '[]'::jsonb NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
updated TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
room_id TEXT NOT NULL,
sender_id TEXT NOT NULL,
text TEXT NOT NULL,
seen_by JSONB DEFAULT '[]'::jsonb NOT NULL,
created TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL,
updated TIMESTAMP WITH TIME ZONE DEFAULT now() NOT NULL
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

func (p *PostgresPersist) StoreMessage(msg *types.Message) error {
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
	_, err = p.db.Exec(query, msg.Id, msg.RoomId, msg.SenderId, msg.Text, string(seenBy), msg.CreatedAt, msg.UpdatedAt)
	return err
}

func pgScanMessage(scan func(...interface{}) error) (*types.Message, error) {
	msg := &types.Message{}
	var seenByRaw string
	if err := scan(&msg.Id, &msg.RoomId, &msg.SenderId, &msg.Text, &seenByRaw, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return nil, err
	}
	seenBy := make([]string, 0)
	_ = json.Unmarshal([]byte(seenByRaw), &seenBy)
	msg.SeenBy = seenBy
	return msg, nil
}

func (p *PostgresPersist) GetMessage(id string) (*types.Message, error) {
	query := `SELECT id,room_id,sender_id,text,seen_by,created,updated FROM messages WHERE id=$1;`
	msg, err := pgScanMessage(p.db.QueryRow(query, id).Scan)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return msg, nil
}

func (p *PostgresPersist) RoomHistory(roomId string, limit int) ([]*types.Message, error) {
	query := `SELECT id,room_id,sender_id,text,seen_by,created,updated FROM messages WHERE room_id=$1 ORDER BY created ASC;`
	rows, err := p.db.Query(query, roomId)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	history := make([]*types.Message, 0)
	for rows.Next() {
		msg, err := pgScanMessage(rows.Scan)
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

func (p *PostgresPersist) UpdateMessageText(id, text string, editedAt time.Time) error {
	query := `UPDATE messages SET text=$2, updated=$3 WHERE id=$1;`
	res, err := p.db.Exec(query, id, text, editedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresPersist) MarkMessageSeen(id, userId string) error {
	// append-if-absent on the jsonb array
	query := `UPDATE messages SET seen_by = seen_by || to_jsonb($2::text) WHERE id=$1 AND NOT seen_by ? $2;`
	_, err := p.db.Exec(query, id, userId)
	return err
}

func (p *PostgresPersist) DeleteMessage(id string) error {
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

func (p *PostgresPersist) DeleteMessagesBefore(cutoff time.Time) (int, error) {
	query := `DELETE FROM messages WHERE created < $1;`
	res, err := p.db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *PostgresPersist) StoreGroup(group *types.Group) error {
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
	_, err = p.db.Exec(query, group.Id, group.Name, group.CreatedBy, string(members), group.CreatedAt, group.UpdatedAt)
	return err
}

func pgScanGroup(scan func(...interface{}) error) (*types.Group, error) {
	group := &types.Group{}
	var membersRaw string
	if err := scan(&group.Id, &group.Name, &group.CreatedBy, &membersRaw, &group.CreatedAt, &group.UpdatedAt); err != nil {
		return nil, err
	}
	members := make([]string, 0)
	_ = json.Unmarshal([]byte(membersRaw), &members)
	group.Members = members
	return group, nil
}

func (p *PostgresPersist) GetGroup(id string) (*types.Group, error) {
	query := `SELECT id,name,created_by,members,created,updated FROM chat_groups WHERE id=$1;`
	group, err := pgScanGroup(p.db.QueryRow(query, id).Scan)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return group, nil
}

func (p *PostgresPersist) GetGroups() ([]*types.Group, error) {
	query := `SELECT id,name,created_by,members,created,updated FROM chat_groups ORDER BY created ASC;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	groups := make([]*types.Group, 0)
	for rows.Next() {
		group, err := pgScanGroup(rows.Scan)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (p *PostgresPersist) AddGroupMember(groupId, userId string) (*types.Group, error) {
	query := `UPDATE chat_groups SET members = members || to_jsonb($2::text), updated = now() WHERE id=$1 AND NOT members ? $2;`
	if _, err := p.db.Exec(query, groupId, userId); err != nil {
		return nil, err
	}
	return p.GetGroup(groupId)
}

func (p *PostgresPersist) StoreUser(user types.User) error {
	query := `INSERT INTO users (id,name,profile_pic,online,last_online) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, profile_pic=EXCLUDED.profile_pic, online=EXCLUDED.online, last_online=EXCLUDED.last_online;`
	_, err := p.db.Exec(query, user.Id, user.Name, user.ProfilePic, user.Online, user.LastOnline)
	return err
}

func (p *PostgresPersist) GetUser(user *types.User) error {
	query := `SELECT name,profile_pic,online,last_online FROM users WHERE id=$1;`
	err := p.db.QueryRow(query, user.Id).Scan(&user.Name, &user.ProfilePic, &user.Online, &user.LastOnline)
	return mapSQLErr(err)
}

func (p *PostgresPersist) GetUsers() ([]*types.User, error) {
	query := `SELECT id,name,profile_pic,online,last_online FROM users;`
	rows, err := p.db.Query(query)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	defer rows.Close()
	users := make([]*types.User, 0)
	for rows.Next() {
		user := &types.User{}
		if err := rows.Scan(&user.Id, &user.Name, &user.ProfilePic, &user.Online, &user.LastOnline); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (p *PostgresPersist) SetUserOnline(id string, online bool) error {
	var err error
	if online {
		_, err = p.db.Exec(`UPDATE users SET online=true WHERE id=$1;`, id)
	} else {
		_, err = p.db.Exec(`UPDATE users SET online=false, last_online=now() WHERE id=$1;`, id)
	}
	return err
}

func (p *PostgresPersist) Close() error {
	return p.db.Close()
}
