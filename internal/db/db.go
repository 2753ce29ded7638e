// Package db is the durable store for users, sync groups, memberships and
// instances. The engine consumes it read-only during a run.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// DB represents a database connection
type DB struct {
	*sql.DB
}

// New opens (and if needed creates) the SQLite database at path.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sync_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			owner_id INTEGER NOT NULL REFERENCES users(id),
			schedule_time TEXT NOT NULL DEFAULT '00:00',
			active BOOLEAN NOT NULL DEFAULT 1,
			expires_at DATETIME,
			created_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS group_members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES sync_groups(id),
			user_id INTEGER NOT NULL REFERENCES users(id),
			joined_at DATETIME NOT NULL,
			UNIQUE (group_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			group_id INTEGER NOT NULL REFERENCES sync_groups(id),
			label TEXT NOT NULL,
			base_url TEXT NOT NULL,
			api_key TEXT NOT NULL,
			album_id TEXT NOT NULL,
			size_limit_bytes INTEGER NOT NULL DEFAULT 104857600,
			active BOOLEAN NOT NULL DEFAULT 1,
			UNIQUE (group_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_instances_group ON instances(group_id, active);
		CREATE INDEX IF NOT EXISTS idx_groups_active ON sync_groups(active);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA foreign_keys=ON;
	`)
	return err
}

// CreateUser inserts a user with an already-hashed password.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
	`, username, passwordHash, now)
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByUsername looks a user up by name.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("user %q: %w", username, err)
	}
	return u, nil
}

// CreateGroup inserts a sync group and returns it with its id assigned.
func (db *DB) CreateGroup(ctx context.Context, g models.SyncGroup) (models.SyncGroup, error) {
	if g.ScheduleTime == "" {
		g.ScheduleTime = "00:00"
	}
	g.CreatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_groups (label, owner_id, schedule_time, active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.Label, g.OwnerID, g.ScheduleTime, g.Active, nullableTime(g.ExpiresAt), g.CreatedAt)
	if err != nil {
		return models.SyncGroup{}, fmt.Errorf("create group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return models.SyncGroup{}, err
	}
	return g, nil
}

// GetGroup retrieves a group by id.
func (db *DB) GetGroup(ctx context.Context, id int64) (models.SyncGroup, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, label, owner_id, schedule_time, active, expires_at, created_at
		FROM sync_groups WHERE id = ?
	`, id)
	return scanGroup(row)
}

// ListGroupsForUser returns groups the user owns or is a member of.
func (db *DB) ListGroupsForUser(ctx context.Context, userID int64) ([]models.SyncGroup, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.label, g.owner_id, g.schedule_time, g.active, g.expires_at, g.created_at
		FROM sync_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.owner_id = ? OR m.user_id = ?
		ORDER BY g.id
	`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.SyncGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SetGroupActive flips a group's active flag.
func (db *DB) SetGroupActive(ctx context.Context, id int64, active bool) error {
	_, err := db.ExecContext(ctx, `UPDATE sync_groups SET active = ? WHERE id = ?`, active, id)
	return err
}

// AddMember adds a user to a group.
func (db *DB) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)
	`, groupID, userID, time.Now().UTC())
	return err
}

// ListGroupMembers returns a group's memberships in join order.
func (db *DB) ListGroupMembers(ctx context.Context, groupID int64) ([]models.GroupMember, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, group_id, user_id, joined_at FROM group_members
		WHERE group_id = ? ORDER BY id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateInstance inserts an instance and returns it with its id assigned.
func (db *DB) CreateInstance(ctx context.Context, inst models.Instance) (models.Instance, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO instances (user_id, group_id, label, base_url, api_key, album_id, size_limit_bytes, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.UserID, inst.GroupID, inst.Label, inst.BaseURL, inst.APIKey, inst.AlbumID, inst.SizeLimitBytes, inst.Active)
	if err != nil {
		return models.Instance{}, fmt.Errorf("create instance: %w", err)
	}
	inst.ID, err = res.LastInsertId()
	if err != nil {
		return models.Instance{}, err
	}
	return inst, nil
}

// ListGroupInstances returns the active instances of a group, ordered by id.
func (db *DB) ListGroupInstances(ctx context.Context, groupID int64) ([]models.Instance, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, group_id, label, base_url, api_key, album_id, size_limit_bytes, active
		FROM instances WHERE group_id = ? AND active = 1
		ORDER BY id
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []models.Instance
	for rows.Next() {
		var inst models.Instance
		err = rows.Scan(&inst.ID, &inst.UserID, &inst.GroupID, &inst.Label, &inst.BaseURL,
			&inst.APIKey, &inst.AlbumID, &inst.SizeLimitBytes, &inst.Active)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// SetInstanceActive flips an instance's active flag.
func (db *DB) SetInstanceActive(ctx context.Context, id int64, active bool) error {
	_, err := db.ExecContext(ctx, `UPDATE instances SET active = ? WHERE id = ?`, active, id)
	return err
}

// DeleteInstance removes an instance from its group.
func (db *DB) DeleteInstance(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	return err
}

// ListActiveGroups returns every active group with its active instances,
// the read model consumed by the scheduler.
func (db *DB) ListActiveGroups(ctx context.Context) ([]models.GroupWithInstances, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, label, owner_id, schedule_time, active, expires_at, created_at
		FROM sync_groups WHERE active = 1 ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupWithInstances
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, models.GroupWithInstances{Group: g})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		instances, err := db.ListGroupInstances(ctx, out[i].Group.ID)
		if err != nil {
			return nil, err
		}
		out[i].Instances = instances
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (models.SyncGroup, error) {
	var g models.SyncGroup
	var expires sql.NullTime
	err := row.Scan(&g.ID, &g.Label, &g.OwnerID, &g.ScheduleTime, &g.Active, &expires, &g.CreatedAt)
	if err != nil {
		return models.SyncGroup{}, fmt.Errorf("scan group: %w", err)
	}
	if expires.Valid {
		t := expires.Time
		g.ExpiresAt = &t
	}
	return g, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
