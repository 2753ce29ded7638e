package models

import "time"

// User owns instances and sync groups. Passwords are stored bcrypt-hashed.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SyncGroup is a set of instances whose albums are kept in sync.
type SyncGroup struct {
	ID           int64      `json:"id"`
	Label        string     `json:"label"`
	OwnerID      int64      `json:"ownerId"`
	ScheduleTime string     `json:"scheduleTime"` // "HH:MM" in UTC
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Expired reports whether the group's expiration has passed at the given time.
// Groups without an expiration never expire.
func (g SyncGroup) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// GroupMember links a user to a sync group.
type GroupMember struct {
	ID       int64     `json:"id"`
	GroupID  int64     `json:"groupId"`
	UserID   int64     `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Instance is one member photo server and its target album within a group.
type Instance struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"userId"`
	GroupID        int64  `json:"groupId"`
	Label          string `json:"label"`
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"-"`
	AlbumID        string `json:"albumId"`
	SizeLimitBytes int64  `json:"sizeLimitBytes"`
	Active         bool   `json:"active"`
}

// GroupWithInstances is the read model consumed by the scheduler and trigger path.
type GroupWithInstances struct {
	Group     SyncGroup  `json:"group"`
	Instances []Instance `json:"instances"`
}
