package model

import (
	"time"
)

// User is the subset of the external user aggregate this service reads.
type User struct {
	ID          int64      `db:"id" json:"id"`
	Username    string     `db:"username" json:"username"`
	DisplayName *string    `db:"display_name" json:"display_name"`
	AvatarURL   *string    `db:"avatar_url" json:"avatar_url"`
	IsOnline    bool       `db:"is_online" json:"is_online"`
	LastSeenAt  *time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// PresenceRecord is derived from registry transitions; never mutated on its own.
type PresenceRecord struct {
	UserID     int64      `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
}
