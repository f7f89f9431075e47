package models

import (
	"time"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

// ValidStatus reports whether s is one of the known presence states.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// User 用户模型
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Username     string `gorm:"column:username;uniqueIndex;not null" json:"username"`
	Email        string `json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	Status       string `gorm:"default:offline" json:"status"` // online, offline, away, busy

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func (User) TableName() string {
	return "users"
}
