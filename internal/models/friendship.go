package models

import (
	"time"
)

// Friendship 好友关系模型
//
// A friendship between A and B is stored as two rows: one in A's list and
// one in B's. Both rows are written and removed inside one transaction.
type Friendship struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_user_friend,priority:1" json:"user_id"`
	FriendID uint `gorm:"not null;uniqueIndex:idx_user_friend,priority:2" json:"friend_id"`

	CreatedAt time.Time `json:"created_at"`
}

func (Friendship) TableName() string {
	return "friendships"
}

// FriendInfo is the friends-list projection: friend identity plus live
// presence status from the users table.
type FriendInfo struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}
