package models

import (
	"time"
)

// ChatMessage 私聊消息模型
//
// One fixed table holds every conversation; a conversation is addressed by
// the canonicalized participant pair (UserLo, UserHi) so that both sides of
// a chat read and write the same rows regardless of who is asking.
type ChatMessage struct {
	// ID is a snowflake, assigned by the application, not the database.
	ID       int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserLo   uint       `gorm:"not null;index:idx_pair_sent,priority:1" json:"-"`
	UserHi   uint       `gorm:"not null;index:idx_pair_sent,priority:2" json:"-"`
	SenderID uint       `gorm:"not null;index" json:"sender_id"`
	Content  string     `gorm:"not null" json:"content"`
	SentAt   time.Time  `gorm:"index:idx_pair_sent,priority:3" json:"sent_at"`
	ReadAt   *time.Time `json:"read_at,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// PairKey canonicalizes an unordered participant pair, smaller id first.
// PairKey(a, b) == PairKey(b, a) for every pair.
func PairKey(a, b uint) (lo, hi uint) {
	if a <= b {
		return a, b
	}
	return b, a
}
