package models

import (
	"time"
)

// Invitation status values. A pending invitation moves to exactly one of
// the other states and is terminal afterwards.
const (
	InvitationPending   = "pending"
	InvitationAccepted  = "accepted"
	InvitationRejected  = "rejected"
	InvitationCancelled = "cancelled"
)

// Invitation 好友邀请模型
//
// A single row is the source of truth for one logical invitation; both the
// sender's "sent" view and the receiver's "received" view are projections
// of the same row, correlated by its primary key.
type Invitation struct {
	ID           uint   `gorm:"primaryKey" json:"request_id"`
	SenderID     uint   `gorm:"not null;index" json:"sender_id"`
	ReceiverID   uint   `gorm:"not null;index" json:"receiver_id"`
	SenderName   string `gorm:"not null" json:"sender_name"`
	ReceiverName string `gorm:"not null" json:"receiver_name"`
	Status       string `gorm:"default:pending;index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

func (Invitation) TableName() string {
	return "invitations"
}
