package repositories

import (
	"errors"

	"gorm.io/gorm"

	"github.com/fluxchat/fluxchat/internal/models"
)

// InvitationRepository 好友邀请仓储
//
// One row is the source of truth for an invitation; sender and receiver
// views are projections of the same row, so every lifecycle transition is
// one guarded update keyed by the shared primary key.
type InvitationRepository struct {
	db *gorm.DB
}

func NewInvitationRepository(db *gorm.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Send creates a pending invitation from sender to receiver. Self-invites,
// unknown receivers, existing friendships and a pending invitation in
// either direction are all rejected before the insert.
func (r *InvitationRepository) Send(senderID, receiverID uint) (*models.Invitation, error) {
	if senderID == receiverID {
		return nil, ErrSelfInvitation
	}

	var inv models.Invitation
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var sender, receiver models.User
		if err := tx.First(&sender, senderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.First(&receiver, receiverID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var friends int64
		if err := tx.Model(&models.Friendship{}).
			Where("user_id = ? AND friend_id = ?", senderID, receiverID).
			Count(&friends).Error; err != nil {
			return err
		}
		if friends > 0 {
			return ErrAlreadyFriends
		}

		var pending int64
		if err := tx.Model(&models.Invitation{}).
			Where("status = ?", models.InvitationPending).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				senderID, receiverID, receiverID, senderID).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return ErrInvitationExists
		}

		inv = models.Invitation{
			SenderID:     senderID,
			ReceiverID:   receiverID,
			SenderName:   sender.Username,
			ReceiverName: receiver.Username,
			Status:       models.InvitationPending,
		}
		return tx.Create(&inv).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Accept transitions a pending invitation to accepted and establishes the
// mutual friendship, all in one transaction. Only the receiver of a still
// pending invitation may accept it; a second accept of the same request
// fails with ErrNotPending.
func (r *InvitationRepository) Accept(receiverID, requestID uint) (*models.Invitation, error) {
	var inv models.Invitation
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND receiver_id = ? AND status = ?", requestID, receiverID, models.InvitationPending).
			Update("status", models.InvitationAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		if err := tx.First(&inv, requestID).Error; err != nil {
			return err
		}
		return addFriendshipTx(tx, inv.SenderID, inv.ReceiverID)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Reject transitions a pending invitation to rejected. Receiver-only.
func (r *InvitationRepository) Reject(receiverID, requestID uint) (*models.Invitation, error) {
	return r.transition(requestID, models.InvitationRejected, "receiver_id", receiverID)
}

// Cancel transitions a pending invitation to cancelled. Sender-only.
func (r *InvitationRepository) Cancel(senderID, requestID uint) (*models.Invitation, error) {
	return r.transition(requestID, models.InvitationCancelled, "sender_id", senderID)
}

func (r *InvitationRepository) transition(requestID uint, status, ownerColumn string, ownerID uint) (*models.Invitation, error) {
	var inv models.Invitation
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND "+ownerColumn+" = ? AND status = ?", requestID, ownerID, models.InvitationPending).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotPending
		}
		return tx.First(&inv, requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListSent 获取用户发出的邀请
func (r *InvitationRepository) ListSent(userID uint) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := r.db.Where("sender_id = ?", userID).
		Order("created_at DESC").
		Find(&invitations).Error
	return invitations, err
}

// ListReceived 获取用户收到的邀请
func (r *InvitationRepository) ListReceived(userID uint) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := r.db.Where("receiver_id = ?", userID).
		Order("created_at DESC").
		Find(&invitations).Error
	return invitations, err
}
