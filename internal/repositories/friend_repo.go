package repositories

import (
	"gorm.io/gorm"

	"github.com/fluxchat/fluxchat/internal/models"
)

// FriendRepository 好友关系仓储
type FriendRepository struct {
	db *gorm.DB
}

func NewFriendRepository(db *gorm.DB) *FriendRepository {
	return &FriendRepository{db: db}
}

// AddFriendship creates the mutual friendship (a row in each user's list)
// in a single transaction after verifying both users exist. Either insert
// failing rolls back the other.
func (r *FriendRepository) AddFriendship(a, b uint) error {
	if a == b {
		return ErrSelfInvitation
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("id IN ?", []uint{a, b}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return ErrUserNotFound
		}

		var existing int64
		if err := tx.Model(&models.Friendship{}).
			Where("user_id = ? AND friend_id = ?", a, b).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyFriends
		}

		if err := tx.Create(&models.Friendship{UserID: a, FriendID: b}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Friendship{UserID: b, FriendID: a}).Error
	})
}

// addFriendshipTx is AddFriendship's body for callers that already hold a
// transaction (invitation acceptance).
func addFriendshipTx(tx *gorm.DB, a, b uint) error {
	if err := tx.Create(&models.Friendship{UserID: a, FriendID: b}).Error; err != nil {
		return err
	}
	return tx.Create(&models.Friendship{UserID: b, FriendID: a}).Error
}

// RemoveFriend deletes both directions of the friendship in one
// transaction.
func (r *FriendRepository) RemoveFriend(a, b uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND friend_id = ?", a, b).Delete(&models.Friendship{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFriends
		}
		return tx.Where("user_id = ? AND friend_id = ?", b, a).Delete(&models.Friendship{}).Error
	})
}

// GetFriendsList 获取好友列表（含实时状态）
func (r *FriendRepository) GetFriendsList(userID uint) ([]models.FriendInfo, error) {
	var friends []models.FriendInfo
	err := r.db.Model(&models.Friendship{}).
		Select("users.id, users.username, users.status").
		Joins("INNER JOIN users ON users.id = friendships.friend_id").
		Where("friendships.user_id = ?", userID).
		Order("users.status, users.username").
		Scan(&friends).Error
	return friends, err
}

// IsFriend 检查好友关系是否存在
func (r *FriendRepository) IsFriend(userID, friendID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Count(&count).Error
	return count > 0, err
}
