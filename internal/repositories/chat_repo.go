package repositories

import (
	"time"

	"gorm.io/gorm"

	"github.com/fluxchat/fluxchat/internal/models"
	"github.com/fluxchat/fluxchat/pkg/snowflake"
)

// ChatRepository 私聊消息仓储
//
// Conversations live in one fixed table addressed by the canonicalized
// participant pair, so pagination, unread counts and read-marking are all
// plain indexed queries.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) pairScope(a, b uint) *gorm.DB {
	lo, hi := models.PairKey(a, b)
	return r.db.Model(&models.ChatMessage{}).Where("user_lo = ? AND user_hi = ?", lo, hi)
}

// StoreMessage persists one message for the (sender, receiver) pair.
// Durability comes first: the caller only acknowledges or delivers after
// this returns successfully.
func (r *ChatRepository) StoreMessage(senderID, receiverID uint, content string) (*models.ChatMessage, error) {
	if content == "" {
		return nil, ErrEmptyMessage
	}
	id, err := snowflake.Next()
	if err != nil {
		return nil, err
	}
	lo, hi := models.PairKey(senderID, receiverID)
	msg := &models.ChatMessage{
		ID:       id,
		UserLo:   lo,
		UserHi:   hi,
		SenderID: senderID,
		Content:  content,
		SentAt:   time.Now(),
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("id IN ?", []uint{senderID, receiverID}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return ErrUserNotFound
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetChatHistory returns one page of a conversation, newest first.
func (r *ChatRepository) GetChatHistory(a, b uint, limit, offset int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.pairScope(a, b).
		Order("sent_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

// HasMoreHistory reports whether the conversation holds rows beyond
// offset+limit.
func (r *ChatRepository) HasMoreHistory(a, b uint, offset, limit int) (bool, error) {
	var total int64
	if err := r.pairScope(a, b).Count(&total).Error; err != nil {
		return false, err
	}
	return total > int64(offset+limit), nil
}

// GetLatestMessages returns the most recent n messages in chronological
// order. Kept separate from paged history: the client renders these
// directly on chat open, oldest at the top.
func (r *ChatRepository) GetLatestMessages(a, b uint, n int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.pairScope(a, b).
		Order("sent_at DESC, id DESC").
		Limit(n).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// 反转为时间正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkChatAsRead marks, in one statement, every message in the pair's
// conversation that was not authored by the reader and is still unread.
func (r *ChatRepository) MarkChatAsRead(readerID, friendID uint) error {
	lo, hi := models.PairKey(readerID, friendID)
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.ChatMessage{}).
			Where("user_lo = ? AND user_hi = ?", lo, hi).
			Where("sender_id <> ?", readerID).
			Where("read_at IS NULL").
			Update("read_at", time.Now()).Error
	})
}

// UnreadPartners returns, per counterpart, how many of their messages to
// userID are still unread. Feeds the unread_from push sent right after
// login.
func (r *ChatRepository) UnreadPartners(userID uint) (map[uint]int64, error) {
	type row struct {
		SenderID uint
		Count    int64
	}
	var rows []row
	err := r.db.Model(&models.ChatMessage{}).
		Select("sender_id, COUNT(*) AS count").
		Where("(user_lo = ? OR user_hi = ?)", userID, userID).
		Where("sender_id <> ?", userID).
		Where("read_at IS NULL").
		Group("sender_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[uint]int64, len(rows))
	for _, r := range rows {
		result[r.SenderID] = r.Count
	}
	return result, nil
}
