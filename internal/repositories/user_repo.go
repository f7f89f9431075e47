package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/fluxchat/fluxchat/internal/models"
	"github.com/fluxchat/fluxchat/pkg/utils"
)

const (
	userCacheKeyPrefix = "user:info:" // Redis String, 值是 user JSON
	userCacheTTL       = 1 * time.Hour
)

// UserRepository 用户仓储
type UserRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserRepository(db *gorm.DB, redis *redis.Client) *UserRepository {
	return &UserRepository{db: db, redis: redis}
}

// Authenticate verifies a credential pair and, on success, marks the user
// online and stamps last_login in one transaction. Unknown usernames and
// wrong passwords both return ErrInvalidCredentials so that the response
// shape never leaks account existence. A failed attempt mutates nothing.
func (r *UserRepository) Authenticate(username, password string) (*models.User, error) {
	var user models.User
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidCredentials
			}
			return err
		}
		if !utils.CheckPassword(user.PasswordHash, password) {
			return ErrInvalidCredentials
		}

		now := time.Now()
		res := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]any{"status": models.StatusOnline, "last_login": now})
		if res.Error != nil {
			return res.Error
		}
		user.Status = models.StatusOnline
		user.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidateCache(user.ID)
	return &user, nil
}

// Register validates the credential shape and creates the user. Duplicate
// usernames are rejected before the insert.
func (r *UserRepository) Register(username, password, email string) (*models.User, error) {
	if !utils.ValidateUsername(username) {
		return nil, ErrInvalidUsername
	}
	if !utils.ValidatePassword(password) {
		return nil, ErrInvalidPassword
	}
	if !utils.ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       models.StatusOffline,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID 根据 ID 获取用户 (带缓存)
func (r *UserRepository) GetByID(id uint) (*models.User, error) {
	if r.redis != nil {
		key := fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
		val, err := r.redis.Get(context.Background(), key).Result()
		if err == nil {
			var user models.User
			if json.Unmarshal([]byte(val), &user) == nil {
				return &user, nil
			}
		}
	}

	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// 回填 Redis
	if r.redis != nil {
		key := fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
		if data, err := json.Marshal(&user); err == nil {
			r.redis.Set(context.Background(), key, data, userCacheTTL)
		}
	}

	return &user, nil
}

// GetByUsername 根据用户名获取用户
func (r *UserRepository) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetStatus returns the stored presence status for one user.
func (r *UserRepository) GetStatus(id uint) (string, error) {
	user, err := r.GetByID(id)
	if err != nil {
		return "", err
	}
	return user.Status, nil
}

// UpdateStatus 更新用户状态 (同时清除缓存)
func (r *UserRepository) UpdateStatus(id uint, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("unknown status %q", status)
	}
	updates := map[string]any{"status": status}
	if status == models.StatusOnline {
		updates["last_login"] = time.Now()
	}
	res := r.db.Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}

	r.invalidateCache(id)
	return nil
}

// SearchUsers finds users whose username contains the query, excluding the
// caller. Results are capped; an empty query matches nobody.
func (r *UserRepository) SearchUsers(query string, excludeID uint) ([]models.User, error) {
	if query == "" {
		return nil, nil
	}
	var users []models.User
	err := r.db.
		Where("username LIKE ?", "%"+query+"%").
		Where("id <> ?", excludeID).
		Order("username").
		Limit(50).
		Find(&users).Error
	return users, err
}

// ExistsByID 检查用户是否存在
func (r *UserRepository) ExistsByID(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) invalidateCache(id uint) {
	if r.redis == nil {
		return
	}
	key := fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
	r.redis.Del(context.Background(), key)
}
