package repositories

import (
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Set bundles the repositories one session works with.
type Set struct {
	Users       *UserRepository
	Chats       *ChatRepository
	Friends     *FriendRepository
	Invitations *InvitationRepository

	db    *gorm.DB
	redis *redis.Client
}

// NewSet builds the template repository set over a shared database handle.
func NewSet(db *gorm.DB, rdb *redis.Client) *Set {
	return &Set{
		Users:       NewUserRepository(db, rdb),
		Chats:       NewChatRepository(db),
		Friends:     NewFriendRepository(db),
		Invitations: NewInvitationRepository(db),
		db:          db,
		redis:       rdb,
	}
}

// Clone derives a repository set for a single session. The clone carries
// its own gorm session over the shared pool, so per-session statement
// state never leaks between connections.
func (s *Set) Clone() *Set {
	db := s.db.Session(&gorm.Session{NewDB: true})
	return NewSet(db, s.redis)
}
