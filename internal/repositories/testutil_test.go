package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fluxchat/fluxchat/internal/models"
	"github.com/fluxchat/fluxchat/internal/storage"
)

// setupTestDB opens an in-memory SQLite database with the full schema.
// The pool is pinned to one connection so every query sees the same
// in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := storage.InitSQLite(":memory:")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

const testPassword = "password123"

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	repo := NewUserRepository(db, nil)
	user, err := repo.Register(username, testPassword, "")
	require.NoError(t, err)
	return user
}

func makeFriends(t *testing.T, db *gorm.DB, a, b uint) {
	t.Helper()
	require.NoError(t, NewFriendRepository(db).AddFriendship(a, b))
}
