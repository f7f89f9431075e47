package repositories

import (
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxchat/fluxchat/internal/models"
)

func TestUserRepository_Register(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)

	user, err := repo.Register("test1", "password123", "test1@example.com")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "test1", user.Username)
	assert.Equal(t, models.StatusOffline, user.Status)
	assert.NotEqual(t, "password123", user.PasswordHash)
}

func TestUserRepository_Register_Validation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)

	tests := []struct {
		name     string
		username string
		password string
		email    string
		wantErr  error
	}{
		{"username too short", "ab", "password123", "", ErrInvalidUsername},
		{"username with spaces", "bad name", "password123", "", ErrInvalidUsername},
		{"password too short", "test1", "pw", "", ErrInvalidPassword},
		{"bad email", "test1", "password123", "not-an-email", ErrInvalidEmail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Register(tt.username, tt.password, tt.email)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUserRepository_Register_DuplicateUsername(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)

	_, err := repo.Register("test1", "password123", "")
	require.NoError(t, err)

	_, err = repo.Register("test1", "otherpassword", "")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestUserRepository_Authenticate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)
	created := createUser(t, db, "test1")

	// Authenticating twice succeeds both times and both set online.
	for range 2 {
		user, err := repo.Authenticate("test1", testPassword)
		require.NoError(t, err)
		assert.Equal(t, created.ID, user.ID)
		assert.Equal(t, models.StatusOnline, user.Status)
		require.NotNil(t, user.LastLogin)

		stored, err := repo.GetByID(created.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOnline, stored.Status)

		require.NoError(t, repo.UpdateStatus(created.ID, models.StatusOffline))
	}
}

// Unknown user and wrong password are indistinguishable, and a failed
// attempt never mutates stored state.
func TestUserRepository_Authenticate_Failures(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)
	created := createUser(t, db, "test1")

	_, errUnknown := repo.Authenticate("nosuchuser", testPassword)
	_, errWrongPw := repo.Authenticate("test1", "wrongpassword")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrongPw, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrongPw.Error())

	stored, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, stored.Status)
	assert.Nil(t, stored.LastLogin)
}

func TestUserRepository_UpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)
	created := createUser(t, db, "test1")

	require.NoError(t, repo.UpdateStatus(created.ID, models.StatusAway))
	status, err := repo.GetStatus(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAway, status)

	assert.Error(t, repo.UpdateStatus(created.ID, "invisible"))
	assert.ErrorIs(t, repo.UpdateStatus(99999, models.StatusAway), ErrUserNotFound)
}

func TestUserRepository_SearchUsers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db, nil)

	alice := createUser(t, db, "alice")
	createUser(t, db, "alicia")
	createUser(t, db, "bob")

	// The caller is excluded from their own search results.
	results, err := repo.SearchUsers("ali", alice.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alicia", results[0].Username)

	results, err = repo.SearchUsers("", alice.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = repo.SearchUsers("zzz", alice.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUserRepository_CacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	db := setupTestDB(t)
	repo := NewUserRepository(db, rdb)
	created := createUser(t, db, "test1")

	// First read populates the cache.
	_, err = repo.GetByID(created.ID)
	require.NoError(t, err)
	cacheKey := fmt.Sprintf("user:info:%d", created.ID)
	assert.True(t, mr.Exists(cacheKey))

	// A status change invalidates it so the next read is fresh.
	require.NoError(t, repo.UpdateStatus(created.ID, models.StatusBusy))
	assert.False(t, mr.Exists(cacheKey))

	user, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBusy, user.Status)
}
