package repositories

import "errors"

// Sentinel errors surfaced to the session layer. The engine maps them to
// protocol error frames; anything else is treated as an internal storage
// failure, logged server-side and reported generically.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username format")
	ErrInvalidPassword    = errors.New("invalid password format")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrUserNotFound       = errors.New("user not found")
	ErrSelfInvitation     = errors.New("cannot invite yourself")
	ErrAlreadyFriends     = errors.New("users are already friends")
	ErrInvitationExists   = errors.New("invitation already exists")
	ErrNotPending         = errors.New("invitation is not pending")
	ErrNotFriends         = errors.New("users are not friends")
	ErrEmptyMessage       = errors.New("message content is empty")
)
