package utils

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// HashPassword hashes a password with bcrypt. The salt is generated by
// bcrypt and embedded in the resulting hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// ValidateUsername checks the username shape: 3-32 characters, letters,
// digits and underscores only.
func ValidateUsername(username string) bool {
	if len(username) < 3 || len(username) > 32 {
		return false
	}
	return usernamePattern.MatchString(username)
}

// ValidatePassword checks the password shape: at least 6 characters.
func ValidatePassword(password string) bool {
	return len(password) >= 6 && len(password) <= 128
}

// ValidateEmail checks the email format. An empty email is allowed since
// the field is optional at registration.
func ValidateEmail(email string) bool {
	if email == "" {
		return true
	}
	return emailPattern.MatchString(email)
}
