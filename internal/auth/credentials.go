package auth

import (
	"crypto/subtle"
	"errors"

	"geogate/internal/support"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminNotConfigured = errors.New("admin credentials not configured")
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckAdminCredentials compares against ADMIN_USERNAME and the bcrypt hash
// in ADMIN_PASSWORD_HASH.
func CheckAdminCredentials(username, password string) error {
	expectedUser := support.GetEnv("ADMIN_USERNAME", "admin")
	hash := support.GetEnv("ADMIN_PASSWORD_HASH", "")
	if hash == "" {
		return ErrAdminNotConfigured
	}

	userMatches := subtle.ConstantTimeCompare([]byte(username), []byte(expectedUser)) == 1
	if !CheckPasswordHash(password, hash) || !userMatches {
		return ErrInvalidCredentials
	}
	return nil
}
