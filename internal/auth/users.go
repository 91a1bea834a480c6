// ABOUTME: Operator accounts checked with bcrypt password hashes
// ABOUTME: Unknown users cost the same bcrypt comparison as wrong passwords

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for an unknown user or a wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// placeholderHash is compared against when the user does not exist.
var placeholderHash, _ = bcrypt.GenerateFromPassword([]byte("relayhub-placeholder"), bcrypt.DefaultCost)

// Users maps usernames to bcrypt hashes.
type Users map[string]string

// Authenticate checks a username and password.
func (u Users) Authenticate(username, password string) error {
	hash, ok := u[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(placeholderHash, []byte(password))
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the auth.users config section.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
