package hash

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	cost      = 12
	minLength = 8
)

// ErrTooShort rejects passwords under the minimum length before any
// hashing work is done.
var ErrTooShort = errors.New("password must be at least 8 characters")

// Password derives a bcrypt hash from the plaintext password.
func Password(plain string) (string, error) {
	if len(plain) < minLength {
		return "", ErrTooShort
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares a stored bcrypt hash against a plaintext candidate.
func Verify(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
