package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("password does not match")

// bcryptCost trades hashing time against brute-force resistance. 12 keeps
// login under ~300ms on current hardware.
const bcryptCost = 12

// MinPasswordLength is enforced at registration
const MinPasswordLength = 8

// HashPassword returns the bcrypt hash of a plaintext password
func HashPassword(password string) (string, error) {
	if !IsPasswordValid(password) {
		return "", errors.New("password must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword compares a plaintext password against its stored hash
func VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

// IsPasswordValid reports whether a password meets the minimum length
func IsPasswordValid(password string) bool {
	return len(password) >= MinPasswordLength
}
