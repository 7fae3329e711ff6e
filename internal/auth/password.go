package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced before hashing.
const MinPasswordLength = 8

const defaultBcryptCost = 12

// PasswordHasher hashes and verifies passwords using bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given cost factor. Costs outside
// bcrypt's supported range fall back to the default.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = defaultBcryptCost
	}
	return PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of plaintext. Inputs shorter than
// MinPasswordLength fail with ErrWeakPassword.
func (h PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	cost := h.cost
	if cost == 0 {
		cost = defaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext against a stored hash. bcrypt's comparison is
// constant time over the derived key.
func (h PasswordHasher) Verify(storedHash, plaintext string) error {
	if storedHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
