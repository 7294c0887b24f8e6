package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// SecretHasher defines the app-credential hashing contract.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) error
}

// BcryptHasher implements SecretHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed hasher.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash converts a plain secret into a hash suitable for relay config.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare checks a presented secret against the stored hash.
func (h *BcryptHasher) Compare(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
