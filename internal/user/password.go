package user

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns a plaintext password into an opaque hash.
type PasswordHasher interface {
	Hash(pw string) (string, error)
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
