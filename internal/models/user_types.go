package models

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleAdmin     = "admin"
	RoleSeller    = "vendedor"
	RoleWarehouse = "deposito"
)

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleSeller || r == RoleWarehouse
}

// User is a back-office account. Sellers are users with RoleSeller.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Password Helper
type Password struct {
	Plaintext *string
	Hash      string
}

func (p *Password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	p.Hash = string(hash)
	p.Plaintext = &plaintextPassword
	return nil
}

// IsLegacy reports a stored value that is not a bcrypt hash. Accounts
// imported from the previous system kept plaintext passwords.
func (p *Password) IsLegacy() bool {
	return !strings.HasPrefix(p.Hash, "$2")
}

func (p *Password) Matches(plaintextPassword string) (bool, error) {
	if p.IsLegacy() {
		return subtle.ConstantTimeCompare([]byte(p.Hash), []byte(plaintextPassword)) == 1, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(p.Hash), []byte(plaintextPassword))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
