package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrUnauthenticated is returned when a supplied password does not match.
var ErrUnauthenticated = errors.New("invalid password")

// PasswordGate checks a shared site password. The zero value and a gate
// built from an empty password admit every request.
type PasswordGate struct {
	hash    [32]byte
	enabled bool
}

// NewPasswordGate returns a gate for password. An empty password disables
// the check.
func NewPasswordGate(password string) *PasswordGate {
	if password == "" {
		return &PasswordGate{}
	}
	return &PasswordGate{
		hash:    sha256.Sum256([]byte(password)),
		enabled: true,
	}
}

// Enabled reports whether a password is required.
func (g *PasswordGate) Enabled() bool {
	return g != nil && g.enabled
}

// Check returns nil if pass is accepted and ErrUnauthenticated otherwise.
func (g *PasswordGate) Check(pass string) error {
	if !g.Enabled() {
		return nil
	}
	h := sha256.Sum256([]byte(pass))
	if subtle.ConstantTimeCompare(h[:], g.hash[:]) != 1 {
		return ErrUnauthenticated
	}
	return nil
}
