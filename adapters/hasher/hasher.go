// Package hasher hashes and verifies the admin token.
package hasher

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/xancrypt/xancrypt/ports"
)

// MaxTokenLen is the longest token bcrypt can hash without truncating.
const MaxTokenLen = 72

// ErrTokenTooLong is returned by Hash for tokens over MaxTokenLen bytes.
var ErrTokenTooLong = fmt.Errorf("token exceeds %d bytes", MaxTokenLen)

// Bcrypt hashes admin tokens with bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a hasher using cost, or bcrypt.DefaultCost when cost is
// outside bcrypt's range.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	if len(token) > MaxTokenLen {
		return nil, ErrTokenTooLong
	}
	return bcrypt.GenerateFromPassword([]byte(token), h.cost)
}

// Compare reports whether token matches hash. Hashes pasted into env files
// often carry a trailing newline, so surrounding whitespace is ignored.
func (h *Bcrypt) Compare(hash []byte, token string) bool {
	hash = bytes.TrimSpace(hash)
	if len(hash) == 0 || token == "" || len(token) > MaxTokenLen {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// Fake stores tokens in the clear. Tests only.
type Fake struct{}

func (Fake) Hash(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	return []byte(token), nil
}

func (Fake) Compare(hash []byte, token string) bool {
	return token != "" && string(bytes.TrimSpace(hash)) == token
}

// Ensure interface compliance.
var (
	_ ports.Hasher = (*Bcrypt)(nil)
	_ ports.Hasher = Fake{}
)
