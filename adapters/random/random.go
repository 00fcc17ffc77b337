// Package random supplies secrets: JWT signing keys and admin tokens.
package random

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/xancrypt/xancrypt/ports"
)

// Real reads crypto/rand.
type Real struct{}

func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// String returns n characters of URL-safe base64, so tokens can go in
// headers, env files and shell arguments without quoting.
func (r Real) String(n int) (string, error) {
	return encode(r, n)
}

// Fake yields a predictable byte stream: each call continues from where
// the previous one stopped.
type Fake struct {
	mu   sync.Mutex
	next byte
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = f.next
		f.next++
	}
	return b, nil
}

func (f *Fake) String(n int) (string, error) {
	return encode(f, n)
}

func encode(r ports.Random, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	// 3 bytes encode to 4 characters.
	b, err := r.Bytes((n*3 + 3) / 4)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}

// Ensure interface compliance.
var (
	_ ports.Random = Real{}
	_ ports.Random = (*Fake)(nil)
)
