// ABOUTME: Optional at-rest encryption of bot tokens using NaCl secretbox
// ABOUTME: A nil sealer stores tokens as given; sealed values carry a version prefix

package store

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sbx1:"

// ErrTokenUnreadable is returned when a sealed token cannot be opened with the configured key.
var ErrTokenUnreadable = errors.New("sealed token cannot be opened")

// TokenSealer encrypts tokens before they reach the database.
type TokenSealer struct {
	key [32]byte
}

// NewTokenSealer creates a sealer from a base64-encoded 32 byte key.
func NewTokenSealer(encodedKey string) (*TokenSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("decoding token key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("token key must be 32 bytes, got %d", len(raw))
	}
	s := &TokenSealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal encrypts token. A nil sealer returns the token unchanged.
func (s *TokenSealer) Seal(token string) (string, error) {
	if s == nil {
		return token, nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(token), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as stored,
// so a key can be introduced on a database that already holds plain tokens.
func (s *TokenSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", ErrTokenUnreadable
	}
	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", ErrTokenUnreadable
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", ErrTokenUnreadable
	}
	return string(plain), nil
}
