// ABOUTME: Tests for the NaCl secretbox token sealer
// ABOUTME: Covers key validation, round trips, tampering and nil-sealer passthrough

package store

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(b), 32)))
}

func TestNewTokenSealer(t *testing.T) {
	t.Run("accepts a 32 byte key", func(t *testing.T) {
		s, err := NewTokenSealer(testKey('a'))
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("rejects short keys", func(t *testing.T) {
		_, err := NewTokenSealer(base64.StdEncoding.EncodeToString([]byte("short")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32 bytes")
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		_, err := NewTokenSealer("!!not-base64!!")
		require.Error(t, err)
	})
}

func TestTokenSealer_RoundTrip(t *testing.T) {
	s, err := NewTokenSealer(testKey('a'))
	require.NoError(t, err)

	sealed, err := s.Seal("syt_token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))

	again, err := s.Seal("syt_token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "each seal uses a fresh nonce")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "syt_token", plain)
}

func TestTokenSealer_WrongKey(t *testing.T) {
	a, err := NewTokenSealer(testKey('a'))
	require.NoError(t, err)
	b, err := NewTokenSealer(testKey('b'))
	require.NoError(t, err)

	sealed, err := a.Seal("syt_token")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrTokenUnreadable)
}

func TestTokenSealer_Tampered(t *testing.T) {
	s, err := NewTokenSealer(testKey('a'))
	require.NoError(t, err)

	_, err = s.Open(sealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrTokenUnreadable)

	_, err = s.Open(sealedPrefix + "%%%")
	assert.ErrorIs(t, err, ErrTokenUnreadable)
}

func TestTokenSealer_Nil(t *testing.T) {
	var s *TokenSealer

	sealed, err := s.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	plain, err := s.Open("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", plain)

	_, err = s.Open(sealedPrefix + "abc")
	assert.ErrorIs(t, err, ErrTokenUnreadable)
}
