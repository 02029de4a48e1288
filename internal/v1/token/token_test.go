package token

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ShapeAndEntropy(t *testing.T) {
	tok := New()

	// 16 bytes -> 22 chars of raw base64url
	assert.Len(t, tok, 22)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, TokenBytes)
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok := New()
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token minted: %s", tok)
		seen[tok] = struct{}{}
	}
}

func TestNew_URLSafe(t *testing.T) {
	for i := 0; i < 100; i++ {
		tok := New()
		assert.NotContains(t, tok, "+")
		assert.NotContains(t, tok, "/")
		assert.NotContains(t, tok, "=")
	}
}

func TestEqual(t *testing.T) {
	a := New()
	b := New()

	assert.True(t, Equal(a, a))
	assert.False(t, Equal(a, b))
	assert.False(t, Equal(a, ""))
	assert.False(t, Equal(a, a[:21]))
	assert.True(t, Equal("", ""))
}
