package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	err := Initialize("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, GetLogger())

	// Second call is a no-op (sync.Once), not an error.
	err = Initialize("info", false)
	assert.NoError(t, err)
}

func TestGetLogger_BeforeInit(t *testing.T) {
	// Must never return nil, even before Initialize.
	assert.NotNil(t, GetLogger())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"verbose", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in).String(), "level %q", tt.in)
	}
}

func TestTruncateHash(t *testing.T) {
	assert.Equal(t, "abcdefgh…", TruncateHash("abcdefghijklmnop"))
	assert.Equal(t, "short", TruncateHash("short"))
	assert.Equal(t, "12345678", TruncateHash("12345678"))
	assert.Equal(t, "", TruncateHash(""))
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "cid-1")
	ctx = context.WithValue(ctx, ClientKeyKey, "203.0.113.9")
	ctx = context.WithValue(ctx, RoomHashKey, "abcdefghijklmnop")

	fields := appendContextFields(ctx, nil)

	keys := make(map[string]string)
	for _, f := range fields {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "cid-1", keys["correlation_id"])
	assert.Equal(t, "203.0.113.9", keys["client_key"])
	// Full hash must not appear in log fields.
	assert.Equal(t, "abcdefgh…", keys["room_hash"])
	assert.Equal(t, "relay", keys["service"])
}

func TestAppendContextFields_NilContext(t *testing.T) {
	assert.Empty(t, appendContextFields(nil, nil))
}
