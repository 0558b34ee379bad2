package reqcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"UUID format", "a1b2c3d4-e5f6-7890-abcd-ef1234567890", true},
		{"With underscores", "request_123_abc", true},
		{"Max length", strings.Repeat("a", 256), true},
		{"Empty string", "", false},
		{"Too long", strings.Repeat("a", 257), false},
		{"Contains space", "request 123", false},
		{"Contains angle brackets", "<script>", false},
		{"Contains dot", "file.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidRequestID(tt.id))
		})
	}
}

func TestGetOrGenerateRequestID(t *testing.T) {
	assert.Equal(t, "client-id", GetOrGenerateRequestID("client-id"))

	generated := GetOrGenerateRequestID("bad id")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.NotEqual(t, generated, GetOrGenerateRequestID(""))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.NotNil(t, Logger(ctx))

	ctx = WithRequestID(ctx, "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))

	logger := zap.NewExample().Sugar()
	assert.Same(t, logger, Logger(WithLogger(ctx, logger)))
}
