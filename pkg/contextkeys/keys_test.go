package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "req-1", ctx.Value(RequestIDKey))
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "request_id", RequestIDKey.String())
}
