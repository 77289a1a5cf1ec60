package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"claimreg/pkg/domain"
)

func TestCaller(t *testing.T) {
	_, ok := Caller(context.Background())
	assert.False(t, ok, "missing caller")

	_, ok = Caller(WithCaller(context.Background(), domain.AccountID{}))
	assert.False(t, ok, "nil caller is treated as missing")

	id := domain.AccountID(uuid.New())
	got, ok := Caller(WithCaller(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestRequestMetadata(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientMetadata(ctx, "10.0.0.1", "Firefox 120.0 (Linux)")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "Firefox 120.0 (Linux)", UserAgent(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestNow(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
